package runner

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/capability"
	"github.com/ppiankov/merklerun/internal/enforce"
	"github.com/ppiankov/merklerun/internal/seed"
	"github.com/ppiankov/merklerun/internal/target"
)

func exampleProgram(t *testing.T) target.Program {
	t.Helper()
	prog, ok := target.Lookup("example")
	if !ok {
		t.Fatal("example program not registered")
	}
	return prog
}

func TestRunIsDeterministic(t *testing.T) {
	t.Chdir(t.TempDir())
	prog := exampleProgram(t)

	var out1, out2 bytes.Buffer
	m1, err := Run(context.Background(), prog, "builtin:example", Options{Seed: 1337, Stdout: &out1})
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	m2, err := Run(context.Background(), prog, "builtin:example", Options{Seed: 1337, Stdout: &out2})
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}

	if m1.RootHash != m2.RootHash {
		t.Errorf("root hashes differ: %s vs %s", m1.RootHash, m2.RootHash)
	}
	if out1.String() != out2.String() {
		t.Errorf("outputs differ: %q vs %q", out1.String(), out2.String())
	}
	if m1.Env["run_id"] == m2.Env["run_id"] {
		t.Error("expected distinct run ids")
	}

	m3, err := Run(context.Background(), prog, "builtin:example", Options{Seed: 7})
	if err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if m3.RootHash == m1.RootHash {
		t.Error("different seed should change the root hash")
	}
}

func TestRunEventOrder(t *testing.T) {
	t.Chdir(t.TempDir())
	seeds := func() (*seed.Registry, *seed.Generators) {
		reg, gens := seed.Defaults()
		reg.Register(seed.Unavailable("numpy"))
		return reg, gens
	}

	var seen []string
	prog := target.ProgramFunc(func(ctx context.Context, p *target.Process) error {
		seen = p.Args
		return p.WriteFile("f.txt", []byte("x"), 0o644)
	})

	m, err := Run(context.Background(), prog, "builtin:t", Options{Seed: 1, Args: " a  b ", Seeds: seeds})
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(seen, []string{"builtin:t", "a", "b"}) {
		t.Errorf("process args = %v", seen)
	}

	kinds := m.Kinds()
	if kinds[0] != audit.KindRNGSeed {
		t.Errorf("first event = %s, want rng_seed", kinds[0])
	}
	begin, ok := m.Begin()
	if !ok {
		t.Fatal("no begin event")
	}
	if !reflect.DeepEqual(begin.Fields["args"], []string{"a", "b"}) {
		t.Errorf("begin args = %v", begin.Fields["args"])
	}
	if begin.Fields["target_path"] != "builtin:t" {
		t.Errorf("begin target_path = %v", begin.Fields["target_path"])
	}

	idx := indexOf(kinds, audit.KindBegin)
	if kinds[idx-1] != audit.KindRNGSeedSkip || m.Events[idx-1].Fields["lib"] != "numpy" {
		t.Errorf("event before begin = %s %v", kinds[idx-1], m.Events[idx-1].Fields)
	}
	tail := kinds[idx+1:]
	want := []audit.Kind{audit.KindFileOpen, audit.KindFileWriteClose, audit.KindEnd}
	if !reflect.DeepEqual(tail, want) {
		t.Errorf("events after begin = %v, want %v", tail, want)
	}
	end, _ := m.End()
	if end.Fields["status"] != "ok" {
		t.Errorf("end status = %v", end.Fields["status"])
	}
	if res := audit.VerifyChain(m); !res.Valid {
		t.Errorf("chain invalid: %s", res.Error)
	}
}

func TestRunTargetFailure(t *testing.T) {
	caps := capability.Real()
	prog := target.ProgramFunc(func(ctx context.Context, p *target.Process) error {
		return errors.New("boom")
	})

	m, err := Run(context.Background(), prog, "builtin:fail", Options{Caps: caps})

	var te *TargetError
	if !errors.As(err, &te) {
		t.Fatalf("expected TargetError, got %v", err)
	}
	if te.Recorded != "*errors.errorString: boom" {
		t.Errorf("recorded = %q", te.Recorded)
	}
	if m == nil {
		t.Fatal("manifest must be returned on target failure")
	}
	end, ok := m.End()
	if !ok || end.Fields["status"] != "exception" || end.Fields["error"] != te.Recorded {
		t.Errorf("end event = %v", end.Fields)
	}
	assertRestored(t, caps)
}

func TestRunPanicRestores(t *testing.T) {
	caps := capability.Real()
	prog := target.ProgramFunc(func(ctx context.Context, p *target.Process) error {
		panic("kaboom")
	})

	func() {
		defer func() {
			pe, ok := recover().(*PanicError)
			if !ok || pe.Value != "kaboom" {
				t.Fatalf("recovered %v, want *PanicError for kaboom", pe)
			}
			if pe.Manifest == nil {
				t.Fatal("panic must carry the finalized manifest")
			}
			end, ok := pe.Manifest.End()
			if !ok || end.Fields["status"] != "exception" || end.Fields["error"] != "panic: kaboom" {
				t.Errorf("end event = %v", end.Fields)
			}
			if res := audit.VerifyChain(pe.Manifest); !res.Valid {
				t.Errorf("manifest after panic fails chain check: %s", res.Error)
			}
		}()
		Run(context.Background(), prog, "builtin:panic", Options{Caps: caps})
	}()
	assertRestored(t, caps)

	ok := target.ProgramFunc(func(ctx context.Context, p *target.Process) error { return nil })
	if _, err := Run(context.Background(), ok, "builtin:ok", Options{}); err != nil {
		t.Fatalf("run after panic: %v", err)
	}
}

func TestRunDeniedNetwork(t *testing.T) {
	prog := target.ProgramFunc(func(ctx context.Context, p *target.Process) error {
		s := p.Socket()
		defer s.Close()
		return s.Connect(ctx, "example.com", 443)
	})

	m, err := Run(context.Background(), prog, "builtin:net", Options{AllowNet: false})
	if !errors.Is(err, enforce.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	kinds := m.Kinds()
	idx := indexOf(kinds, audit.KindNetBlock)
	if idx < 0 {
		t.Fatalf("no net_block event in %v", kinds)
	}
	if m.Events[idx].Fields["host"] != "example.com" || m.Events[idx].Fields["port"] != 443 {
		t.Errorf("net_block fields = %v", m.Events[idx].Fields)
	}
	if indexOf(kinds, audit.KindNetConnect) >= 0 {
		t.Error("denied connect must not record net_connect")
	}
	if m.AllowNet {
		t.Error("manifest allow_net = true")
	}
}

func assertRestored(t *testing.T, caps *capability.Set) {
	t.Helper()
	if _, ok := caps.FS.(capability.OS); !ok {
		t.Errorf("file capability not restored: %T", caps.FS)
	}
	if _, ok := caps.Net.(*capability.TCP); !ok {
		t.Errorf("network capability not restored: %T", caps.Net)
	}
	if _, ok := caps.Proc.(capability.Exec); !ok {
		t.Errorf("process capability not restored: %T", caps.Proc)
	}
}

func indexOf(kinds []audit.Kind, k audit.Kind) int {
	for i, kk := range kinds {
		if kk == k {
			return i
		}
	}
	return -1
}

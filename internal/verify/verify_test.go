package verify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/runner"
	"github.com/ppiankov/merklerun/internal/store"
	"github.com/ppiankov/merklerun/internal/target"
)

func writer(extra bool) target.Program {
	return target.ProgramFunc(func(ctx context.Context, p *target.Process) error {
		if err := p.WriteFile("a.txt", []byte("alpha "+strings.Join(p.Args[1:], ",")), 0o644); err != nil {
			return err
		}
		if extra {
			if err := p.WriteFile("extra.txt", []byte("x"), 0o644); err != nil {
				return err
			}
		}
		_, err := p.ReadFile("a.txt")
		return err
	})
}

func record(t *testing.T, prog target.Program, args string) *audit.Manifest {
	t.Helper()
	m, err := runner.Run(context.Background(), prog, "builtin:writer", runner.Options{Seed: 1337, Args: args})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return m
}

func TestVerifyAgreement(t *testing.T) {
	t.Chdir(t.TempDir())
	ref := record(t, writer(false), "one two")

	res, observed, err := Verify(context.Background(), writer(false), "builtin:writer", ref, Options{Seed: 1337})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Divergences) != 0 {
		t.Fatalf("expected agreement, got %+v", res.Divergences)
	}
	if res.ReferenceRoot != res.ObservedRoot || observed.RootHash != ref.RootHash {
		t.Errorf("roots differ: %s vs %s", res.ReferenceRoot, res.ObservedRoot)
	}
	begin, _ := observed.Begin()
	if got := begin.Fields["args"]; !Equal(got, []string{"one", "two"}) {
		t.Errorf("replayed args = %v", got)
	}
}

func TestVerifyAgainstLoadedReference(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "ref.json")
	if err := store.Save(path, record(t, writer(false), "x")); err != nil {
		t.Fatal(err)
	}
	ref, err := store.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	res, _, err := Verify(context.Background(), writer(false), "builtin:writer", ref, Options{Seed: 1337})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("loaded reference should verify, got %+v", res.Divergences)
	}
}

func TestVerifyLocalizesExtraFile(t *testing.T) {
	t.Chdir(t.TempDir())
	ref := record(t, writer(false), "")

	res, _, err := Verify(context.Background(), writer(true), "builtin:writer", ref, Options{Seed: 1337})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("expected mismatch")
	}

	begin := -1
	for i, e := range ref.Events {
		if e.Kind == audit.KindBegin {
			begin = i
		}
	}
	// reference: begin, file_open a, write_close a, file_open_read a, end
	// observed:  begin, file_open a, write_close a, file_open extra, ...
	want := begin + 3
	first := res.Divergences[0]
	if first.Index != want || first.Field != "kind" {
		t.Errorf("first divergence = %+v, want kind at %d", first, want)
	}
	last := res.Divergences[len(res.Divergences)-1]
	if last.Field != "length" || last.Index != len(ref.Events) {
		t.Errorf("last divergence = %+v, want length at %d", last, len(ref.Events))
	}
}

func TestVerifyReportsTargetFailure(t *testing.T) {
	ok := target.ProgramFunc(func(ctx context.Context, p *target.Process) error { return nil })
	ref := record(t, ok, "")
	failing := target.ProgramFunc(func(ctx context.Context, p *target.Process) error {
		return errors.New("broken")
	})

	res, _, err := Verify(context.Background(), failing, "builtin:writer", ref, Options{Seed: 1337})
	if err != nil {
		t.Fatal(err)
	}
	if res.TargetError != "*errors.errorString: broken" {
		t.Errorf("target error = %q", res.TargetError)
	}
}

func TestReplayArgsRequiresBegin(t *testing.T) {
	tests := []struct {
		name   string
		events []audit.Event
	}{
		{"no begin", []audit.Event{{Kind: audit.KindEnd, Fields: audit.Fields{"status": "ok"}}}},
		{"no args", []audit.Event{{Kind: audit.KindBegin, Fields: audit.Fields{"target_path": "t"}}}},
		{"bad args", []audit.Event{{Kind: audit.KindBegin, Fields: audit.Fields{"target_path": "t", "args": 5}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReplayArgs(&audit.Manifest{Events: tt.events})
			var fe *store.FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %v", err)
			}
		})
	}
}

func TestReplayArgsDecoded(t *testing.T) {
	m := &audit.Manifest{Events: []audit.Event{
		{Kind: audit.KindRNGSeed, Fields: audit.Fields{"lib": "x", "seed": 1}},
		{Kind: audit.KindBegin, Fields: audit.Fields{"target_path": "t", "args": []any{"a", "b"}}},
	}}
	got, err := ReplayArgs(m)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a b" {
		t.Errorf("args = %q", got)
	}
}

func TestCompareFieldDivergence(t *testing.T) {
	ev := func(kind audit.Kind, f audit.Fields) audit.Event { return audit.Event{Kind: kind, Fields: f} }
	ref := &audit.Manifest{Events: []audit.Event{
		ev(audit.KindFileWriteClose, audit.Fields{"path": "/a", "bytes": 3, "sha256": "aa"}),
		ev(audit.KindNetConnect, audit.Fields{"host": "h", "port": 80}),
	}}
	obs := &audit.Manifest{Events: []audit.Event{
		ev(audit.KindFileWriteClose, audit.Fields{"path": "/a", "bytes": 4, "sha256": "bb"}),
		ev(audit.KindNetConnect, audit.Fields{"host": "h"}),
	}}

	res := Compare(ref, obs)
	if res.OK {
		t.Fatal("expected divergence")
	}
	if len(res.Divergences) != 2 {
		t.Fatalf("divergences = %+v", res.Divergences)
	}
	if res.Divergences[0].Field != "sha256" || res.Divergences[1].Field != "bytes" {
		t.Errorf("fields = %s, %s", res.Divergences[0].Field, res.Divergences[1].Field)
	}
}

func TestEqualAcrossNumberForms(t *testing.T) {
	decoded, err := store.Unmarshal([]byte(`{"root_hash":"sha256:x","events":[
		{"kind":"file_write_close","fields":{"path":"/a","bytes":1024,"sha256":"aa"},"chain_hash":"sha256:y"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(decoded.Events[0].Fields["bytes"], 1024) {
		t.Errorf("json.Number 1024 should equal int 1024")
	}
	if !Equal(float64(1024), int64(1024)) {
		t.Errorf("float64 1024 should equal int64 1024")
	}
	if Equal("1024", 1024) {
		t.Errorf("string should not equal number")
	}
}

func TestDiffSelfIsSymmetric(t *testing.T) {
	t.Chdir(t.TempDir())
	m := record(t, writer(false), "")

	r := Diff(m, m)
	if len(r.KindDiffs) != 0 || !r.SameRoot || r.RootA != r.RootB || r.CountDelta != 0 {
		t.Errorf("self diff = %+v", r)
	}
	if r.HasChanges() {
		t.Error("self diff should have no changes")
	}
	if !strings.Contains(FormatDiffText(r), "No changes detected.") {
		t.Errorf("text = %q", FormatDiffText(r))
	}
}

func TestDiffReportsKindPairs(t *testing.T) {
	t.Chdir(t.TempDir())
	a := record(t, writer(false), "")
	b := record(t, writer(true), "")

	r := Diff(a, b)
	if r.SameRoot || r.CountDelta <= 0 {
		t.Errorf("diff = %+v", r)
	}
	if len(r.KindDiffs) == 0 {
		t.Fatal("expected kind differences")
	}
	d := r.KindDiffs[0]
	if d.A != audit.KindFileOpenRead || d.B != audit.KindFileOpen {
		t.Errorf("first kind diff = %+v", d)
	}
	text := FormatDiffText(r)
	if !strings.Contains(text, "@") || !strings.Contains(text, "len A:") {
		t.Errorf("text = %q", text)
	}
}

func TestFormatText(t *testing.T) {
	ok := FormatText(&Result{OK: true, ObservedRoot: "sha256:r"})
	if !strings.Contains(ok, "OK") {
		t.Errorf("ok text = %q", ok)
	}
	bad := FormatText(&Result{Divergences: []Divergence{{Index: 3, Field: "kind", Reference: "a", Observed: "b"}}})
	if !strings.Contains(bad, "MISMATCH") || !strings.Contains(bad, "@3") {
		t.Errorf("mismatch text = %q", bad)
	}
	js, err := FormatJSON(&Result{OK: true, Divergences: []Divergence{}})
	if err != nil || !strings.Contains(js, `"divergences": []`) {
		t.Errorf("json = %q, %v", js, err)
	}
}

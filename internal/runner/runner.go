// Package runner orchestrates one instrumented run: it seeds the run's
// generators, installs the interceptors, executes the target as the
// top-level program and finalizes the event log on every exit path.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/capability"
	"github.com/ppiankov/merklerun/internal/enforce"
	"github.com/ppiankov/merklerun/internal/intercept"
	"github.com/ppiankov/merklerun/internal/seed"
	"github.com/ppiankov/merklerun/internal/target"
)

// Options configures one run.
type Options struct {
	Args     string
	Seed     int64
	AllowNet bool
	Stdout   io.Writer
	Stderr   io.Writer
	Logger   *slog.Logger
	// Env adds informational entries to the environment snapshot.
	Env map[string]any

	// Seeds overrides the default seeding registry. The generators are
	// handed to the target as Process.Generators.
	Seeds func() (*seed.Registry, *seed.Generators)
	// Caps overrides the real capability set the interceptors wrap.
	Caps *capability.Set
}

// TargetError reports that the target failed. The manifest is still
// complete and its end event carries Recorded.
type TargetError struct {
	TargetPath string
	Recorded   string
	Err        error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %s failed: %v", e.TargetPath, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// PanicError is the value a run re-panics with when the target panicked.
// Manifest is the finalized log, ending in the recorded exception.
type PanicError struct {
	Value    any
	Manifest *audit.Manifest
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("target panicked: %v", e.Value)
}

// active guards the process-wide rule of one instrumented run at a time.
var active sync.Mutex

// Run executes prog as targetPath under the given options and returns its
// finalized manifest. A failing target yields both the manifest and a
// *TargetError. A panicking target is recorded, its capabilities restored
// and the log finalized; the panic then propagates as a *PanicError
// carrying the manifest.
func Run(ctx context.Context, prog target.Program, targetPath string, opts Options) (m *audit.Manifest, err error) {
	active.Lock()
	defer active.Unlock()

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	runID := uuid.NewString()
	env := Snapshot(runID)
	for k, v := range opts.Env {
		env[k] = v
	}
	log := audit.New(opts.Seed, opts.AllowNet, env)
	logger.Debug("run started", "run_id", runID, "target", targetPath, "seed", opts.Seed, "allow_net", opts.AllowNet)

	seeds := opts.Seeds
	if seeds == nil {
		seeds = seed.Defaults
	}
	reg, gens := seeds()
	for _, o := range reg.SeedAll(opts.Seed) {
		if o.Seeded {
			mustAppend(log, audit.KindRNGSeed, audit.Fields{"lib": o.Lib, "seed": opts.Seed})
			continue
		}
		logger.Debug("seed source skipped", "lib", o.Lib, "error", o.Err)
		mustAppend(log, audit.KindRNGSeedSkip, audit.Fields{"lib": o.Lib})
	}

	caps := opts.Caps
	if caps == nil {
		caps = capability.Real()
	}
	restore := intercept.Install(caps, log, enforce.NetPolicy{AllowNet: opts.AllowNet})

	args := append([]string{targetPath}, strings.Fields(opts.Args)...)
	mustAppend(log, audit.KindBegin, audit.Fields{"target_path": targetPath, "args": args[1:]})

	proc := target.NewProcess(args, caps, gens, opts.Stdout, opts.Stderr)

	finished := false
	defer func() {
		if finished {
			return
		}
		r := recover()
		mustAppend(log, audit.KindEnd, audit.Fields{"status": "exception", "error": fmt.Sprintf("panic: %v", r)})
		restore()
		pm, ferr := log.Finalize()
		if ferr != nil {
			logger.Error("finalize after panic", "error", ferr)
		}
		panic(&PanicError{Value: r, Manifest: pm})
	}()

	runErr := prog.Main(ctx, proc)
	finished = true

	var recorded string
	if runErr != nil {
		recorded = fmt.Sprintf("%T: %s", runErr, runErr)
		mustAppend(log, audit.KindEnd, audit.Fields{"status": "exception", "error": recorded})
	} else {
		mustAppend(log, audit.KindEnd, audit.Fields{"status": "ok"})
	}
	restore()

	m, ferr := log.Finalize()
	if ferr != nil {
		return nil, fmt.Errorf("runner: finalize: %w", ferr)
	}
	logger.Debug("run finished", "run_id", runID, "events", len(m.Events), "root_hash", m.RootHash)

	if runErr != nil {
		return m, &TargetError{TargetPath: targetPath, Recorded: recorded, Err: runErr}
	}
	return m, nil
}

// Snapshot captures the informational environment of a run.
func Snapshot(runID string) map[string]any {
	cwd, _ := os.Getwd()
	return map[string]any{
		"go_version": runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		"cwd":        cwd,
		"run_id":     runID,
	}
}

// mustAppend appends to a log the run itself owns; it cannot be finalized
// before the run ends.
func mustAppend(log *audit.Log, kind audit.Kind, fields audit.Fields) {
	if _, err := log.Append(kind, fields); err != nil {
		panic(fmt.Sprintf("runner: append %s: %v", kind, err))
	}
}

// Package target defines what merklerun executes: a Program that reaches
// the operating system only through its Process.
package target

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"

	"github.com/ppiankov/merklerun/internal/capability"
	"github.com/ppiankov/merklerun/internal/seed"
)

// Program is an executable target. Main plays the role of the program's
// top-level entry point: p.Args[0] is the target path and p.Args[1:] are
// its arguments.
type Program interface {
	Main(ctx context.Context, p *Process) error
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx context.Context, p *Process) error

// Main calls f(ctx, p).
func (f ProgramFunc) Main(ctx context.Context, p *Process) error {
	return f(ctx, p)
}

// Process is the target's view of its environment. Every capability call
// dispatches through the run's capability set at call time.
type Process struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer

	caps *capability.Set
	gens *seed.Generators
}

// NewProcess builds a Process over caps. Nil writers discard output.
func NewProcess(args []string, caps *capability.Set, gens *seed.Generators, stdout, stderr io.Writer) *Process {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if gens == nil {
		gens = &seed.Generators{}
	}
	return &Process{Args: args, Stdout: stdout, Stderr: stderr, caps: caps, gens: gens}
}

// OpenFile opens name through the file capability.
func (p *Process) OpenFile(name string, flag int, perm fs.FileMode) (capability.File, error) {
	return p.caps.FS.OpenFile(name, flag, perm)
}

// Open opens name for reading.
func (p *Process) Open(name string) (capability.File, error) {
	return p.OpenFile(name, os.O_RDONLY, 0)
}

// Create opens name write-only, creating or truncating it.
func (p *Process) Create(name string) (capability.File, error) {
	return p.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// ReadFile reads the whole of name.
func (p *Process) ReadFile(name string) ([]byte, error) {
	f, err := p.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile writes data to name, creating or truncating it.
func (p *Process) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f, err := p.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// AppendFile appends data to name, creating it if needed.
func (p *Process) AppendFile(name string, data []byte) error {
	f, err := p.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Stat describes name. Stat is not a recorded boundary operation.
func (p *Process) Stat(name string) (fs.FileInfo, error) {
	return p.caps.FS.Stat(name)
}

// Socket creates an unconnected socket through the network capability.
func (p *Process) Socket() capability.Socket {
	return p.caps.Net.Socket()
}

// Run spawns a subprocess through the process capability.
func (p *Process) Run(ctx context.Context, spec capability.CommandSpec) (*capability.CommandResult, error) {
	return p.caps.Proc.Run(ctx, spec)
}

// Command runs name with args.
func (p *Process) Command(ctx context.Context, name string, args ...string) (*capability.CommandResult, error) {
	return p.Run(ctx, capability.CommandSpec{Argv: append([]string{name}, args...)})
}

// Rand returns the run's seeded generator. It is nil outside a seeded run.
func (p *Process) Rand() *rand.Rand {
	return p.gens.Rand()
}

// Generators exposes every seeded generator of the run.
func (p *Process) Generators() *seed.Generators {
	return p.gens
}

// Printf writes formatted output to Stdout.
func (p *Process) Printf(format string, args ...any) {
	fmt.Fprintf(p.Stdout, format, args...)
}

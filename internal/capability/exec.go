package capability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"syscall"
)

// CommandSpec describes a subprocess. Exactly one of Argv or Shell is set:
// Argv runs a program directly, Shell runs a command line through sh -c.
type CommandSpec struct {
	Argv  []string
	Shell string
	Dir   string
	Env   []string
	Stdin io.Reader
}

// String normalizes the command into one printable line.
func (c CommandSpec) String() string {
	if c.Shell != "" {
		return c.Shell
	}
	return strings.Join(c.Argv, " ")
}

// CommandResult captures subprocess execution outcome.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Spawner runs subprocesses.
type Spawner interface {
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}

// ErrEmptyCommand is returned for a spec with neither Argv nor Shell.
var ErrEmptyCommand = errors.New("empty command")

// Exec is the real spawner backed by os/exec.
type Exec struct{}

// Run executes spec and waits for it. A non-zero exit is reported in
// ExitCode, not as an error.
func (Exec) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	var cmd *exec.Cmd
	switch {
	case spec.Shell != "":
		cmd = exec.CommandContext(ctx, "sh", "-c", spec.Shell)
	case len(spec.Argv) > 0:
		cmd = exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	default:
		return nil, ErrEmptyCommand
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				exitCode = status.ExitStatus()
			}
		} else {
			return nil, err
		}
	}

	return &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

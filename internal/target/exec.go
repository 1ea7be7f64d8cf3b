package target

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/merklerun/internal/capability"
)

func init() {
	Register("exec", ProgramFunc(execProgram))
}

// ExitError reports a non-zero exit of the command run by the exec program.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
}

// execProgram runs its arguments as one subprocess and relays its output.
func execProgram(ctx context.Context, p *Process) error {
	if len(p.Args) < 2 {
		return errors.New("exec: no command given")
	}
	spec := capability.CommandSpec{Argv: p.Args[1:]}
	res, err := p.Run(ctx, spec)
	if err != nil {
		return err
	}
	p.Printf("%s", res.Stdout)
	fmt.Fprint(p.Stderr, res.Stderr)
	if res.ExitCode != 0 {
		return &ExitError{Command: spec.String(), ExitCode: res.ExitCode}
	}
	return nil
}

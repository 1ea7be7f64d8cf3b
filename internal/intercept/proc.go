package intercept

import (
	"context"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/capability"
)

// spawner records every subprocess before delegating. Subprocesses are
// observed only; there is no spawn policy.
type spawner struct {
	real capability.Spawner
	rec  Recorder
}

func (s *spawner) Run(ctx context.Context, spec capability.CommandSpec) (*capability.CommandResult, error) {
	if _, err := s.rec.Append(audit.KindSubprocess, audit.Fields{"cmd": spec.String()}); err != nil {
		return nil, err
	}
	return s.real.Run(ctx, spec)
}

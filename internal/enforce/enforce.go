// Package enforce holds the run-scoped network policy and the error a
// denied operation surfaces to the target.
package enforce

import (
	"errors"
	"fmt"
)

// ErrPolicyViolation matches every *ViolationError via errors.Is.
var ErrPolicyViolation = errors.New("policy violation")

// Operation names a network operation subject to policy.
type Operation string

const (
	OpConnect Operation = "connect"
	OpSend    Operation = "send"
	OpRecv    Operation = "recv"
)

// ViolationError is returned to the target when policy blocks an operation.
// The real operation is never attempted.
type ViolationError struct {
	Operation Operation
	Target    string
	Reason    string
}

func (e *ViolationError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s %s blocked: %s", e.Operation, e.Target, e.Reason)
	}
	return fmt.Sprintf("%s blocked: %s", e.Operation, e.Reason)
}

// Is reports ErrPolicyViolation as a match.
func (e *ViolationError) Is(target error) bool {
	return target == ErrPolicyViolation
}

// NetPolicy is the single allow/deny decision for one run.
// There is no per-host policy.
type NetPolicy struct {
	AllowNet bool
}

// Check returns nil when op is allowed, or a *ViolationError.
func (p NetPolicy) Check(op Operation, target string) error {
	if p.AllowNet {
		return nil
	}
	return &ViolationError{
		Operation: op,
		Target:    target,
		Reason:    "network disabled by merklerun",
	}
}

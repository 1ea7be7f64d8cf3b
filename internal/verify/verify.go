// Package verify compares a fresh run against a reference manifest and
// diffs two recorded manifests.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/runner"
	"github.com/ppiankov/merklerun/internal/store"
	"github.com/ppiankov/merklerun/internal/target"
)

// ComparedFields are the payload keys compared when two events share a
// kind, in comparison order.
var ComparedFields = []string{"path", "sha256", "bytes", "cmd", "host", "port"}

// Divergence is one point where the observed run departs from the
// reference. Field is "kind", one of ComparedFields, or "length".
type Divergence struct {
	Index     int    `json:"index"`
	Field     string `json:"field"`
	Reference any    `json:"reference_value"`
	Observed  any    `json:"observed_value"`
}

// Result is the outcome of a comparison. OK is true iff there are no
// divergences.
type Result struct {
	OK            bool         `json:"ok"`
	Divergences   []Divergence `json:"divergences"`
	ReferenceRoot string       `json:"reference_root"`
	ObservedRoot  string       `json:"observed_root"`
	TargetError   string       `json:"target_error,omitempty"`
}

// Options configures the replay. Args is always taken from the reference.
type Options struct {
	Seed     int64
	AllowNet bool
	Run      runner.Options
}

// ReplayArgs returns the argument string recorded in the reference's begin
// event. A reference without one cannot be replayed.
func ReplayArgs(ref *audit.Manifest) (string, error) {
	begin, ok := ref.Begin()
	if !ok {
		return "", &store.FormatError{Index: -1, Reason: "reference has no begin event"}
	}
	raw, ok := begin.Fields["args"]
	if !ok || raw == nil {
		return "", &store.FormatError{Index: -1, Reason: "reference begin event has no args"}
	}

	var args []string
	switch v := raw.(type) {
	case []string:
		args = v
	case []any:
		for _, a := range v {
			s, ok := a.(string)
			if !ok {
				return "", &store.FormatError{Index: -1, Reason: fmt.Sprintf("begin args contain non-string %v", a)}
			}
			args = append(args, s)
		}
	case string:
		return v, nil
	default:
		return "", &store.FormatError{Index: -1, Reason: fmt.Sprintf("begin args have unexpected type %T", raw)}
	}
	return strings.Join(args, " "), nil
}

// Verify re-runs prog under the given seed and policy with the reference's
// recorded arguments and compares the observed events to the reference.
// A target failure during the replay is not an error: it is recorded in
// the observed manifest and reported in Result.TargetError.
func Verify(ctx context.Context, prog target.Program, targetPath string, ref *audit.Manifest, opts Options) (*Result, *audit.Manifest, error) {
	args, err := ReplayArgs(ref)
	if err != nil {
		return nil, nil, err
	}

	runOpts := opts.Run
	runOpts.Args = args
	runOpts.Seed = opts.Seed
	runOpts.AllowNet = opts.AllowNet

	observed, err := runner.Run(ctx, prog, targetPath, runOpts)
	var te *runner.TargetError
	if err != nil && !errors.As(err, &te) {
		return nil, nil, fmt.Errorf("verify: replay: %w", err)
	}

	res := Compare(ref, observed)
	if te != nil {
		res.TargetError = te.Recorded
	}
	return res, observed, nil
}

// Compare performs the ordered field-level comparison of observed against
// ref. A differing kind at an index suppresses field comparison there.
func Compare(ref, observed *audit.Manifest) *Result {
	res := &Result{
		ReferenceRoot: ref.RootHash,
		ObservedRoot:  observed.RootHash,
		Divergences:   []Divergence{},
	}

	n := min(len(ref.Events), len(observed.Events))
	for i := 0; i < n; i++ {
		r, o := ref.Events[i], observed.Events[i]
		if r.Kind != o.Kind {
			res.Divergences = append(res.Divergences, Divergence{Index: i, Field: "kind", Reference: r.Kind, Observed: o.Kind})
			continue
		}
		for _, f := range ComparedFields {
			rv, rok := r.Fields[f]
			ov, ook := o.Fields[f]
			if !rok || !ook {
				continue
			}
			if !Equal(rv, ov) {
				res.Divergences = append(res.Divergences, Divergence{Index: i, Field: f, Reference: rv, Observed: ov})
			}
		}
	}

	if len(ref.Events) != len(observed.Events) {
		res.Divergences = append(res.Divergences, Divergence{
			Index:     n,
			Field:     "length",
			Reference: len(ref.Events),
			Observed:  len(observed.Events),
		})
	}

	res.OK = len(res.Divergences) == 0
	return res
}

// Equal compares two field values by their JSON encoding, so a decoded
// json.Number equals the int it was encoded from.
func Equal(a, b any) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

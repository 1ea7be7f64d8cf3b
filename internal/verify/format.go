package verify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders a verification result for humans.
func FormatText(r *Result) string {
	var b strings.Builder
	if r.OK {
		fmt.Fprintf(&b, "verify: OK  root %s\n", r.ObservedRoot)
	} else {
		fmt.Fprintf(&b, "verify: MISMATCH  %d divergence(s)\n", len(r.Divergences))
		fmt.Fprintf(&b, "  reference root: %s\n", r.ReferenceRoot)
		fmt.Fprintf(&b, "  observed root:  %s\n", r.ObservedRoot)
		b.WriteString("\n")
		for _, d := range r.Divergences {
			fmt.Fprintf(&b, "  @%d %-8s %v → %v\n", d.Index, d.Field+":", d.Reference, d.Observed)
		}
	}
	if r.TargetError != "" {
		fmt.Fprintf(&b, "\n  target failed during replay: %s\n", r.TargetError)
	}
	return b.String()
}

// FormatJSON renders a verification result as JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal verify result: %w", err)
	}
	return string(data), nil
}

// FormatDiffText renders a diff result: both roots, both lengths and one
// line per differing kind.
func FormatDiffText(r *DiffResult) string {
	var b strings.Builder
	if r.PathA != "" || r.PathB != "" {
		fmt.Fprintf(&b, "Manifest diff: %s → %s\n\n", r.PathA, r.PathB)
	}
	fmt.Fprintf(&b, "root A: %s\n", r.RootA)
	fmt.Fprintf(&b, "root B: %s\n", r.RootB)
	fmt.Fprintf(&b, "len A: %d, len B: %d\n", r.LenA, r.LenB)
	for _, d := range r.KindDiffs {
		fmt.Fprintf(&b, "@%d: %s != %s\n", d.Index, d.A, d.B)
	}
	if !r.HasChanges() {
		b.WriteString("\nNo changes detected.\n")
	}
	return b.String()
}

// FormatDiffJSON renders a diff result as JSON.
func FormatDiffJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

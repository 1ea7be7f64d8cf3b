package verify

import "github.com/ppiankov/merklerun/internal/audit"

// KindDiff is a position where the kind sequences of two manifests differ.
type KindDiff struct {
	Index int        `json:"index"`
	A     audit.Kind `json:"a"`
	B     audit.Kind `json:"b"`
}

// DiffResult holds the comparison of two recorded manifests.
type DiffResult struct {
	PathA      string     `json:"path_a,omitempty"`
	PathB      string     `json:"path_b,omitempty"`
	RootA      string     `json:"root_a"`
	RootB      string     `json:"root_b"`
	LenA       int        `json:"len_a"`
	LenB       int        `json:"len_b"`
	CountDelta int        `json:"count_delta"`
	SameRoot   bool       `json:"same_root"`
	KindDiffs  []KindDiff `json:"kind_diffs"`
}

// Diff compares the kind sequences of a and b without re-executing
// anything. Kinds are compared up to the shorter manifest; the rest shows
// in CountDelta, which is len(b) - len(a).
func Diff(a, b *audit.Manifest) *DiffResult {
	r := &DiffResult{
		RootA:      a.RootHash,
		RootB:      b.RootHash,
		LenA:       len(a.Events),
		LenB:       len(b.Events),
		CountDelta: len(b.Events) - len(a.Events),
		SameRoot:   a.RootHash == b.RootHash,
		KindDiffs:  []KindDiff{},
	}

	n := min(len(a.Events), len(b.Events))
	for i := 0; i < n; i++ {
		if ka, kb := a.Events[i].Kind, b.Events[i].Kind; ka != kb {
			r.KindDiffs = append(r.KindDiffs, KindDiff{Index: i, A: ka, B: kb})
		}
	}
	return r
}

// HasChanges reports whether the manifests differ in root, length or kind
// sequence.
func (r *DiffResult) HasChanges() bool {
	return !r.SameRoot || r.CountDelta != 0 || len(r.KindDiffs) > 0
}

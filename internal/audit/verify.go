package audit

import "fmt"

// VerifyResult holds the outcome of a manifest integrity check.
// ErrorIndex is the first broken event, or -1 for a root mismatch; it is
// meaningful only when Valid is false.
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	Events     int    `json:"events"`
	RootHash   string `json:"root_hash"`
	Error      string `json:"error,omitempty"`
	ErrorIndex int    `json:"error_index"`
}

// VerifyChain recomputes every chain link of m from the genesis hash and
// then the root hash. It reports the first event whose stored chain hash
// does not match, or a root mismatch with ErrorIndex -1.
func VerifyChain(m *Manifest) VerifyResult {
	prev := GenesisHash
	for i, e := range m.Events {
		expected := ChainLink(prev, e)
		if e.ChainHash != expected {
			return VerifyResult{
				Events:     len(m.Events),
				Error:      fmt.Sprintf("chain mismatch at event %d (%s): expected %s, got %s", i, e.Kind, expected, e.ChainHash),
				ErrorIndex: i,
			}
		}
		prev = e.ChainHash
	}

	root := RootHash(m.Events)
	if root != m.RootHash {
		return VerifyResult{
			Events:     len(m.Events),
			RootHash:   root,
			Error:      fmt.Sprintf("root hash mismatch: expected %s, got %s", root, m.RootHash),
			ErrorIndex: -1,
		}
	}

	return VerifyResult{Valid: true, Events: len(m.Events), RootHash: root}
}

// Rechain recomputes every chain hash and the root hash of m in place.
// It is what a forger would have to do after editing an event; the
// resulting chain differs from the original from the edit onwards.
func Rechain(m *Manifest) {
	prev := GenesisHash
	for i := range m.Events {
		m.Events[i].ChainHash = ChainLink(prev, m.Events[i])
		prev = m.Events[i].ChainHash
	}
	m.RootHash = RootHash(m.Events)
}

package audit

// Kind names one class of observed boundary-crossing action.
// The string values are part of the manifest compatibility surface.
type Kind string

const (
	KindBegin          Kind = "begin"
	KindEnd            Kind = "end"
	KindFileOpen       Kind = "file_open"
	KindFileOpenRead   Kind = "file_open_read"
	KindFileWriteClose Kind = "file_write_close"
	KindNetConnect     Kind = "net_connect"
	KindNetBlock       Kind = "net_block"
	KindNetSend        Kind = "net_send"
	KindNetBlockSend   Kind = "net_block_send"
	KindNetRecv        Kind = "net_recv"
	KindNetBlockRecv   Kind = "net_block_recv"
	KindSubprocess     Kind = "subprocess_spawn"
	KindRNGSeed        Kind = "rng_seed"
	KindRNGSeedSkip    Kind = "rng_seed_skip"
)

// RequiredFields lists the payload keys every event of a recognized kind
// must carry. Kinds absent from the map are tolerated as forward-compatible.
var RequiredFields = map[Kind][]string{
	KindBegin:          {"target_path", "args"},
	KindEnd:            {"status"},
	KindFileOpen:       {"path", "mode"},
	KindFileOpenRead:   {"path", "mode", "bytes", "sha256"},
	KindFileWriteClose: {"path", "bytes", "sha256"},
	KindNetConnect:     {"host", "port"},
	KindNetBlock:       {"host", "port"},
	KindNetSend:        {"bytes", "sha256"},
	KindNetBlockSend:   {"bytes"},
	KindNetRecv:        {"bytes", "sha256"},
	KindNetBlockRecv:   {"requested_bytes"},
	KindSubprocess:     {"cmd"},
	KindRNGSeed:        {"lib", "seed"},
	KindRNGSeedSkip:    {"lib"},
}

// Known reports whether k is one of the recognized event kinds.
func (k Kind) Known() bool {
	_, ok := RequiredFields[k]
	return ok
}

// Fields is the kind-specific payload of an event. encoding/json sorts
// map keys, which keeps the canonical form independent of insertion order.
type Fields map[string]any

// Event is one entry of the hash-chained run log.
type Event struct {
	RelativeTime float64 `json:"relative_time"`
	Kind         Kind    `json:"kind"`
	Fields       Fields  `json:"fields"`
	ChainHash    string  `json:"chain_hash"`
}

// Manifest is the committed record of one instrumented run.
// StartedAt and Env are informational and excluded from RootHash.
type Manifest struct {
	StartedAt string         `json:"started_at"`
	Seed      int64          `json:"seed"`
	AllowNet  bool           `json:"allow_net"`
	Env       map[string]any `json:"env"`
	Events    []Event        `json:"events"`
	RootHash  string         `json:"root_hash"`
}

// Begin returns the first begin event of the manifest.
func (m *Manifest) Begin() (Event, bool) {
	for _, e := range m.Events {
		if e.Kind == KindBegin {
			return e, true
		}
	}
	return Event{}, false
}

// End returns the last end event of the manifest.
func (m *Manifest) End() (Event, bool) {
	for i := len(m.Events) - 1; i >= 0; i-- {
		if m.Events[i].Kind == KindEnd {
			return m.Events[i], true
		}
	}
	return Event{}, false
}

// Kinds returns the ordered kind sequence of the manifest.
func (m *Manifest) Kinds() []Kind {
	kinds := make([]Kind, len(m.Events))
	for i, e := range m.Events {
		kinds[i] = e.Kind
	}
	return kinds
}

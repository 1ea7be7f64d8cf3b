package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// GenesisHash is the chain value the first event of every run links against.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the layout of Manifest.StartedAt.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// ErrFinalized is returned when a finalized log is appended to or finalized again.
var ErrFinalized = errors.New("audit: log already finalized")

// Log is the append-only, hash-chained event log of one run.
// Each event's chain hash is SHA-256 over the previous chain hash and the
// hash of the event's canonical form, so any reorder, insertion, deletion
// or edit invalidates every later link.
type Log struct {
	mu        sync.Mutex
	start     time.Time
	startedAt string
	seed      int64
	allowNet  bool
	env       map[string]any
	events    []Event
	prevHash  string
	finalized bool
}

// New starts a log for a run with the given seed, network policy and
// informational environment snapshot. The monotonic clock reading taken
// here is the zero point of every event's relative time.
func New(seed int64, allowNet bool, env map[string]any) *Log {
	now := time.Now()
	if env == nil {
		env = map[string]any{}
	}
	return &Log{
		start:     now,
		startedAt: now.UTC().Format(TimestampFormat),
		seed:      seed,
		allowNet:  allowNet,
		env:       env,
		prevHash:  GenesisHash,
	}
}

// Append chains a new event onto the log and returns its chain hash.
// The fields map is copied; later changes by the caller are not observed.
func (l *Log) Append(kind Kind, fields Fields) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return "", fmt.Errorf("append %s: %w", kind, ErrFinalized)
	}

	payload := make(Fields, len(fields))
	for k, v := range fields {
		payload[k] = v
	}

	event := Event{
		RelativeTime: roundMicros(time.Since(l.start).Seconds()),
		Kind:         kind,
		Fields:       payload,
	}
	event.ChainHash = ChainLink(l.prevHash, event)

	l.events = append(l.events, event)
	l.prevHash = event.ChainHash
	return event.ChainHash, nil
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Head returns the chain hash of the most recent event, or GenesisHash.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prevHash
}

// Finalize seals the log and returns its manifest. It succeeds exactly once.
func (l *Log) Finalize() (*Manifest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return nil, fmt.Errorf("finalize: %w", ErrFinalized)
	}
	l.finalized = true

	events := make([]Event, len(l.events))
	copy(events, l.events)

	return &Manifest{
		StartedAt: l.startedAt,
		Seed:      l.seed,
		AllowNet:  l.allowNet,
		Env:       l.env,
		Events:    events,
		RootHash:  RootHash(events),
	}, nil
}

// chainForm is the canonical content of an event that enters the chain.
type chainForm struct {
	RelativeTime float64 `json:"relative_time"`
	Kind         Kind    `json:"kind"`
	Fields       Fields  `json:"fields"`
}

// rootForm is the timing-free content of an event that enters the root hash.
type rootForm struct {
	Kind   Kind   `json:"kind"`
	Fields Fields `json:"fields"`
}

// ChainLink computes the chain hash of e given the previous chain hash.
// The event's own ChainHash is ignored.
func ChainLink(prev string, e Event) string {
	eventHash := HashLine(canonical(chainForm{
		RelativeTime: e.RelativeTime,
		Kind:         e.Kind,
		Fields:       normalizeFields(e.Fields),
	}))
	return HashLine([]byte(prev + eventHash))
}

// RootHash commits to the ordered kind and field content of events.
// Relative times and chain hashes are excluded so that two runs with the
// same boundary behaviour agree regardless of timing.
func RootHash(events []Event) string {
	forms := make([]rootForm, len(events))
	for i, e := range events {
		forms[i] = rootForm{Kind: e.Kind, Fields: normalizeFields(e.Fields)}
	}
	return HashLine(canonical(forms))
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// canonical marshals v deterministically. Struct field order is fixed and
// encoding/json sorts map keys. An encoding failure means a non-serializable
// value reached the log, which leaves the chain unusable.
func canonical(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("audit: canonical encoding failed: %v", err))
	}
	return data
}

// normalizeFields maps a nil payload to an empty one so that events
// loaded from disk with "fields": {} hash the same as fresh ones.
func normalizeFields(f Fields) Fields {
	if f == nil {
		return Fields{}
	}
	return f
}

func roundMicros(seconds float64) float64 {
	return math.Round(seconds*1e6) / 1e6
}

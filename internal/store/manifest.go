// Package store persists manifests as JSON documents and indexes runs in
// a SQLite history database.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/merklerun/internal/audit"
)

// FormatError reports a manifest that is missing required content.
// Index is the offending event, or -1 for document-level problems.
type FormatError struct {
	Path   string
	Index  int
	Reason string
}

func (e *FormatError) Error() string {
	where := e.Path
	if where == "" {
		where = "manifest"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("%s: event %d: %s", where, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: %s", where, e.Reason)
}

// Marshal encodes m in its persisted form: indented JSON with a trailing
// newline. Map keys are sorted, so encoding is deterministic.
func Marshal(m *audit.Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("store: marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// Save writes m to path, replacing any existing file atomically.
func Save(path string, m *audit.Manifest) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: mkdir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}

// Load reads and validates the manifest at path.
func Load(path string) (*audit.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return nil, err
	}
	return m, nil
}

// Unmarshal decodes and validates a manifest document. Numbers are kept as
// json.Number so re-encoding reproduces them exactly.
func Unmarshal(data []byte) (*audit.Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &FormatError{Index: -1, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	for _, key := range []string{"events", "root_hash"} {
		if _, ok := raw[key]; !ok {
			return nil, &FormatError{Index: -1, Reason: fmt.Sprintf("missing %q", key)}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m audit.Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, &FormatError{Index: -1, Reason: fmt.Sprintf("decode: %v", err)}
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every event carries a kind and chain hash, and that
// events of recognized kinds carry their required fields. Unknown kinds and
// extra fields are accepted.
func Validate(m *audit.Manifest) error {
	if m.RootHash == "" {
		return &FormatError{Index: -1, Reason: "empty root_hash"}
	}
	for i, e := range m.Events {
		if e.Kind == "" {
			return &FormatError{Index: i, Reason: "missing kind"}
		}
		if e.ChainHash == "" {
			return &FormatError{Index: i, Reason: "missing chain_hash"}
		}
		for _, f := range audit.RequiredFields[e.Kind] {
			if _, ok := e.Fields[f]; !ok {
				return &FormatError{Index: i, Reason: fmt.Sprintf("%s event missing field %q", e.Kind, f)}
			}
		}
	}
	return nil
}

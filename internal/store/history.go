package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/merklerun/internal/audit"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	target        TEXT NOT NULL,
	seed          INTEGER NOT NULL,
	allow_net     INTEGER NOT NULL,
	root_hash     TEXT NOT NULL,
	events        INTEGER NOT NULL,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	manifest_path TEXT NOT NULL DEFAULT '',
	recorded_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_root ON runs(root_hash);
CREATE INDEX IF NOT EXISTS idx_runs_recorded ON runs(recorded_at);
`

// RunRecord is one row of the run history.
type RunRecord struct {
	ID           string `json:"id"`
	Target       string `json:"target"`
	Seed         int64  `json:"seed"`
	AllowNet     bool   `json:"allow_net"`
	RootHash     string `json:"root_hash"`
	Events       int    `json:"events"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	ManifestPath string `json:"manifest_path,omitempty"`
}

// RecordFor summarizes a manifest as a history row.
func RecordFor(m *audit.Manifest, manifestPath string) RunRecord {
	rec := RunRecord{
		Seed:         m.Seed,
		AllowNet:     m.AllowNet,
		RootHash:     m.RootHash,
		Events:       len(m.Events),
		StartedAt:    m.StartedAt,
		ManifestPath: manifestPath,
		Status:       "unknown",
	}
	if id, ok := m.Env["run_id"].(string); ok {
		rec.ID = id
	}
	if b, ok := m.Begin(); ok {
		rec.Target, _ = b.Fields["target_path"].(string)
	}
	if e, ok := m.End(); ok {
		if s, ok := e.Fields["status"].(string); ok {
			rec.Status = s
		}
	}
	return rec
}

// History indexes runs in a SQLite database.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open history: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Record inserts rec. An empty ID is filled with a new UUID.
func (h *History) Record(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO runs (id, target, seed, allow_net, root_hash, events, status, started_at, manifest_path, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Target, rec.Seed, boolInt(rec.AllowNet), rec.RootHash, rec.Events,
		rec.Status, rec.StartedAt, rec.ManifestPath, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("store: record run: %w", err)
	}
	return rec.ID, nil
}

// List returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (h *History) List(ctx context.Context, limit int) ([]RunRecord, error) {
	q := `SELECT id, target, seed, allow_net, root_hash, events, status, started_at, manifest_path
	      FROM runs ORDER BY recorded_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return h.query(ctx, q, args...)
}

// ByRoot returns every run that produced root, newest first.
func (h *History) ByRoot(ctx context.Context, root string) ([]RunRecord, error) {
	return h.query(ctx,
		`SELECT id, target, seed, allow_net, root_hash, events, status, started_at, manifest_path
		 FROM runs WHERE root_hash = ? ORDER BY recorded_at DESC, rowid DESC`, root)
}

func (h *History) query(ctx context.Context, q string, args ...any) ([]RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var allowNet int
		if err := rows.Scan(&r.ID, &r.Target, &r.Seed, &allowNet, &r.RootHash, &r.Events,
			&r.Status, &r.StartedAt, &r.ManifestPath); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		r.AllowNet = allowNet != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

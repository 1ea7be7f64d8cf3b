package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const separator = "──────────────────────────────────────────────────────────────────"

// Summary holds per-kind counts and the run outcome of a manifest.
type Summary struct {
	Total      int          `json:"total"`
	Counts     map[Kind]int `json:"counts"`
	Blocked    int          `json:"blocked"`
	BytesRead  int64        `json:"bytes_read"`
	BytesWrite int64        `json:"bytes_written"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	Duration   float64      `json:"duration"`
}

// Summarize counts the events of m.
func Summarize(m *Manifest) Summary {
	s := Summary{Counts: map[Kind]int{}}
	for _, e := range m.Events {
		s.Total++
		s.Counts[e.Kind]++
		switch e.Kind {
		case KindNetBlock, KindNetBlockSend, KindNetBlockRecv:
			s.Blocked++
		case KindFileOpenRead:
			s.BytesRead += toInt64(e.Fields["bytes"])
		case KindFileWriteClose:
			s.BytesWrite += toInt64(e.Fields["bytes"])
		case KindEnd:
			s.Status, _ = e.Fields["status"].(string)
			s.Error, _ = e.Fields["error"].(string)
		}
		s.Duration = e.RelativeTime
	}
	return s
}

// FormatTimeline renders a manifest as a human-readable event timeline.
func FormatTimeline(m *Manifest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s | seed %d | allow_net %t\n", m.StartedAt, m.Seed, m.AllowNet)
	fmt.Fprintf(&b, "Root: %s\n", m.RootHash)
	if len(m.Events) == 0 {
		b.WriteString("No events recorded.\n")
		return b.String()
	}
	b.WriteString(separator + "\n")

	for i, e := range m.Events {
		fmt.Fprintf(&b, "%4d %12.6fs  %-17s %s\n", i, e.RelativeTime, e.Kind, truncate(describe(e.Fields), 60))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(Summarize(m)))
	return b.String()
}

// FormatJSON renders a manifest as indented JSON.
func FormatJSON(m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return string(data), nil
}

func formatSummary(s Summary) string {
	kinds := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", s.Counts[Kind(k)], k))
	}

	status := s.Status
	if status == "" {
		status = "incomplete"
	}
	line := fmt.Sprintf("Summary: %s | status %s", strings.Join(parts, ", "), status)
	if s.Blocked > 0 {
		line += fmt.Sprintf(" | %d blocked", s.Blocked)
	}
	if s.Error != "" {
		line += " | " + s.Error
	}
	return line + "\n"
}

// describe renders fields as sorted key=value pairs.
func describe(f Fields) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := f[k]
		if s, ok := v.(string); ok && k == "sha256" && len(s) > 12 {
			v = s[:12]
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

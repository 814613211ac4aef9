package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TerminalRecord remembers the PTY backing a named terminal so a later run
// can re-attach to it.
type TerminalRecord struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	TerminalID string    `json:"terminal_id"`
	Cwd        string    `json:"cwd,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type HistoryEntry struct {
	Seq       int64     `json:"seq"`
	ProjectID string    `json:"project_id"`
	Command   string    `json:"command"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivityRecord is an output excerpt handed off for review.
type ActivityRecord struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	TerminalID string    `json:"terminal_id"`
	Lines      []string  `json:"lines"`
	HadError   bool      `json:"had_error"`
	CreatedAt  time.Time `json:"created_at"`
}

// Fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(timestampLayout)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func encodeStringSlice(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	buf, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string slice: %w", err)
	}
	return string(buf), nil
}

func decodeStringSlice(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode string slice: %w", err)
	}
	return values, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

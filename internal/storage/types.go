package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot + session files)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryEntry records one notification attempt.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At       time.Time `json:"at"`
	Source   string    `json:"source"`
	Records  []string  `json:"records,omitempty"`
	Sink     string    `json:"sink"`
	SinkKind string    `json:"sink_kind"`
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

package monitor

import "time"

// Record is one item extracted from a source during a single fetch.
//
// Key is unique within SourceKey; the pair identifies the item's state entry.
// Metric is nil when the source exposes no counter for the item.
// SourceTimestamp is zero when the source carries no creation time.
type Record struct {
	Key             string    `json:"key"`
	Author          string    `json:"author,omitempty"`
	Body            string    `json:"body,omitempty"`
	Metric          *int64    `json:"metric,omitempty"`
	ObservedAt      time.Time `json:"observed_at"`
	SourceTimestamp time.Time `json:"source_timestamp,omitempty"`
	SourceKey       string    `json:"source_key"`
	URL             string    `json:"url,omitempty"`
}

// StateEntry is the last known state of one record.
//
// Entries are created on first observation and never deleted during a run.
// Notified only ever goes from false to true.
type StateEntry struct {
	LastBody    string    `json:"last_body"`
	LastMetric  *int64    `json:"last_metric,omitempty"`
	Notified    bool      `json:"notified"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Int64 returns a pointer to v, for building records with a metric.
func Int64(v int64) *int64 { return &v }

func metricEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneMetric(m *int64) *int64 {
	if m == nil {
		return nil
	}
	v := *m
	return &v
}

package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"pollwatch/internal/monitor"
	logx "pollwatch/pkg/logx"
)

// Store holds the last known state of every record, keyed by (source, record).
type Store interface {
	Get(sourceKey, recordKey string) (monitor.StateEntry, bool)
	Put(sourceKey, recordKey string, e monitor.StateEntry)
}

// Persister mirrors state writes to durable storage so a restart keeps
// baselines and notified flags. storage.Store implements it.
type Persister interface {
	PutState(ctx context.Context, sourceKey, recordKey string, e monitor.StateEntry) error
	LoadStates(ctx context.Context, fn func(sourceKey, recordKey string, e monitor.StateEntry)) error
}

type key struct {
	source string
	record string
}

// Memory is the in-memory Store. Entries are never evicted.
//
// A mutex guards the map so sources polled on a worker pool can share it;
// each source still writes only its own keys.
type Memory struct {
	mu      sync.RWMutex
	entries map[key]monitor.StateEntry

	persist Persister
	log     logx.Logger
}

type Option func(*Memory)

// WithPersister mirrors every Put to p. Persistence failures are logged and
// never surface to the caller.
func WithPersister(p Persister) Option { return func(m *Memory) { m.persist = p } }

func WithLogger(log logx.Logger) Option { return func(m *Memory) { m.log = log } }

func NewMemory(opts ...Option) *Memory {
	m := &Memory{entries: map[key]monitor.StateEntry{}}
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

func (m *Memory) Get(sourceKey, recordKey string) (monitor.StateEntry, bool) {
	m.mu.RLock()
	e, ok := m.entries[key{sourceKey, recordKey}]
	m.mu.RUnlock()
	return e, ok
}

func (m *Memory) Put(sourceKey, recordKey string, e monitor.StateEntry) {
	m.mu.Lock()
	m.entries[key{sourceKey, recordKey}] = e
	m.mu.Unlock()

	if m.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.persist.PutState(ctx, sourceKey, recordKey, e); err != nil {
		m.log.Warn("state persist failed",
			logx.String("source", sourceKey),
			logx.String("record", recordKey),
			logx.Err(err),
		)
	}
}

// Restore loads previously persisted entries. Call before the first tick.
func (m *Memory) Restore(ctx context.Context) (int, error) {
	if m.persist == nil {
		return 0, nil
	}
	n := 0
	err := m.persist.LoadStates(ctx, func(sourceKey, recordKey string, e monitor.StateEntry) {
		m.mu.Lock()
		m.entries[key{sourceKey, recordKey}] = e
		m.mu.Unlock()
		n++
	})
	return n, err
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SourceCount is a per-source summary for status output.
type SourceCount struct {
	Source   string `json:"source"`
	Records  int    `json:"records"`
	Notified int    `json:"notified"`
}

func (m *Memory) Sources() []SourceCount {
	m.mu.RLock()
	bySource := map[string]*SourceCount{}
	for k, e := range m.entries {
		sc := bySource[k.source]
		if sc == nil {
			sc = &SourceCount{Source: k.source}
			bySource[k.source] = sc
		}
		sc.Records++
		if e.Notified {
			sc.Notified++
		}
	}
	m.mu.RUnlock()

	out := make([]SourceCount, 0, len(bySource))
	for _, sc := range bySource {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

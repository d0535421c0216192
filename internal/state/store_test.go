package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"pollwatch/internal/monitor"
)

type fakePersister struct {
	puts   []string
	stored map[string]monitor.StateEntry
	err    error
}

func (f *fakePersister) PutState(_ context.Context, sourceKey, recordKey string, e monitor.StateEntry) error {
	f.puts = append(f.puts, sourceKey+"/"+recordKey)
	return f.err
}

func (f *fakePersister) LoadStates(_ context.Context, fn func(sourceKey, recordKey string, e monitor.StateEntry)) error {
	for k, e := range f.stored {
		fn("feed", k, e)
	}
	return nil
}

func TestMemoryGetPut(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	if _, ok := m.Get("a", "1"); ok {
		t.Fatal("Get on empty store returned ok")
	}
	m.Put("a", "1", monitor.StateEntry{LastBody: "x"})
	m.Put("b", "1", monitor.StateEntry{LastBody: "y", Notified: true})

	e, ok := m.Get("a", "1")
	if !ok || e.LastBody != "x" {
		t.Fatalf("Get(a,1) = %+v, %v", e, ok)
	}
	// same record key under another source is a different entry
	e, ok = m.Get("b", "1")
	if !ok || e.LastBody != "y" {
		t.Fatalf("Get(b,1) = %+v, %v", e, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
	got := m.Sources()
	if len(got) != 2 || got[0].Source != "a" || got[1].Notified != 1 {
		t.Fatalf("Sources = %+v", got)
	}
}

func TestMemoryPersistErrorsAreSwallowed(t *testing.T) {
	t.Parallel()
	p := &fakePersister{err: errors.New("disk full")}
	m := NewMemory(WithPersister(p))
	m.Put("feed", "42", monitor.StateEntry{LastBody: "post"})
	if len(p.puts) != 1 || p.puts[0] != "feed/42" {
		t.Fatalf("puts = %v", p.puts)
	}
	if e, ok := m.Get("feed", "42"); !ok || e.LastBody != "post" {
		t.Fatal("in-memory write lost after persist failure")
	}
}

func TestMemoryRestore(t *testing.T) {
	t.Parallel()
	p := &fakePersister{stored: map[string]monitor.StateEntry{
		"1": {LastBody: "a", Notified: true, FirstSeenAt: time.Unix(10, 0)},
		"2": {LastBody: "b"},
	}}
	m := NewMemory(WithPersister(p))
	n, err := m.Restore(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	if e, ok := m.Get("feed", "1"); !ok || !e.Notified {
		t.Fatalf("restored entry = %+v, %v", e, ok)
	}
	if len(p.puts) != 0 {
		t.Fatal("Restore wrote back to the persister")
	}
}

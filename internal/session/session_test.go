package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"pollwatch/internal/monitor"
	logx "pollwatch/pkg/logx"
)

type fakeAuth struct {
	calls int
	token []byte
	err   error
}

func (f *fakeAuth) Login(_ context.Context, creds map[string]string) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.token, creds["user"], nil
}

type failingStore struct{ *MemoryStore }

func (failingStore) SaveSession(context.Context, string, []byte) error {
	return errors.New("read-only filesystem")
}

func TestEnsureLoggedInLogsInAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	m := NewManager(store, logx.Nop(), WithClock(func() time.Time { return now }))
	auth := &fakeAuth{token: []byte("cookie")}
	s := New("feed", map[string]string{"user": "watcher"}, auth)

	if err := m.EnsureLoggedIn(ctx, s); err != nil {
		t.Fatalf("EnsureLoggedIn: %v", err)
	}
	if auth.calls != 1 || string(s.Token) != "cookie" || s.LoggedInAs != "watcher" {
		t.Fatalf("calls=%d token=%q as=%q", auth.calls, s.Token, s.LoggedInAs)
	}
	if !s.LastLoginAttempt.Equal(now) {
		t.Fatalf("LastLoginAttempt = %v, want %v", s.LastLoginAttempt, now)
	}
	if tok, ok, _ := store.LoadSession(ctx, "feed"); !ok || string(tok) != "cookie" {
		t.Fatalf("persisted = %q, %v", tok, ok)
	}

	// already logged in: no remote contact
	if err := m.EnsureLoggedIn(ctx, s); err != nil || auth.calls != 1 {
		t.Fatalf("second EnsureLoggedIn: err=%v calls=%d", err, auth.calls)
	}
}

func TestEnsureLoggedInRestoresPersistedToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.SaveSession(ctx, "feed", []byte("saved"))
	m := NewManager(store, logx.Nop())
	auth := &fakeAuth{token: []byte("fresh")}
	s := New("feed", nil, auth)

	if err := m.EnsureLoggedIn(ctx, s); err != nil {
		t.Fatalf("EnsureLoggedIn: %v", err)
	}
	if auth.calls != 0 {
		t.Fatalf("login called %d times, want 0", auth.calls)
	}
	if string(s.Token) != "saved" {
		t.Fatalf("Token = %q, want saved", s.Token)
	}
	if !s.LastLoginAttempt.IsZero() {
		t.Fatal("restore stamped LastLoginAttempt")
	}
}

func TestEnsureLoggedInFailureIsAuthError(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, logx.Nop())
	s := New("feed", nil, &fakeAuth{err: errors.New("bad password")})
	err := m.EnsureLoggedIn(context.Background(), s)
	if !monitor.IsAuth(err) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if s.LoggedIn() {
		t.Fatal("session logged in after failure")
	}
}

func TestEnsureLoggedInSurvivesPersistFailure(t *testing.T) {
	t.Parallel()
	m := NewManager(failingStore{NewMemoryStore()}, logx.Nop())
	s := New("feed", nil, &fakeAuth{token: []byte("t")})
	if err := m.EnsureLoggedIn(context.Background(), s); err != nil {
		t.Fatalf("EnsureLoggedIn: %v", err)
	}
	if !s.LoggedIn() {
		t.Fatal("session not usable after persist failure")
	}
}

func TestInvalidateForcesFreshLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, logx.Nop())
	auth := &fakeAuth{token: []byte("t1")}
	s := New("feed", nil, auth)
	if err := m.EnsureLoggedIn(ctx, s); err != nil {
		t.Fatalf("EnsureLoggedIn: %v", err)
	}

	m.Invalidate(ctx, s)
	if s.LoggedIn() || s.LoggedInAs != "" {
		t.Fatal("Invalidate kept the token")
	}
	if _, ok, _ := store.LoadSession(ctx, "feed"); ok {
		t.Fatal("Invalidate kept the persisted token")
	}

	auth.token = []byte("t2")
	if err := m.EnsureLoggedIn(ctx, s); err != nil {
		t.Fatalf("EnsureLoggedIn after invalidate: %v", err)
	}
	if auth.calls != 2 || string(s.Token) != "t2" {
		t.Fatalf("calls=%d token=%q, want fresh login", auth.calls, s.Token)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.SaveSession(ctx, "feed", []byte("old"))
	m := NewManager(store, logx.Nop())
	if err := m.Reset(ctx, "feed"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok, _ := store.LoadSession(ctx, "feed"); ok {
		t.Fatal("token survived Reset")
	}
}

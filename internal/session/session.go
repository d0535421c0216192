package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pollwatch/internal/monitor"
	logx "pollwatch/pkg/logx"
)

// Authenticator performs a remote login for one source.
type Authenticator interface {
	Login(ctx context.Context, credentials map[string]string) (token []byte, identity string, err error)
}

// TokenStore persists opaque session tokens. storage.Store implements it;
// MemoryStore is the fallback when storage is disabled.
type TokenStore interface {
	LoadSession(ctx context.Context, sourceKey string) ([]byte, bool, error)
	SaveSession(ctx context.Context, sourceKey string, token []byte) error
	DeleteSession(ctx context.Context, sourceKey string) error
}

// Session is the login state of one authenticated source.
//
// An empty Token means not logged in. RetryAfter is the login cool-down
// gate maintained by the scheduler.
type Session struct {
	SourceKey        string
	Credentials      map[string]string
	Token            []byte
	LoggedInAs       string
	LastLoginAttempt time.Time
	RetryAfter       time.Time

	auth Authenticator
}

func New(sourceKey string, credentials map[string]string, auth Authenticator) *Session {
	return &Session{SourceKey: sourceKey, Credentials: credentials, auth: auth}
}

func (s *Session) LoggedIn() bool { return s != nil && len(s.Token) > 0 }

// Manager restores, establishes and discards sessions. It never sleeps;
// login pacing is the scheduler's job.
type Manager struct {
	store TokenStore
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(store TokenStore, log logx.Logger, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EnsureLoggedIn makes s usable: it keeps an existing token, restores a
// persisted one, or performs a fresh login and persists the result.
// Login failures are returned as *monitor.AuthError.
func (m *Manager) EnsureLoggedIn(ctx context.Context, s *Session) error {
	if s == nil {
		return errors.New("session: nil session")
	}
	if s.LoggedIn() {
		return nil
	}
	log := m.log.With(logx.String("source", s.SourceKey))

	tok, ok, err := m.store.LoadSession(ctx, s.SourceKey)
	switch {
	case err != nil:
		log.Warn("session restore failed; logging in", logx.Err(err))
	case ok:
		s.Token = tok
		log.Debug("session restored", logx.Int("token_bytes", len(tok)))
		return nil
	}

	if s.auth == nil {
		return &monitor.AuthError{Source: s.SourceKey, Cause: errors.New("source has no authenticator")}
	}

	s.LastLoginAttempt = m.now()
	tok, identity, err := s.auth.Login(ctx, s.Credentials)
	if err != nil {
		if monitor.IsAuth(err) {
			return err
		}
		return &monitor.AuthError{Source: s.SourceKey, Cause: err}
	}
	if len(tok) == 0 {
		return &monitor.AuthError{Source: s.SourceKey, Cause: errors.New("login returned an empty session")}
	}
	s.Token = tok
	s.LoggedInAs = identity

	if err := m.store.SaveSession(ctx, s.SourceKey, tok); err != nil {
		// The session still works for this run; only restart continuity is lost.
		log.Warn("session persist failed", logx.Err(err))
	}
	log.Info("logged in", logx.String("as", identity))
	return nil
}

// Invalidate drops the in-memory and persisted token so the next
// EnsureLoggedIn performs a fresh login.
func (m *Manager) Invalidate(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	s.Token = nil
	s.LoggedInAs = ""
	if err := m.store.DeleteSession(ctx, s.SourceKey); err != nil {
		m.log.Warn("session discard failed", logx.String("source", s.SourceKey), logx.Err(err))
	}
}

// Reset discards any persisted token for sourceKey, used when sessions must
// not survive a restart.
func (m *Manager) Reset(ctx context.Context, sourceKey string) error {
	if err := m.store.DeleteSession(ctx, sourceKey); err != nil {
		return fmt.Errorf("reset session %s: %w", sourceKey, err)
	}
	return nil
}

// MemoryStore keeps tokens in process memory only.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string][]byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{tokens: map[string][]byte{}} }

func (s *MemoryStore) LoadSession(_ context.Context, sourceKey string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[sourceKey]
	return append([]byte(nil), tok...), ok && len(tok) > 0, nil
}

func (s *MemoryStore) SaveSession(_ context.Context, sourceKey string, token []byte) error {
	s.mu.Lock()
	s.tokens[sourceKey] = append([]byte(nil), token...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sourceKey string) error {
	s.mu.Lock()
	delete(s.tokens, sourceKey)
	s.mu.Unlock()
	return nil
}

package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pollwatch/internal/notifier"
	rtsup "pollwatch/internal/runtime/supervisor"
	"pollwatch/internal/state"
	"pollwatch/internal/task/scheduler"
	logx "pollwatch/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6061"

// Config controls the optional status HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CheckExposure refuses a non-loopback bind without a token unless
// AllowInsecure is set.
func CheckExposure(cfg Config) error {
	if !cfg.Enabled || cfg.Token != "" || cfg.AllowInsecure {
		return nil
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	if !isLoopbackAddr(addr) {
		return fmt.Errorf("non-loopback addr %q requires token or allow_insecure", addr)
	}
	return nil
}

// Providers supply the snapshots served on /status. Any may be nil.
type Providers struct {
	Scheduler  func() scheduler.Snapshot
	State      func() []state.SourceCount
	Deliveries func() []notifier.HistoryItem
	Supervisor func() rtsup.Snapshot
}

// Report is the /status body.
type Report struct {
	Version    string                 `json:"version,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	Uptime     string                 `json:"uptime"`
	Scheduler  *scheduler.Snapshot    `json:"scheduler,omitempty"`
	State      []state.SourceCount    `json:"state,omitempty"`
	Deliveries []notifier.HistoryItem `json:"deliveries,omitempty"`
	Supervisor *rtsup.Snapshot        `json:"supervisor,omitempty"`
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	p         Providers
	version   string
	startedAt time.Time
	now       func() time.Time

	sup *rtsup.Supervisor
	srv *http.Server
}

type Option func(*Service)

func WithVersion(v string) Option { return func(s *Service) { s.version = v } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, p Providers, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Service{cfg: cfg, p: p, log: log.With(logx.String("comp", "status")), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.startedAt = s.now()
	return s
}

// Handler builds the router. Exported for tests and embedding.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	r.Use(s.auth)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/status/sources/{key}", s.handleSource)
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Start serves under a restart loop until Stop or ctx cancellation. A
// disabled or insecurely exposed config is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return
	}
	if err := CheckExposure(s.cfg); err != nil {
		s.log.Error("status server refused to start", logx.Err(err))
		return
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("status server running without token on non-loopback addr (insecure)", logx.String("addr", s.cfg.Addr))
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("status server stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("status server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("status server exited unexpectedly")
	}
	return err
}

// handleHealth is 200 while the poll loop keeps ticking and 503 once it has
// missed three ticks.
func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.p.Scheduler == nil {
		writeText(w, http.StatusOK, "ok")
		return
	}
	snap := s.p.Scheduler()
	if snap.Ticks == 0 {
		writeText(w, http.StatusOK, "starting")
		return
	}
	if stale := s.now().Sub(snap.LastAt); snap.Tick > 0 && stale > 3*snap.Tick+time.Minute {
		writeText(w, http.StatusServiceUnavailable, "stale: last tick "+stale.Truncate(time.Second).String()+" ago")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	rep := Report{
		Version:   s.version,
		StartedAt: s.startedAt,
		Uptime:    now.Sub(s.startedAt).Truncate(time.Second).String(),
	}
	if s.p.Scheduler != nil {
		snap := s.p.Scheduler()
		rep.Scheduler = &snap
	}
	if s.p.State != nil {
		rep.State = s.p.State()
	}
	if s.p.Deliveries != nil {
		rep.Deliveries = s.p.Deliveries()
	}
	if s.p.Supervisor != nil {
		snap := s.p.Supervisor()
		rep.Supervisor = &snap
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Service) handleSource(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if s.p.Scheduler != nil {
		for _, st := range s.p.Scheduler().Sources {
			if st.Key == key {
				writeJSON(w, http.StatusOK, st)
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source " + key})
}

// auth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Service) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

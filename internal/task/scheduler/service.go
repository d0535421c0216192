package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pollwatch/internal/eventbus"
	"pollwatch/internal/monitor"
	"pollwatch/internal/notifier"
	"pollwatch/internal/session"
	"pollwatch/internal/state"
	logx "pollwatch/pkg/logx"
)

const (
	defaultLoginCooldown = 30 * time.Minute
	minTick              = time.Second
)

var errLoginBackoff = errors.New("login cool-down active")

// Service is the poll loop. Run drives it in production; tests call RunTick
// with an injected clock.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	bus      eventbus.Bus
	now      func() time.Time
	store    state.Store
	sessions *session.Manager
	dispatch Dispatcher

	runs []*sourceRun
	tick time.Duration

	ticks    uint64
	lastTick string
	lastAt   time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

// New compiles every source schedule. A bad schedule is a *monitor.ConfigError.
func New(cfg Config, sources []Source, store state.Store, sessions *session.Manager, dispatch Dispatcher, log logx.Logger, opts ...Option) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LoginCooldown <= 0 {
		cfg.LoginCooldown = defaultLoginCooldown
	}
	if store == nil {
		return nil, errors.New("scheduler: state store required")
	}
	if dispatch == nil {
		return nil, errors.New("scheduler: dispatcher required")
	}
	if sessions == nil {
		sessions = session.NewManager(nil, log)
	}
	s := &Service{
		log:      log.With(logx.String("comp", "scheduler")),
		cfg:      cfg,
		now:      time.Now,
		store:    store,
		sessions: sessions,
		dispatch: dispatch,
	}
	for _, o := range opts {
		o(s)
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, &monitor.ConfigError{Field: "scheduler.timezone", Cause: err}
		}
		loc = l
	}

	seen := map[string]bool{}
	ref := s.now()
	var shortest time.Duration
	for _, src := range sources {
		field := "sources." + src.Key
		if src.Key == "" {
			return nil, monitor.ConfigErrorf("sources", "source without key")
		}
		if seen[src.Key] {
			return nil, monitor.ConfigErrorf(field, "duplicate source key")
		}
		seen[src.Key] = true
		if src.Adapter == nil {
			return nil, monitor.ConfigErrorf(field, "no adapter")
		}
		if src.Renderer == nil {
			return nil, monitor.ConfigErrorf(field+".message", "no renderer")
		}
		sched, err := Compile(src.Schedule, loc)
		if err != nil {
			return nil, &monitor.ConfigError{Field: field + ".poll_interval", Cause: err}
		}
		run := &sourceRun{src: src, sched: sched, phase: PhaseIdle}
		if auth, ok := src.Adapter.(session.Authenticator); ok {
			run.sess = session.New(src.Key, src.Credentials, auth)
		}
		s.runs = append(s.runs, run)
		if p := period(sched, ref); p > 0 && (shortest == 0 || p < shortest) {
			shortest = p
		}
	}

	s.tick = cfg.Tick
	if s.tick <= 0 {
		s.tick = shortest
	}
	if s.tick < minTick {
		s.tick = minTick
	}
	return s, nil
}

// Tick returns the loop period.
func (s *Service) Tick() time.Duration { return s.tick }

// Run ticks until ctx is cancelled. A tick in flight when ctx is cancelled
// runs to completion; adapters and sinks bound their own I/O.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		logx.Int("sources", len(s.runs)),
		logx.Duration("tick", s.tick),
		logx.Int("workers", s.cfg.Workers),
	)
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-t.C:
		}
		s.RunTick(context.WithoutCancel(ctx))
		t.Reset(s.tick)
	}
}

// RunTick polls every due source once and waits for all of them.
func (s *Service) RunTick(ctx context.Context) TickReport {
	now := s.now()
	rep := TickReport{ID: uuid.NewString(), At: now, Errors: map[string]error{}}
	log := s.log.With(logx.String("tick", rep.ID))

	s.mu.Lock()
	s.ticks++
	s.lastTick = rep.ID
	s.lastAt = now
	var due []*sourceRun
	for _, r := range s.runs {
		if !now.Before(r.nextDue) {
			due = append(due, r)
			r.nextDue = r.sched.Next(now)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return rep
	}
	log.Debug("tick", logx.Int("due", len(due)))

	var (
		rmu sync.Mutex
		g   errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)
	for _, r := range due {
		g.Go(func() error {
			err := s.pollSafe(ctx, log, rep.ID, r, now)
			rmu.Lock()
			defer rmu.Unlock()
			switch {
			case errors.Is(err, errLoginBackoff):
				rep.Skipped = append(rep.Skipped, r.src.Key)
			case err != nil:
				rep.Polled = append(rep.Polled, r.src.Key)
				rep.Errors[r.src.Key] = err
			default:
				rep.Polled = append(rep.Polled, r.src.Key)
			}
			// Source failures are isolated; the group never fails.
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// pollSafe runs one poll, converting panics to errors and recording the
// outcome in the source status.
func (s *Service) pollSafe(ctx context.Context, log logx.Logger, tickID string, r *sourceRun, now time.Time) (err error) {
	log = log.With(logx.String("source", r.src.Key))
	var nRecords, nNotified int
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			log.Error("source poll panicked", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
		s.finish(log, tickID, r, now, nRecords, nNotified, err)
	}()
	nRecords, nNotified, err = s.poll(ctx, log, r, now)
	return err
}

func (s *Service) poll(ctx context.Context, log logx.Logger, r *sourceRun, now time.Time) (int, int, error) {
	src := r.src

	if r.sess != nil {
		if now.Before(r.sess.RetryAfter) {
			s.mu.Lock()
			r.loginSkips++
			s.mu.Unlock()
			log.Debug("login cool-down; skipping", logx.Time("retry_at", r.sess.RetryAfter))
			return 0, 0, errLoginBackoff
		}
		err := s.sessions.EnsureLoggedIn(ctx, r.sess)
		if err != nil {
			r.sess.RetryAfter = now.Add(s.cfg.LoginCooldown)
			log.Warn("login failed; backing off", logx.Err(err), logx.Time("retry_at", r.sess.RetryAfter))
		}
		s.syncSession(r)
		if err != nil {
			return 0, 0, err
		}
	}

	s.setPhase(r, PhaseFetching)
	seq, err := src.Adapter.Fetch(ctx, r.sess)
	if err != nil {
		if monitor.IsAuth(err) && r.sess != nil {
			log.Warn("session rejected; will log in again", logx.Err(err))
			s.sessions.Invalidate(ctx, r.sess)
			s.syncSession(r)
		}
		return 0, 0, err
	}

	s.setPhase(r, PhaseEvaluating)
	var (
		items    []notifier.RenderData
		nRecords int
		dropped  uint64
	)
	for rec := range seq {
		nRecords++
		if rec.Key == "" {
			dropped++
			log.Warn("record without key dropped", logx.String("author", rec.Author), logx.String("body", logx.Truncate(rec.Body, 60)))
			continue
		}
		if rec.SourceKey == "" {
			rec.SourceKey = src.Key
		}
		var prior *monitor.StateEntry
		if e, ok := s.store.Get(src.Key, rec.Key); ok {
			prior = &e
		}
		d, next := monitor.Evaluate(rec, prior, src.Policy, now)
		if next != nil {
			s.store.Put(src.Key, rec.Key, *next)
		}
		if d.Kind == monitor.Notify {
			log.Debug("record notified", logx.String("record", rec.Key), logx.String("reason", d.Reason))
			items = append(items, src.Renderer.Data(rec, d, src.Policy.Threshold))
		}
	}
	if dropped > 0 {
		s.mu.Lock()
		r.droppedKeyless += dropped
		s.mu.Unlock()
	}
	if len(items) == 0 {
		return nRecords, 0, nil
	}

	s.setPhase(r, PhaseDispatching)
	msgs, err := src.Renderer.Render(src.Key, items)
	if err != nil {
		// State is already committed; a broken template loses these alerts only.
		s.countDispatch(r, 0, len(items))
		return nRecords, len(items), &monitor.DispatchError{Sink: src.Sink.Name, Cause: fmt.Errorf("render: %w", err)}
	}
	failed := 0
	for _, msg := range msgs {
		if err := s.dispatch.Send(ctx, src.Sink, msg); err != nil {
			failed++
			log.Warn("dispatch failed", logx.Err(err), logx.Strs("records", msg.Records))
		}
	}
	s.countDispatch(r, len(msgs)-failed, failed)
	return nRecords, len(items), nil
}

func (s *Service) finish(log logx.Logger, tickID string, r *sourceRun, now time.Time, nRecords, nNotified int, err error) {
	if errors.Is(err, errLoginBackoff) {
		s.setPhase(r, PhaseIdle)
		return
	}
	s.mu.Lock()
	r.phase = PhaseIdle
	r.polls++
	r.lastPoll = now
	r.records += uint64(nRecords)
	if err == nil {
		r.lastSuccess = now
		r.failures = 0
	} else {
		r.failures++
		r.lastErr = err.Error()
		r.lastErrAt = now
	}
	failures := r.failures
	s.mu.Unlock()

	ev := PollEvent{Tick: tickID, Source: r.src.Key, Records: nRecords, Notified: nNotified, At: now}
	typ := EventPollDone
	if err != nil {
		typ = EventPollFailed
		ev.Error = err.Error()
		if monitor.IsRetryable(err) {
			log.Warn("source poll failed", logx.Err(err), logx.Int("consecutive", failures))
		} else {
			log.Error("source poll failed", logx.Err(err), logx.Int("consecutive", failures))
		}
	} else {
		log.Debug("source polled", logx.Int("records", nRecords), logx.Int("notified", nNotified))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
	}
}

func (s *Service) setPhase(r *sourceRun, p Phase) {
	s.mu.Lock()
	r.phase = p
	s.mu.Unlock()
}

func (s *Service) syncSession(r *sourceRun) {
	s.mu.Lock()
	r.loggedIn = r.sess.LoggedIn()
	r.loggedInAs = r.sess.LoggedInAs
	r.retryAt = r.sess.RetryAfter
	s.mu.Unlock()
}

func (s *Service) countDispatch(r *sourceRun, ok, failed int) {
	s.mu.Lock()
	r.notifications += uint64(ok)
	r.dispatchFailures += uint64(failed)
	s.mu.Unlock()
}

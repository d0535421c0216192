package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pollwatch/internal/config"
	"pollwatch/internal/eventbus"
	"pollwatch/internal/notifier"
	"pollwatch/internal/observability/status"
	"pollwatch/internal/runtime/supervisor"
	"pollwatch/internal/session"
	"pollwatch/internal/source"
	"pollwatch/internal/state"
	"pollwatch/internal/storage"
	"pollwatch/internal/task/scheduler"
	logx "pollwatch/pkg/logx"
)

type App struct {
	cfgm    *config.ConfigManager
	sup     *supervisor.Supervisor
	version string

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	state    *state.Memory
	sessions *session.Manager
	browser  *source.BrowserFetcher

	sched  *scheduler.Service
	notif  *notifier.Service
	status *status.Service
}

type Option func(*App)

// WithVersion is reported on /status.
func WithVersion(v string) Option { return func(a *App) { a.version = v } }

// NewApp loads and validates the config and builds every component. Nothing
// runs until Start. A config problem is returned as *monitor.ConfigError.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewConfigManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	a.logs, a.log = logx.New(cfg.LogConfig())
	a.log = a.log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	// Storage (optional)
	sc, err := cfg.StorageSettings()
	if err != nil {
		a.logs.Close()
		return nil, err
	}
	st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		a.logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = st
	if st != nil {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	if err := a.build(cfg); err != nil {
		a.closeStorage()
		a.logs.Close()
		return nil, err
	}
	return a, nil
}

// build wires state, sessions, adapters, notifier, scheduler and the status
// server from a validated config.
func (a *App) build(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stateOpts := []state.Option{state.WithLogger(a.log.With(logx.String("comp", "state")))}
	if cfg.State.Persist && a.store != nil {
		stateOpts = append(stateOpts, state.WithPersister(a.store))
	}
	a.state = state.NewMemory(stateOpts...)
	if n, err := a.state.Restore(ctx); err != nil {
		a.log.Warn("state restore failed; starting with empty baselines", logx.Err(err))
	} else if n > 0 {
		a.log.Info("state restored", logx.Int("records", n))
	}

	var tokens session.TokenStore
	if a.store != nil {
		tokens = a.store
	}
	a.sessions = session.NewManager(tokens, a.log.With(logx.String("comp", "session")))

	plans, err := cfg.Plans()
	if err != nil {
		return err
	}
	if cfg.Session.ClearOnStart {
		for _, p := range plans {
			if err := a.sessions.Reset(ctx, p.Key); err != nil {
				a.log.Warn("session reset failed", logx.String("source", p.Key), logx.Err(err))
			}
		}
	}

	deps, browser, err := sourceDeps(cfg, a.log)
	if err != nil {
		return err
	}
	a.browser = browser
	sources, err := buildSources(plans, deps)
	if err != nil {
		return err
	}

	ncfg, err := cfg.NotifierSettings()
	if err != nil {
		return err
	}
	nopts := []notifier.Option{notifier.WithBus(a.bus)}
	if a.store != nil {
		nopts = append(nopts, notifier.WithDeliveryLog(a.store))
	}
	a.notif = notifier.New(ncfg, a.log, nopts...)

	scfg, err := cfg.SchedulerSettings()
	if err != nil {
		return err
	}
	a.sched, err = scheduler.New(scfg, sources, a.state, a.sessions, a.notif, a.log, scheduler.WithBus(a.bus))
	if err != nil {
		return err
	}

	stcfg, err := cfg.StatusSettings()
	if err != nil {
		return err
	}
	a.status = status.New(stcfg, status.Providers{
		Scheduler:  a.sched.Snapshot,
		State:      a.state.Sources,
		Deliveries: a.notif.Snapshot,
		Supervisor: func() supervisor.Snapshot { return a.sup.Snapshot() },
	}, a.log, status.WithVersion(a.version))

	a.log.Info("app built",
		logx.Int("sources", len(sources)),
		logx.Duration("tick", a.sched.Tick()),
		logx.Bool("browser", browser != nil),
		logx.Bool("persist", cfg.State.Persist && a.store != nil),
	)
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	a.sup.Go("scheduler", a.sched.Run)

	a.status.Start(a.sup.Context())

	events, unsubscribe := a.bus.Subscribe(256)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsubscribe()
		log := a.log.With(logx.String("comp", "eventbus"))
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	cfgCh := a.cfgm.Subscribe(1)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(cfgCh)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-cfgCh:
				if !ok {
					return nil
				}
				// coalesce bursts: only the newest config matters
				for drained := false; !drained; {
					select {
					case next, ok := <-cfgCh:
						if !ok {
							return nil
						}
						newCfg = next
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("systemd.watchdog", a.watchdog)
	notifyReady(a.log)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig applies the live sections of a reloaded config and warns about
// the rest, which keep their startup values until restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	var pending []string
	for _, s := range sections {
		switch {
		case s == "logging":
			a.logs.Apply(newCfg.LogConfig())
		case !config.LiveSections[s]:
			pending = append(pending, s)
		}
	}
	if len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(pending, ",")))
	}

	// Keep the final log line concise and human-friendly (details are in debug logs).
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Status first so probes see the process going away; then wait for the
	// scheduler to finish any tick in flight before closing what it writes to.
	// The tick is bounded by the fetch and send timeouts, so only the caller's
	// deadline can cut this wait short.
	step(ctx, a.log, "status", 1*time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step(ctx, a.log, "supervisor", 0, func(c context.Context) error { return a.sup.Wait(c) })
	step(ctx, a.log, "browser", 2*time.Second, func(context.Context) error {
		if a.browser != nil {
			return a.browser.Close()
		}
		return nil
	})
	step(ctx, a.log, "notifier", 1*time.Second, func(context.Context) error { return a.notif.Close() })
	step(ctx, a.log, "storage", 1*time.Second, func(context.Context) error { return a.closeStorage() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func (a *App) closeStorage() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. A zero limit waits as long as ctx allows. fn must
// honor its context.
func step(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	if ctx.Err() != nil {
		log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	var (
		stepCtx context.Context
		cancel  context.CancelFunc
	)
	if limit > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, limit)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		// Leak logging: observe when/if the step eventually finishes.
		go func() {
			err := <-done
			log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}

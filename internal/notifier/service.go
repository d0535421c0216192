package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pollwatch/internal/eventbus"
	"pollwatch/internal/monitor"
	"pollwatch/internal/storage"
	logx "pollwatch/pkg/logx"

	"golang.org/x/time/rate"
)

// Sender delivers a message to one kind of sink.
type Sender interface {
	Send(ctx context.Context, sink Sink, msg Message) error
}

// DeliveryLog receives one entry per Send call. storage.Store implements it.
type DeliveryLog interface {
	AppendDelivery(ctx context.Context, e storage.DeliveryEntry) error
}

// Service delivers notifications synchronously: rate limit + retry + history.
//
// Delivery is best-effort. Failures come back as *monitor.DispatchError and
// are never retried beyond Config.RetryMax. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log        logx.Logger
	bus        eventbus.Bus
	deliveries DeliveryLog
	senders    map[string]Sender

	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

// WithSender registers (or replaces) the sender for a sink kind.
func WithSender(kind string, s Sender) Option {
	return func(svc *Service) { svc.senders[kind] = s }
}

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

// WithDeliveryLog appends every delivery outcome to d.
func WithDeliveryLog(d DeliveryLog) Option { return func(s *Service) { s.deliveries = d } }

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "notifier"))
	s := &Service{log: log}
	s.senders = map[string]Sender{
		KindWebhook:  newWebhookSender(nil),
		KindDesktop:  newDesktopSender(log),
		KindTelegram: newTelegramSender(),
		KindLog:      logSender{log: log},
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers msg to sink. It blocks for the rate limiter and any retries.
func (s *Service) Send(ctx context.Context, sink Sink, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	snd := s.senders[sink.Kind]
	s.mu.Unlock()

	name := sink.Name
	if name == "" {
		name = sink.Kind
	}
	if snd == nil {
		return &monitor.DispatchError{Sink: name, Cause: fmt.Errorf("%w: %q", ErrUnknownSink, sink.Kind)}
	}

	start := time.Now()
	maxAttempts := 1 + cfg.RetryMax
	attempts := 0
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				if lastErr == nil {
					lastErr = err
				}
				break
			}
		}

		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := snd.Send(callCtx, sink, msg)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("sink", name), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || IsNoRetry(err) {
			break
		}
		if !sleepCtx(ctx, nextDelay(cfg, attempt, err)) {
			break
		}
	}

	s.record(ctx, sink, name, msg, attempts, lastErr, time.Since(start))
	if lastErr != nil {
		return &monitor.DispatchError{Sink: name, Cause: lastErr}
	}
	return nil
}

func (s *Service) record(ctx context.Context, sink Sink, name string, msg Message, attempts int, err error, took time.Duration) {
	now := time.Now()
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	s.appendHistory(HistoryItem{At: now, Sink: name, Source: msg.Source, Title: msg.Title, OK: err == nil, Attempts: attempts, Error: errText})

	s.mu.Lock()
	bus := s.bus
	dl := s.deliveries
	s.mu.Unlock()

	if bus != nil {
		typ := EventSent
		if err != nil {
			typ = EventFailed
		}
		bus.Publish(eventbus.Event{Type: typ, Time: now, Data: NotificationEvent{
			Sink: name, Kind: sink.Kind, Source: msg.Source, Records: msg.Records,
			Attempts: attempts, At: now, Error: errText,
		}})
	}
	if dl != nil {
		// The delivery log must not hold up the tick when the caller is shutting down.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if lerr := dl.AppendDelivery(lctx, storage.DeliveryEntry{
			At: now, Source: msg.Source, Records: msg.Records, Sink: name, SinkKind: sink.Kind,
			OK: err == nil, Attempts: attempts, Error: errText, TookMS: took.Milliseconds(),
		}); lerr != nil {
			s.log.Warn("delivery log append failed", logx.Err(lerr))
		}
	}
}

// Snapshot returns the recent delivery history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// Close releases sender resources.
func (s *Service) Close() error {
	s.mu.Lock()
	senders := s.senders
	s.mu.Unlock()
	var errs []error
	for _, snd := range senders {
		if c, ok := snd.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func nextDelay(cfg Config, attempt int, err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
		}
		return d
	}
	return retryDelay(cfg, attempt)
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ValidateSink checks the fields a sink kind needs. It returns a
// *monitor.ConfigError naming the offending field.
func ValidateSink(field string, sink Sink) error {
	switch sink.Kind {
	case KindWebhook:
		if sink.URL == "" {
			return monitor.ConfigErrorf(field+".url", "webhook sink needs a url")
		}
		switch sink.Format {
		case "", FormatDiscord, FormatSlack, FormatRaw:
		default:
			return monitor.ConfigErrorf(field+".format", "unknown webhook format %q", sink.Format)
		}
	case KindTelegram:
		if sink.Token == "" {
			return monitor.ConfigErrorf(field+".token", "telegram sink needs a bot token")
		}
		if sink.ChatID == 0 {
			return monitor.ConfigErrorf(field+".chat_id", "telegram sink needs a chat id")
		}
	case KindDesktop, KindLog:
	default:
		return monitor.ConfigErrorf(field+".kind", "%v: %q", ErrUnknownSink, sink.Kind)
	}
	return nil
}

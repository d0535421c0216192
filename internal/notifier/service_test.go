package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pollwatch/internal/eventbus"
	"pollwatch/internal/monitor"
	"pollwatch/internal/storage"
	logx "pollwatch/pkg/logx"
)

type scriptedSender struct {
	mu    sync.Mutex
	errs  []error // returned in order; nil once exhausted
	calls int
	last  Message
}

func (s *scriptedSender) Send(_ context.Context, _ Sink, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = msg
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type memDeliveries struct {
	mu      sync.Mutex
	entries []storage.DeliveryEntry
}

func (m *memDeliveries) AppendDelivery(_ context.Context, e storage.DeliveryEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func fastConfig(retries int) Config {
	return Config{RatePerSec: 1000, RetryMax: retries, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestSendSuccessRecordsHistoryEventAndDelivery(t *testing.T) {
	t.Parallel()
	snd := &scriptedSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	dl := &memDeliveries{}
	svc := New(fastConfig(0), logx.Nop(), WithSender("fake", snd), WithBus(bus), WithDeliveryLog(dl))

	msg := Message{Title: "t", Text: "x", Source: "board", Records: []string{"c1"}}
	if err := svc.Send(context.Background(), Sink{Name: "ops", Kind: "fake"}, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	h := svc.Snapshot()
	if len(h) != 1 || !h[0].OK || h[0].Sink != "ops" || h[0].Attempts != 1 {
		t.Fatalf("history = %+v", h)
	}
	select {
	case ev := <-events:
		if ev.Type != EventSent {
			t.Fatalf("event type = %q, want %q", ev.Type, EventSent)
		}
		if d := ev.Data.(NotificationEvent); d.Source != "board" || d.Sink != "ops" {
			t.Fatalf("event data = %+v", d)
		}
	default:
		t.Fatal("no bus event published")
	}
	if len(dl.entries) != 1 || !dl.entries[0].OK || dl.entries[0].Records[0] != "c1" {
		t.Fatalf("deliveries = %+v", dl.entries)
	}
}

func TestSendRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	snd := &scriptedSender{errs: []error{errors.New("503"), errors.New("503")}}
	svc := New(fastConfig(2), logx.Nop(), WithSender("fake", snd))
	if err := svc.Send(context.Background(), Sink{Kind: "fake"}, Message{Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if snd.calls != 3 {
		t.Fatalf("calls = %d, want 3", snd.calls)
	}
}

func TestSendNoRetryStopsEarly(t *testing.T) {
	t.Parallel()
	snd := &scriptedSender{errs: []error{NoRetry(errors.New("400 bad payload"))}}
	svc := New(fastConfig(3), logx.Nop(), WithSender("fake", snd))
	err := svc.Send(context.Background(), Sink{Name: "hook", Kind: "fake"}, Message{Text: "x"})
	if !monitor.IsDispatch(err) {
		t.Fatalf("err = %v, want DispatchError", err)
	}
	if snd.calls != 1 {
		t.Fatalf("calls = %d, want 1", snd.calls)
	}
	var de *monitor.DispatchError
	if errors.As(err, &de); de.Sink != "hook" {
		t.Fatalf("DispatchError.Sink = %q, want hook", de.Sink)
	}
}

func TestSendDefaultIsSingleAttempt(t *testing.T) {
	t.Parallel()
	snd := &scriptedSender{errs: []error{errors.New("down"), errors.New("down")}}
	svc := New(Config{RatePerSec: 1000}, logx.Nop(), WithSender("fake", snd))
	if err := svc.Send(context.Background(), Sink{Kind: "fake"}, Message{Text: "x"}); err == nil {
		t.Fatal("Send succeeded, want error")
	}
	if snd.calls != 1 {
		t.Fatalf("calls = %d, want 1", snd.calls)
	}
	if h := svc.Snapshot(); len(h) != 1 || h[0].OK || h[0].Error == "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendUnknownSink(t *testing.T) {
	t.Parallel()
	svc := New(fastConfig(0), logx.Nop())
	err := svc.Send(context.Background(), Sink{Name: "pager", Kind: "pager"}, Message{Text: "x"})
	if !monitor.IsDispatch(err) || !errors.Is(err, ErrUnknownSink) {
		t.Fatalf("err = %v, want DispatchError wrapping ErrUnknownSink", err)
	}
}

func TestNextDelayHonorsRetryAfter(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: time.Millisecond, RetryMaxDelay: time.Second}
	if d := nextDelay(cfg, 1, RetryAfter(errors.New("429"), 300*time.Millisecond)); d != 300*time.Millisecond {
		t.Fatalf("delay = %v, want 300ms", d)
	}
	if d := nextDelay(cfg, 1, RetryAfter(errors.New("429"), time.Hour)); d != time.Second {
		t.Fatalf("delay = %v, want capped 1s", d)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("retryDelay(%d) = %v, out of [0, %v]", attempt, d, cfg.RetryMaxDelay)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("retryDelay(1) = %v, want 70ms..130ms", d)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(0)
	cfg.HistorySize = 3
	svc := New(cfg, logx.Nop(), WithSender("fake", &scriptedSender{}))
	for i := 0; i < 5; i++ {
		_ = svc.Send(context.Background(), Sink{Kind: "fake"}, Message{Title: string(rune('a' + i))})
	}
	h := svc.Snapshot()
	if len(h) != 3 || h[0].Title != "c" || h[2].Title != "e" {
		t.Fatalf("history = %+v", h)
	}
}

func TestValidateSink(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		sink Sink
		ok   bool
	}{
		{"webhook", Sink{Kind: KindWebhook, URL: "https://hooks.example/x"}, true},
		{"webhook no url", Sink{Kind: KindWebhook}, false},
		{"webhook bad format", Sink{Kind: KindWebhook, URL: "https://h", Format: "teams"}, false},
		{"telegram", Sink{Kind: KindTelegram, Token: "1:abc", ChatID: -100}, true},
		{"telegram no chat", Sink{Kind: KindTelegram, Token: "1:abc"}, false},
		{"desktop", Sink{Kind: KindDesktop}, true},
		{"log", Sink{Kind: KindLog}, true},
		{"unknown", Sink{Kind: "fax"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSink("sinks.x", tc.sink)
			if tc.ok && err != nil {
				t.Fatalf("ValidateSink = %v, want nil", err)
			}
			if !tc.ok && !monitor.IsConfig(err) {
				t.Fatalf("ValidateSink = %v, want ConfigError", err)
			}
		})
	}
}

package config

import (
	"errors"
	"strings"
	"testing"

	"pollwatch/internal/monitor"
	"pollwatch/internal/source"
)

func baseConfig() *Config {
	return &Config{
		Sinks: map[string]SinkConfig{
			"hook": {Kind: "webhook", URL: "https://hooks.example/x"},
		},
		Sources: []SourceConfig{
			{
				Key:          "board",
				Kind:         "scrape",
				Target:       "https://example.com/board",
				PollInterval: "5m",
				Sink:         "hook",
				Scrape:       &ScrapeConfig{Container: "#posts"},
			},
			{
				Key:          "feed",
				Kind:         "feed",
				Target:       "42",
				PollInterval: "*/5 * * * *",
				Sink:         "log",
				Credentials:  map[string]string{"user": "u", "password": "p"},
				Policy:       PolicyConfig{Kind: "threshold_once", MetricThreshold: ptr(int64(100)), MaxAge: "3h"},
				Feed: &FeedConfig{
					ListURL:  "https://example.com/users/{id}/posts?count={count}",
					LoginURL: "https://example.com/login",
				},
			},
		},
	}
}

func ptr[T any](v T) *T { return &v }

func TestValidateAcceptsBaseConfig(t *testing.T) {
	t.Parallel()
	if err := Validate(baseConfig()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateReportsField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		edit  func(c *Config)
		field string
	}{
		{"no sources", func(c *Config) { c.Sources = nil }, "sources"},
		{"bad kind", func(c *Config) { c.Sources[0].Kind = "rss" }, "sources[0].kind"},
		{"missing interval", func(c *Config) { c.Sources[0].PollInterval = "" }, "sources[0].poll_interval"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad schedule", func(c *Config) { c.Sources[0].PollInterval = "sometimes" }, "sources.board.poll_interval"},
		{"unknown sink", func(c *Config) { c.Sources[0].Sink = "pager" }, "sources.board.sink"},
		{"duplicate key", func(c *Config) { c.Sources[1].Key = "board" }, "sources.board"},
		{"threshold without value", func(c *Config) { c.Sources[1].Policy.MetricThreshold = nil }, "sources.feed.policy.metric_threshold"},
		{"bad max age", func(c *Config) { c.Sources[1].Policy.MaxAge = "soon" }, "sources.feed.policy.max_age"},
		{"feed without credentials", func(c *Config) { c.Sources[1].Credentials = nil }, "sources.feed.credentials"},
		{"feed without section", func(c *Config) { c.Sources[1].Feed = nil }, "sources.feed.feed"},
		{"bad template", func(c *Config) { c.Sources[0].Message.Title = "{{.Nope" }, "sources.board.message"},
		{"bad scrape url", func(c *Config) { c.Sources[0].Target = "not a url" }, "sources.board.scrape.url"},
		{"webhook without url", func(c *Config) { c.Sinks["hook"] = SinkConfig{Kind: "webhook"} }, "sinks.hook.url"},
		{"telegram without chat", func(c *Config) { c.Sinks["tg"] = SinkConfig{Kind: "telegram", Token: "t"} }, "sinks.tg.chat_id"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad tick", func(c *Config) { c.Scheduler.Tick = "fast" }, "scheduler.tick"},
		{"persist without storage", func(c *Config) { c.State.Persist = true }, "state.persist"},
		{"storage without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"exposed status", func(c *Config) { c.Status = StatusConfig{Enabled: true, Addr: "0.0.0.0:6061"} }, "status.addr"},
		{"browser disabled render", func(c *Config) { c.Sources[0].Scrape.Render = "browser"; c.Browser.NavTimeout = "x" }, "browser.nav_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tc.edit(cfg)
			err := Validate(cfg)
			var ce *monitor.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if ce.Field != tc.field {
				t.Fatalf("field = %q, want %q (err %v)", ce.Field, tc.field, err)
			}
		})
	}
}

func TestValidateNeverEchoesValues(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Sinks["hook"] = SinkConfig{Kind: "webhook", URL: "hunter2-not-a-url"}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("want error for malformed url")
	}
	if strings.Contains(err.Error(), "hunter2") {
		t.Fatalf("error echoes the value: %v", err)
	}
}

func TestPlansResolveTargets(t *testing.T) {
	t.Parallel()
	plans, err := baseConfig().Plans()
	if err != nil {
		t.Fatalf("Plans: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("plans = %d, want 2", len(plans))
	}
	board, feed := plans[0], plans[1]
	if board.Spec.Kind != source.KindScrape || board.Spec.Scrape.URL != "https://example.com/board" {
		t.Fatalf("board spec = %+v", board.Spec)
	}
	if board.Policy.Kind != monitor.PolicyOnChange || board.Sink.Name != "hook" {
		t.Fatalf("board plan = %+v", board)
	}
	if feed.Spec.Feed.FeedID != "42" || feed.Policy.Threshold != 100 || feed.Sink.Kind != "log" {
		t.Fatalf("feed plan = %+v", feed)
	}
	if feed.Policy.MaxAge.Hours() != 3 || feed.Policy.AgeBasis != monitor.AgeFromSource {
		t.Fatalf("feed policy = %+v", feed.Policy)
	}
}

func TestNeedsBrowser(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if cfg.NeedsBrowser() {
		t.Fatalf("NeedsBrowser = true for http-only sources")
	}
	cfg.Sources[0].Scrape.Render = "browser"
	if !cfg.NeedsBrowser() {
		t.Fatalf("NeedsBrowser = false with a browser source")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate browser source: %v", err)
	}
}

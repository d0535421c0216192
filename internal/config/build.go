package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"pollwatch/internal/monitor"
	"pollwatch/internal/notifier"
	"pollwatch/internal/observability/status"
	"pollwatch/internal/source"
	"pollwatch/internal/storage"
	"pollwatch/internal/task/scheduler"
	logx "pollwatch/pkg/logx"
)

// SourcePlan is one source resolved into the runtime types the app wires:
// adapter spec, policy, templates and sink.
type SourcePlan struct {
	Key         string
	Schedule    string
	Spec        source.Spec
	Policy      monitor.Policy
	Render      notifier.RenderConfig
	Sink        notifier.Sink
	Credentials map[string]string
}

// builtinSinks need no entry in the sinks map.
var builtinSinks = map[string]notifier.Sink{
	notifier.KindDesktop: {Name: notifier.KindDesktop, Kind: notifier.KindDesktop},
	notifier.KindLog:     {Name: notifier.KindLog, Kind: notifier.KindLog},
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

func (c *Config) SchedulerSettings() (scheduler.Config, error) {
	tick, err := ParseDurationField("scheduler.tick", c.Scheduler.Tick)
	if err != nil {
		return scheduler.Config{}, err
	}
	cool, err := ParseDurationField("scheduler.login_cooldown", c.Scheduler.LoginCooldown)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Tick:          tick,
		Workers:       c.Scheduler.Workers,
		LoginCooldown: cool,
		Timezone:      strings.TrimSpace(c.Scheduler.Timezone),
	}, nil
}

func (c *Config) NotifierSettings() (notifier.Config, error) {
	n := c.Notifier
	if n == nil {
		return notifier.Config{}, nil
	}
	base, err := ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	timeout, err := ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   timeout,
		HistorySize:   n.HistorySize,
	}, nil
}

// StorageSettings returns the storage config; a nil section means disabled.
func (c *Config) StorageSettings() (storage.Config, error) {
	s := c.Storage
	if s == nil {
		return storage.Config{}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver != "" && driver != "none" && strings.TrimSpace(s.Path) == "" {
		return storage.Config{}, monitor.ConfigErrorf("storage.path", "path required for driver %q", driver)
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(s.Path), BusyTimeout: busy}, nil
}

func (c *Config) HTTPSettings() (source.HTTPConfig, error) {
	timeout, err := ParseDurationField("http.timeout", c.HTTP.Timeout)
	if err != nil {
		return source.HTTPConfig{}, err
	}
	return source.HTTPConfig{Timeout: timeout, MaxBytes: c.HTTP.MaxBytes, UserAgent: c.HTTP.UserAgent}, nil
}

func (c *Config) BrowserSettings() (source.BrowserConfig, error) {
	nav, err := ParseDurationField("browser.nav_timeout", c.Browser.NavTimeout)
	if err != nil {
		return source.BrowserConfig{}, err
	}
	return source.BrowserConfig{
		RemoteURL:      c.Browser.RemoteURL,
		Bin:            c.Browser.Bin,
		NavTimeout:     nav,
		DisableStealth: c.Browser.DisableStealth,
	}, nil
}

func (c *Config) StatusSettings() (status.Config, error) {
	s := c.Status
	var out status.Config
	var err error
	if out.ReadTimeout, err = ParseDurationField("status.read_timeout", s.ReadTimeout); err != nil {
		return status.Config{}, err
	}
	if out.WriteTimeout, err = ParseDurationField("status.write_timeout", s.WriteTimeout); err != nil {
		return status.Config{}, err
	}
	if out.IdleTimeout, err = ParseDurationField("status.idle_timeout", s.IdleTimeout); err != nil {
		return status.Config{}, err
	}
	out.Enabled = s.Enabled
	out.Addr = strings.TrimSpace(s.Addr)
	out.Token = strings.TrimSpace(s.Token)
	out.AllowInsecure = s.AllowInsecure
	out.Pprof = s.Pprof
	return out, nil
}

// NeedsBrowser reports whether any source renders through Chrome.
func (c *Config) NeedsBrowser() bool {
	for _, s := range c.Sources {
		if s.Scrape != nil && strings.EqualFold(strings.TrimSpace(s.Scrape.Render), source.RenderBrowser) {
			return true
		}
	}
	return false
}

// Sink resolves a sink name.
func (c *Config) Sink(name string) (notifier.Sink, bool) {
	if sc, ok := c.Sinks[name]; ok {
		return notifier.Sink{
			Name:     name,
			Kind:     sc.Kind,
			URL:      sc.URL,
			Format:   sc.Format,
			Token:    sc.Token,
			ChatID:   sc.ChatID,
			ThreadID: sc.ThreadID,
		}, true
	}
	s, ok := builtinSinks[name]
	return s, ok
}

// Plans resolves every source. Errors are *monitor.ConfigError naming the
// offending field.
func (c *Config) Plans() ([]SourcePlan, error) {
	seen := make(map[string]bool, len(c.Sources))
	out := make([]SourcePlan, 0, len(c.Sources))
	for i := range c.Sources {
		sc := &c.Sources[i]
		key := strings.TrimSpace(sc.Key)
		if seen[key] {
			return nil, monitor.ConfigErrorf("sources."+key, "duplicate source key")
		}
		seen[key] = true
		p, err := c.plan(key, sc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Config) plan(key string, sc *SourceConfig) (SourcePlan, error) {
	field := "sources." + key
	p := SourcePlan{Key: key, Schedule: strings.TrimSpace(sc.PollInterval), Credentials: sc.Credentials}

	sink, ok := c.Sink(sc.Sink)
	if !ok {
		return p, monitor.ConfigErrorf(field+".sink", "unknown sink %q", sc.Sink)
	}
	p.Sink = sink

	pol, err := buildPolicy(field+".policy", sc.Policy)
	if err != nil {
		return p, err
	}
	p.Policy = pol

	p.Render = notifier.RenderConfig{
		Title:       sc.Message.Title,
		Text:        sc.Message.Text,
		PreviewLen:  sc.Message.PreviewLen,
		MetricLabel: sc.Message.MetricLabel,
		Batch:       sc.Message.Batch,
	}
	if _, err := notifier.NewRenderer(p.Render, pol.Kind); err != nil {
		return p, &monitor.ConfigError{Field: field + ".message", Cause: err}
	}

	p.Spec = source.Spec{Key: key, Kind: sc.Kind}
	switch sc.Kind {
	case source.KindScrape:
		var s ScrapeConfig
		if sc.Scrape != nil {
			s = *sc.Scrape
		}
		if s.URL == "" {
			s.URL = strings.TrimSpace(sc.Target)
		}
		p.Spec.Scrape = &source.ScrapeSpec{
			URL:             s.URL,
			Render:          s.Render,
			Container:       s.Container,
			Item:            s.Item,
			KeySelector:     s.KeySelector,
			KeyAttr:         s.KeyAttr,
			Author:          s.Author,
			Body:            s.Body,
			BodyFormat:      s.BodyFormat,
			Timestamp:       s.Timestamp,
			TimestampAttr:   s.TimestampAttr,
			TimestampLayout: s.TimestampLayout,
			Link:            s.Link,
			LinkAttr:        s.LinkAttr,
			Metric:          s.Metric,
		}
	case source.KindFeed:
		if sc.Feed == nil {
			return p, monitor.ConfigErrorf(field+".feed", "feed settings required for kind %q", sc.Kind)
		}
		f := *sc.Feed
		if f.FeedID == "" {
			f.FeedID = strings.TrimSpace(sc.Target)
		}
		if len(sc.Credentials) == 0 {
			return p, monitor.ConfigErrorf(field+".credentials", "feed sources need login credentials")
		}
		p.Spec.Feed = &source.FeedSpec{
			ListURL:     f.ListURL,
			FeedID:      f.FeedID,
			LoginURL:    f.LoginURL,
			PageSize:    f.PageSize,
			MetricField: f.MetricField,
			PostURL:     f.PostURL,
			Headers:     f.Headers,
		}
	}
	return p, nil
}

func buildPolicy(field string, pc PolicyConfig) (monitor.Policy, error) {
	kind, err := monitor.ParsePolicyKind(pc.Kind)
	if err != nil {
		return monitor.Policy{}, &monitor.ConfigError{Field: field + ".kind", Cause: err}
	}
	basis, err := monitor.ParseAgeBasis(pc.AgeBasis)
	if err != nil {
		return monitor.Policy{}, &monitor.ConfigError{Field: field + ".age_basis", Cause: err}
	}
	maxAge, err := ParseDurationField(field+".max_age", pc.MaxAge)
	if err != nil {
		return monitor.Policy{}, err
	}
	p := monitor.Policy{Kind: kind, MaxAge: maxAge, AgeBasis: basis}
	if kind == monitor.PolicyThresholdOnce {
		if pc.MetricThreshold == nil {
			return monitor.Policy{}, monitor.ConfigErrorf(field+".metric_threshold", "threshold_once needs a metric_threshold")
		}
		p.Threshold = *pc.MetricThreshold
	}
	return p, nil
}

// offlineBrowser stands in for Chrome when adapters are only being checked.
type offlineBrowser struct{}

func (offlineBrowser) FetchPage(context.Context, string) ([]byte, error) {
	return nil, errors.New("browser not started")
}

// checkAdapters builds every adapter without touching the network so
// selector, url and render errors surface at validation time.
func checkAdapters(plans []SourcePlan) error {
	deps := source.Deps{Browser: offlineBrowser{}, Now: time.Now}
	for _, p := range plans {
		if _, err := source.New(p.Spec, deps); err != nil {
			return err
		}
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"pollwatch/internal/monitor"
	"pollwatch/internal/notifier"
	"pollwatch/internal/observability/status"
	"pollwatch/internal/task/scheduler"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their config key, not the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks cfg: struct tags first, then the cross-field rules
// (durations, sinks, schedules, policies, templates, adapters). The first
// problem is returned as a *monitor.ConfigError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return monitor.ConfigErrorf("config", "empty config")
	}
	if err := validate.Struct(cfg); err != nil {
		return tagError(err)
	}

	sched, err := cfg.SchedulerSettings()
	if err != nil {
		return err
	}
	loc := time.Local
	if sched.Timezone != "" {
		if loc, err = time.LoadLocation(sched.Timezone); err != nil {
			return &monitor.ConfigError{Field: "scheduler.timezone", Cause: err}
		}
	}
	if _, err := cfg.NotifierSettings(); err != nil {
		return err
	}
	if _, err := cfg.StorageSettings(); err != nil {
		return err
	}
	if cfg.State.Persist && (cfg.Storage == nil || cfg.Storage.Driver == "" || cfg.Storage.Driver == "none") {
		return monitor.ConfigErrorf("state.persist", "state persistence needs a storage driver")
	}
	if _, err := cfg.HTTPSettings(); err != nil {
		return err
	}
	if _, err := cfg.BrowserSettings(); err != nil {
		return err
	}
	st, err := cfg.StatusSettings()
	if err != nil {
		return err
	}
	if err := status.CheckExposure(st); err != nil {
		return &monitor.ConfigError{Field: "status.addr", Cause: err}
	}

	names := make([]string, 0, len(cfg.Sinks))
	for name := range cfg.Sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, _ := cfg.Sink(name)
		if err := notifier.ValidateSink("sinks."+name, s); err != nil {
			return err
		}
	}

	plans, err := cfg.Plans()
	if err != nil {
		return err
	}
	for _, p := range plans {
		if _, err := scheduler.Compile(p.Schedule, loc); err != nil {
			return &monitor.ConfigError{Field: "sources." + p.Key + ".poll_interval", Cause: err}
		}
	}
	return checkAdapters(plans)
}

func tagError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &monitor.ConfigError{Field: "config", Cause: err}
	}
	fe := verrs[0]
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	// Values are not echoed: they may be secrets.
	return &monitor.ConfigError{Field: fieldPath(fe.Namespace()), Cause: fmt.Errorf("failed %q", rule)}
}

// fieldPath turns "Config.sources[0].policy.kind" into "sources[0].policy.kind".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

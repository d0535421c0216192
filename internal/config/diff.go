package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "pollwatch/pkg/logx"
)

// LiveSections can be applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging (never includes secrets like tokens,
// credentials or webhook URLs).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.Int("notifier.retry_max", n.RetryMax),
			)
		}
	}

	// Nil means disabled.
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet || !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	if oldCfg.State != newCfg.State {
		changed = append(changed, "state")
	}
	if oldCfg.Session != newCfg.Session {
		changed = append(changed, "session")
	}

	// Status (never log token)
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", strings.TrimSpace(newCfg.Status.Addr)),
			logx.Bool("status.token_set", strings.TrimSpace(newCfg.Status.Token) != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
	}
	if oldCfg.Browser != newCfg.Browser {
		changed = append(changed, "browser")
	}

	if canonicalHash(oldCfg.Sinks) != canonicalHash(newCfg.Sinks) {
		changed = append(changed, "sinks")
		attrs = append(attrs, logx.Int("sinks.count", len(newCfg.Sinks)))
	}

	if srcChanged := diffSources(oldCfg.Sources, newCfg.Sources); len(srcChanged) > 0 {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.Strs("sources.changed", srcChanged))
	}

	sort.Strings(changed)
	return changed, attrs
}

// diffSources returns the keys of sources added, removed or modified.
func diffSources(oldS, newS []SourceConfig) []string {
	index := func(list []SourceConfig) map[string]uint64 {
		m := make(map[string]uint64, len(list))
		for _, s := range list {
			m[s.Key] = canonicalHash(s)
		}
		return m
	}
	o, n := index(oldS), index(newS)

	out := make([]string, 0)
	for k, h := range n {
		if oh, ok := o[k]; !ok || oh != h {
			out = append(out, k)
		}
	}
	for k := range o {
		if _, ok := n[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func canonicalHash(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

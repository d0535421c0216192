package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pollwatch/internal/monitor"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

const minimalYAML = `
sinks:
  hook:
    kind: webhook
    url: ${HOOK_URL}
sources:
  - key: board
    kind: scrape
    target: ${BOARD_URL:-https://example.com/board}
    poll_interval: 5m
    sink: hook
`

func TestParseBytesExpandsEnv(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("pw.yaml", []byte(minimalYAML), env(map[string]string{"HOOK_URL": "https://hooks.example/x"}))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if got := cfg.Sinks["hook"].URL; got != "https://hooks.example/x" {
		t.Fatalf("hook url = %q", got)
	}
	if got := cfg.Sources[0].Target; got != "https://example.com/board" {
		t.Fatalf("target fallback = %q", got)
	}
}

func TestParseBytesErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		path string
		data string
		vars map[string]string
		want string
	}{
		{"unset env", "pw.yaml", minimalYAML, nil, "HOOK_URL"},
		{"empty env", "pw.yaml", minimalYAML, map[string]string{"HOOK_URL": ""}, "HOOK_URL"},
		{"unknown field", "pw.json", `{"sources":[],"bogus":1}`, nil, "bogus"},
		{"concatenated json", "pw.json", `{"sources":[]} {"sources":[]}`, nil, "after top-level value"},
		{"bad yaml", "pw.yml", "sources: [", nil, "yaml"},
		{"wrong type", "pw.json", `{"scheduler":{"workers":"two"}}`, nil, "workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBytes(tc.path, []byte(tc.data), env(tc.vars))
			if !monitor.IsConfig(err) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestUnsetEnvListsEveryName(t *testing.T) {
	t.Parallel()
	_, err := expandEnv(map[string]any{
		"a": "${ZED}",
		"b": []any{"x-${ALPHA}-y", "${ALPHA}"},
	}, env(nil))
	if err == nil || err.Error() != "unset environment variables: ALPHA, ZED" {
		t.Fatalf("err = %v", err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadCommitsValidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pw.yaml")
	writeFile(t, path, minimalYAML)

	m := NewConfigManager(path)
	m.SetLookup(env(map[string]string{"HOOK_URL": "https://hooks.example/x"}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get() did not return the committed config")
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pw.yaml")
	writeFile(t, path, minimalYAML)
	m := NewConfigManager(path)
	m.SetLookup(env(map[string]string{"HOOK_URL": "https://hooks.example/x"}))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Same content: nothing published.
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatalf("unchanged config was published")
	default:
	}

	// Invalid content: rejected, previous config kept.
	prev := m.Get()
	writeFile(t, path, strings.Replace(minimalYAML, "5m", "not-a-schedule", 1))
	m.reload(context.Background())
	if m.Get() != prev {
		t.Fatalf("invalid config was committed")
	}

	writeFile(t, path, "logging: {level: debug}\n"+minimalYAML)
	m.reload(context.Background())
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(time.Second):
		t.Fatalf("changed config was not published")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{" 90s ", 90 * time.Second, true},
		{"1h30m", 90 * time.Minute, true},
		{"-1s", 0, false},
		{"ten", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x.y", tc.raw)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v, want %v ok=%v", tc.raw, got, err, tc.want, tc.ok)
		}
		if err != nil && !monitor.IsConfig(err) {
			t.Fatalf("err = %T, want ConfigError", err)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("default = %v, want 1m", d)
	}
}

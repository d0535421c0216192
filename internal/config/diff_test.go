package config

import (
	"reflect"
	"testing"
)

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		edit func(c *Config)
		want []string
	}{
		{"none", func(*Config) {}, []string{}},
		{"logging", func(c *Config) { c.Logging.Level = "debug" }, []string{"logging"}},
		{"source body", func(c *Config) { c.Sources[0].PollInterval = "1m" }, []string{"sources"}},
		{"sink and storage", func(c *Config) {
			c.Sinks["hook"] = SinkConfig{Kind: "webhook", URL: "https://hooks.example/y"}
			c.Storage = &StorageConfig{Driver: "file", Path: "/tmp/pw"}
		}, []string{"sinks", "storage"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			newCfg := baseConfig()
			tc.edit(newCfg)
			got, _ := SummarizeConfigChange(baseConfig(), newCfg)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("changed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDiffSources(t *testing.T) {
	t.Parallel()
	oldS := baseConfig().Sources
	feed := baseConfig().Sources[1]
	feed.Sink = "desktop"
	// board removed, feed modified, extra added
	got := diffSources(oldS, []SourceConfig{feed, {Key: "extra"}})
	if want := []string{"board", "extra", "feed"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("diffSources = %v, want %v", got, want)
	}
}

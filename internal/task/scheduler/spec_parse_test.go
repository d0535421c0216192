package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw   string
		kind  SpecKind
		every time.Duration
		cron  string
		err   bool
	}{
		{raw: "1m", kind: SpecInterval, every: time.Minute},
		{raw: "00:15", kind: SpecInterval, every: 15 * time.Minute},
		{raw: "every:2h30m", kind: SpecInterval, every: 150 * time.Minute},
		{raw: "interval:01:00", kind: SpecInterval, every: time.Hour},
		{raw: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{raw: "@hourly", kind: SpecCron, cron: "@hourly"},
		{raw: "cron:0 9 * * 1-5", kind: SpecCron, cron: "0 9 * * 1-5"},
		{raw: "", err: true},
		{raw: "soon", err: true},
		{raw: "-5m", err: true},
		{raw: "00:75", err: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.raw)
		if tc.err {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) = %+v, want error", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tc.raw, err)
		}
		if got.Kind != tc.kind || got.Every != tc.every || got.Cron != tc.cron {
			t.Fatalf("ParseSchedule(%q) = %+v", tc.raw, got)
		}
	}
}

func TestCompileNextAndPeriod(t *testing.T) {
	t.Parallel()
	ref := time.Date(2024, 12, 20, 9, 2, 0, 0, time.UTC)

	every, err := Compile("5m", time.UTC)
	if err != nil {
		t.Fatalf("Compile(5m): %v", err)
	}
	if got := every.Next(ref); !got.Equal(ref.Add(5 * time.Minute)) {
		t.Fatalf("Next = %v, want ref+5m", got)
	}

	c, err := Compile("*/15 * * * *", time.UTC)
	if err != nil {
		t.Fatalf("Compile(cron): %v", err)
	}
	if got := c.Next(ref); !got.Equal(time.Date(2024, 12, 20, 9, 15, 0, 0, time.UTC)) {
		t.Fatalf("cron Next = %v", got)
	}
	if p := period(c, ref); p != 15*time.Minute {
		t.Fatalf("period = %v, want 15m", p)
	}

	if _, err := Compile("250ms", nil); err == nil {
		t.Fatal("Compile accepted a sub-second interval")
	}
	if _, err := Compile("61 * * * *", nil); err == nil {
		t.Fatal("Compile accepted minute 61")
	}
}

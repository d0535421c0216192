package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind describes the normalized kind of a schedule string:
// a cron expression or a fixed interval.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec represents a parsed poll schedule.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 9 * * 1-5", "@hourly", "@every 15m"
//   - Interval duration: "1m", "15m", "2h30m"
//   - Interval HH:MM: "00:15" (15 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):([0-5]\d)\s*$`)

// ParseSchedule classifies a poll_interval value. An explicit "cron:",
// "interval:" or "every:" prefix wins; otherwise anything with whitespace or
// a leading '@' is cron and the rest must be an interval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok && !reHHMM.MatchString(s) {
		switch strings.ToLower(prefix) {
		case "cron":
			expr := strings.TrimSpace(rest)
			if expr == "" {
				return ParsedSpec{}, fmt.Errorf("cron schedule required after %q", prefix+":")
			}
			return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
		case "interval", "every":
			return intervalSpec(rest)
		}
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	ps, err := intervalSpec(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:15', or duration like '1m')", raw)
	}
	return ps, nil
}

// intervalSpec parses "HH:MM" or a Go duration into a positive interval.
func intervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		src = "duration"
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		d, src = time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute, "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '1m' or '2h30m')", v)
		}
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

// cronParser accepts 5-field and 6-field (with seconds) specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Compile parses raw into a cron.Schedule evaluated in loc (nil = Local).
func Compile(raw string, loc *time.Location) (cron.Schedule, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	if ps.Kind == SpecInterval {
		if ps.Every < time.Second {
			return nil, fmt.Errorf("interval %s is below 1s", ps.Every)
		}
		return cron.Every(ps.Every), nil
	}
	expr := ps.Cron
	if loc != nil && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") && !strings.HasPrefix(expr, "@every") {
		expr = "CRON_TZ=" + loc.String() + " " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
	}
	return sched, nil
}

// period estimates the gap between two consecutive runs after ref.
func period(sched cron.Schedule, ref time.Time) time.Duration {
	a := sched.Next(ref)
	if a.IsZero() {
		return 0
	}
	b := sched.Next(a)
	if b.IsZero() {
		return 0
	}
	return b.Sub(a)
}

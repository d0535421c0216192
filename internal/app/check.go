package app

import (
	"context"
	"time"

	"pollwatch/internal/config"
	"pollwatch/internal/monitor"
	"pollwatch/internal/session"
	"pollwatch/internal/source"
	logx "pollwatch/pkg/logx"
)

// CheckResult is one dry-run fetch of a source.
type CheckResult struct {
	Source     string           `json:"source"`
	Kind       string           `json:"kind"`
	LoggedInAs string           `json:"logged_in_as,omitempty"`
	Took       string           `json:"took"`
	Records    []monitor.Record `json:"records"`
}

// CheckSource fetches key once with a fresh login and returns the records.
// Nothing is evaluated, persisted or dispatched.
func CheckSource(ctx context.Context, cfg *config.Config, key string, log logx.Logger) (CheckResult, error) {
	plans, err := cfg.Plans()
	if err != nil {
		return CheckResult{}, err
	}
	var plan *config.SourcePlan
	for i := range plans {
		if plans[i].Key == key {
			plan = &plans[i]
			break
		}
	}
	if plan == nil {
		return CheckResult{}, monitor.ConfigErrorf("sources", "no source %q", key)
	}

	deps, browser, err := sourceDeps(cfg, log)
	if err != nil {
		return CheckResult{}, err
	}
	if browser != nil {
		defer browser.Close()
	}
	ad, err := source.New(plan.Spec, deps)
	if err != nil {
		return CheckResult{}, err
	}

	res := CheckResult{Source: key, Kind: ad.Kind()}
	start := time.Now()
	var sess *session.Session
	if auth, ok := ad.(session.Authenticator); ok {
		sess = session.New(key, plan.Credentials, auth)
		if err := session.NewManager(nil, log).EnsureLoggedIn(ctx, sess); err != nil {
			return res, err
		}
		res.LoggedInAs = sess.LoggedInAs
	}
	seq, err := ad.Fetch(ctx, sess)
	if err != nil {
		return res, err
	}
	for rec := range seq {
		if rec.SourceKey == "" {
			rec.SourceKey = key
		}
		res.Records = append(res.Records, rec)
	}
	res.Took = time.Since(start).Truncate(time.Millisecond).String()
	return res, nil
}

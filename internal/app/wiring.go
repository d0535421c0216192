package app

import (
	"fmt"

	"pollwatch/internal/config"
	"pollwatch/internal/notifier"
	"pollwatch/internal/source"
	"pollwatch/internal/task/scheduler"
	logx "pollwatch/pkg/logx"
)

// sourceDeps builds the fetchers shared by every adapter. Chrome is only
// configured when a source renders through it.
func sourceDeps(cfg *config.Config, log logx.Logger) (source.Deps, *source.BrowserFetcher, error) {
	hc, err := cfg.HTTPSettings()
	if err != nil {
		return source.Deps{}, nil, err
	}
	deps := source.Deps{
		HTTP: source.NewHTTPFetcher(hc),
		Log:  log.With(logx.String("comp", "source")),
	}
	if !cfg.NeedsBrowser() {
		return deps, nil, nil
	}
	bc, err := cfg.BrowserSettings()
	if err != nil {
		return source.Deps{}, nil, err
	}
	browser := source.NewBrowserFetcher(bc, log.With(logx.String("comp", "browser")))
	deps.Browser = browser
	return deps, browser, nil
}

// buildSources turns resolved plans into scheduler sources.
func buildSources(plans []config.SourcePlan, deps source.Deps) ([]scheduler.Source, error) {
	out := make([]scheduler.Source, 0, len(plans))
	for _, p := range plans {
		ad, err := source.New(p.Spec, deps)
		if err != nil {
			return nil, err
		}
		r, err := notifier.NewRenderer(p.Render, p.Policy.Kind)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", p.Key, err)
		}
		out = append(out, scheduler.Source{
			Key:         p.Key,
			Schedule:    p.Schedule,
			Adapter:     ad,
			Policy:      p.Policy,
			Sink:        p.Sink,
			Renderer:    r,
			Credentials: p.Credentials,
		})
	}
	return out, nil
}

package source

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"pollwatch/internal/monitor"
	"pollwatch/internal/session"
	logx "pollwatch/pkg/logx"
)

const (
	KindScrape = "scrape"
	KindFeed   = "feed"
)

// Adapter fetches one snapshot of a source.
//
// The returned sequence is finite and single-use. Transport and parse
// failures are returned as *monitor.FetchError, rejected sessions as
// *monitor.AuthError. sess is nil for sources that need no login.
type Adapter interface {
	Kind() string
	Fetch(ctx context.Context, sess *session.Session) (iter.Seq[monitor.Record], error)
}

// Authenticating is implemented by adapters whose source requires a session.
type Authenticating interface {
	Adapter
	session.Authenticator
}

// PageFetcher returns the HTML of a page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// Deps are the shared resources adapters are built from.
type Deps struct {
	HTTP    *HTTPFetcher
	Browser PageFetcher
	Now     func() time.Time
	Log     logx.Logger
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Spec describes one configured source. Exactly one of Scrape or Feed is set,
// matching Kind.
type Spec struct {
	Key    string
	Kind   string
	Scrape *ScrapeSpec
	Feed   *FeedSpec
}

// New builds the adapter for spec.
func New(spec Spec, deps Deps) (Adapter, error) {
	if deps.HTTP == nil {
		deps.HTTP = NewHTTPFetcher(HTTPConfig{})
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	switch spec.Kind {
	case KindScrape:
		if spec.Scrape == nil {
			return nil, monitor.ConfigErrorf("sources."+spec.Key+".scrape", "scrape settings required for kind %q", spec.Kind)
		}
		return NewScrape(spec.Key, *spec.Scrape, deps)
	case KindFeed:
		if spec.Feed == nil {
			return nil, monitor.ConfigErrorf("sources."+spec.Key+".feed", "feed settings required for kind %q", spec.Kind)
		}
		return NewFeed(spec.Key, *spec.Feed, deps)
	default:
		return nil, monitor.ConfigErrorf("sources."+spec.Key+".kind", "unknown source kind %q", spec.Kind)
	}
}

// once yields records on the first range only.
func once(records []monitor.Record) iter.Seq[monitor.Record] {
	var used atomic.Bool
	return func(yield func(monitor.Record) bool) {
		if used.Swap(true) {
			return
		}
		for _, r := range records {
			if !yield(r) {
				return
			}
		}
	}
}

func fetchErr(source, format string, args ...any) error {
	return &monitor.FetchError{Source: source, Cause: fmt.Errorf(format, args...)}
}

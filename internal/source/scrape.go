package source

import (
	"bytes"
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pollwatch/internal/monitor"
	"pollwatch/internal/session"
	logx "pollwatch/pkg/logx"
)

const (
	RenderHTTP    = "http"
	RenderBrowser = "browser"
)

// ScrapeSpec describes how records are extracted from one document.
//
// Container selects the list root: "#id" or any CSS selector; empty means the
// whole document. Item selects each record inside it. Key, Author, Body,
// Timestamp, Link and Metric are sub-selectors relative to the item; an empty
// sub-selector reads from the item itself.
type ScrapeSpec struct {
	URL       string
	Render    string // http (default) or browser
	Container string
	Item      string // default "li"

	KeySelector string
	KeyAttr     string // default "id"

	Author     string
	Body       string
	BodyFormat string // text (default), markdown or html

	Timestamp       string
	TimestampAttr   string // read the time from an attribute (e.g. "datetime") instead of text
	TimestampLayout string // Go layout; default RFC3339

	Link     string
	LinkAttr string // default "href"

	Metric string
}

func (s *ScrapeSpec) defaults() {
	if strings.TrimSpace(s.Render) == "" {
		s.Render = RenderHTTP
	}
	if strings.TrimSpace(s.Item) == "" {
		s.Item = "li"
	}
	if strings.TrimSpace(s.KeyAttr) == "" {
		s.KeyAttr = "id"
	}
	if strings.TrimSpace(s.LinkAttr) == "" {
		s.LinkAttr = "href"
	}
	if strings.TrimSpace(s.TimestampLayout) == "" {
		s.TimestampLayout = time.RFC3339
	}
}

// Scrape fetches one HTML document and extracts records with CSS selectors.
type Scrape struct {
	key     string
	spec    ScrapeSpec
	fetcher PageFetcher
	clean   *textCleaner
	now     func() time.Time
	log     logx.Logger
}

func NewScrape(key string, spec ScrapeSpec, deps Deps) (*Scrape, error) {
	spec.defaults()
	field := "sources." + key + ".scrape"
	if _, err := url.ParseRequestURI(spec.URL); err != nil {
		return nil, monitor.ConfigErrorf(field+".url", "invalid url %q: %v", spec.URL, err)
	}
	if !validBodyFormat(spec.BodyFormat) {
		return nil, monitor.ConfigErrorf(field+".body_format", "unknown body format %q", spec.BodyFormat)
	}
	var f PageFetcher
	switch spec.Render {
	case RenderHTTP:
		f = deps.HTTP
	case RenderBrowser:
		if deps.Browser == nil {
			return nil, monitor.ConfigErrorf(field+".render", "browser rendering is not enabled")
		}
		f = deps.Browser
	default:
		return nil, monitor.ConfigErrorf(field+".render", "unknown render mode %q", spec.Render)
	}
	return &Scrape{
		key:     key,
		spec:    spec,
		fetcher: f,
		clean:   newTextCleaner(),
		now:     deps.now,
		log:     deps.Log.With(logx.String("comp", "source"), logx.String("source", key)),
	}, nil
}

func (s *Scrape) Kind() string { return KindScrape }

func (s *Scrape) Fetch(ctx context.Context, _ *session.Session) (iter.Seq[monitor.Record], error) {
	page, err := s.fetcher.FetchPage(ctx, s.spec.URL)
	if err != nil {
		return nil, &monitor.FetchError{Source: s.key, Cause: err}
	}
	records, err := s.Extract(page)
	if err != nil {
		return nil, err
	}
	return once(records), nil
}

// Extract parses page and returns its records in document order.
func (s *Scrape) Extract(page []byte) ([]monitor.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fetchErr(s.key, "parse html: %w", err)
	}

	root := doc.Selection
	if s.spec.Container != "" {
		root = doc.Find(s.spec.Container).First()
		if root.Length() == 0 {
			// The list is absent, not malformed: an empty snapshot.
			s.log.Debug("container not found", logx.String("container", s.spec.Container))
			return nil, nil
		}
	}

	observed := s.now()
	var out []monitor.Record
	var firstErr error
	root.Find(s.spec.Item).Each(func(_ int, item *goquery.Selection) {
		if firstErr != nil {
			return
		}
		rec, err := s.record(item, observed)
		if err != nil {
			firstErr = err
			return
		}
		out = append(out, rec)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (s *Scrape) record(item *goquery.Selection, observed time.Time) (monitor.Record, error) {
	rec := monitor.Record{SourceKey: s.key, ObservedAt: observed}

	keyNode := sub(item, s.spec.KeySelector)
	rec.Key = strings.TrimSpace(keyNode.AttrOr(s.spec.KeyAttr, ""))

	if s.spec.Author != "" {
		rec.Author = s.clean.plain(outer(item.Find(s.spec.Author).First()))
	}

	bodyNode := sub(item, s.spec.Body)
	if bodyNode.Length() > 0 {
		frag, _ := bodyNode.Html()
		body, err := s.clean.Clean(frag, s.spec.BodyFormat, s.spec.URL)
		if err != nil {
			return rec, fetchErr(s.key, "record %q: %w", rec.Key, err)
		}
		rec.Body = body
	}

	if s.spec.Timestamp != "" || s.spec.TimestampAttr != "" {
		tsNode := sub(item, s.spec.Timestamp)
		raw := strings.TrimSpace(tsNode.Text())
		if s.spec.TimestampAttr != "" {
			raw = strings.TrimSpace(tsNode.AttrOr(s.spec.TimestampAttr, ""))
		}
		if raw != "" {
			if ts, err := time.Parse(s.spec.TimestampLayout, raw); err == nil {
				rec.SourceTimestamp = ts
			} else {
				s.log.Debug("unparsable timestamp", logx.String("record", rec.Key), logx.String("value", raw))
			}
		}
	}

	if s.spec.Link != "" {
		if href, ok := item.Find(s.spec.Link).First().Attr(s.spec.LinkAttr); ok {
			rec.URL = resolveURL(s.spec.URL, href)
		}
	}

	if s.spec.Metric != "" {
		raw := strings.TrimSpace(item.Find(s.spec.Metric).First().Text())
		if n, ok := parseCount(raw); ok {
			rec.Metric = monitor.Int64(n)
		}
	}
	return rec, nil
}

// sub returns the first match of sel inside item, or item itself when sel is empty.
func sub(item *goquery.Selection, sel string) *goquery.Selection {
	if strings.TrimSpace(sel) == "" {
		return item
	}
	return item.Find(sel).First()
}

func outer(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	h, _ := goquery.OuterHtml(sel)
	return h
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// parseCount reads the first run of digits in counters such as "1,234" or
// "42 likes". Thousands separators inside the run are skipped.
func parseCount(raw string) (int64, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case (r == ',' || r == '_') && b.Len() > 0:
		case b.Len() > 0:
			return parseDigits(b.String())
		}
	}
	return parseDigits(b.String())
}

func parseDigits(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

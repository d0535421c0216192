package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pollwatch/internal/monitor"
	"pollwatch/internal/session"
	logx "pollwatch/pkg/logx"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// feedTimeLayout is the created_at format of classic social feed APIs.
	feedTimeLayout = "Mon Jan 02 15:04:05 -0700 2006"
)

// FeedSpec describes an authenticated JSON post list.
//
// ListURL may contain {id} (FeedID) and {count} (PageSize). PostURL may
// contain {user} and {id} and builds each record's permalink.
type FeedSpec struct {
	ListURL     string
	FeedID      string
	LoginURL    string
	PageSize    int    // default 20, max 100
	MetricField string // dotted path; default "retweet_count"
	PostURL     string
	Headers     map[string]string
}

func (s *FeedSpec) defaults() {
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}
	if strings.TrimSpace(s.MetricField) == "" {
		s.MetricField = "retweet_count"
	}
}

// feedToken is the persisted session: the login response cookies plus an
// optional bearer token.
type feedToken struct {
	Cookies []feedCookie `json:"cookies,omitempty"`
	Bearer  string       `json:"bearer,omitempty"`
}

type feedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Feed polls an authenticated post list and reports a metric per post.
type Feed struct {
	key  string
	spec FeedSpec
	http *HTTPFetcher
	now  func() time.Time
	log  logx.Logger
}

func NewFeed(key string, spec FeedSpec, deps Deps) (*Feed, error) {
	spec.defaults()
	field := "sources." + key + ".feed"
	if spec.PageSize > MaxPageSize {
		return nil, monitor.ConfigErrorf(field+".page_size", "page size %d exceeds %d", spec.PageSize, MaxPageSize)
	}
	if _, err := url.ParseRequestURI(expandFeedURL(spec.ListURL, spec)); err != nil {
		return nil, monitor.ConfigErrorf(field+".list_url", "invalid url %q: %v", spec.ListURL, err)
	}
	if strings.Contains(spec.ListURL, "{id}") && spec.FeedID == "" {
		return nil, monitor.ConfigErrorf(field+".feed_id", "list_url uses {id} but feed_id is empty")
	}
	if _, err := url.ParseRequestURI(spec.LoginURL); err != nil {
		return nil, monitor.ConfigErrorf(field+".login_url", "invalid url %q: %v", spec.LoginURL, err)
	}
	return &Feed{
		key:  key,
		spec: spec,
		http: deps.HTTP,
		now:  deps.now,
		log:  deps.Log.With(logx.String("comp", "source"), logx.String("source", key)),
	}, nil
}

func (f *Feed) Kind() string { return KindFeed }

// Login posts the credentials as JSON and captures the session cookies.
func (f *Feed) Login(ctx context.Context, creds map[string]string) ([]byte, string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return nil, "", fmt.Errorf("encode credentials: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.spec.LoginURL, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	f.setHeaders(req)

	resp, err := f.http.Client().Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	body, err := readLimited(resp.Body, f.http.MaxBytes())
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &monitor.AuthError{Source: f.key, Cause: fmt.Errorf("login http %d: %s", resp.StatusCode, logx.Truncate(string(body), 200))}
	}

	var tok feedToken
	for _, c := range resp.Cookies() {
		tok.Cookies = append(tok.Cookies, feedCookie{Name: c.Name, Value: c.Value})
	}
	var reply struct {
		Token      string `json:"token"`
		Bearer     string `json:"bearer"`
		ScreenName string `json:"screen_name"`
		User       string `json:"user"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &reply); err != nil {
			f.log.Debug("login reply is not json", logx.Err(err))
		}
	}
	tok.Bearer = firstNonEmpty(reply.Bearer, reply.Token)
	if len(tok.Cookies) == 0 && tok.Bearer == "" {
		return nil, "", errors.New("login reply carried no cookies or token")
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return nil, "", fmt.Errorf("encode session: %w", err)
	}
	return raw, firstNonEmpty(reply.ScreenName, reply.User, creds["user"], creds["username"]), nil
}

func (f *Feed) Fetch(ctx context.Context, sess *session.Session) (iter.Seq[monitor.Record], error) {
	if !sess.LoggedIn() {
		return nil, &monitor.AuthError{Source: f.key, Cause: errors.New("not logged in")}
	}
	var tok feedToken
	if err := json.Unmarshal(sess.Token, &tok); err != nil {
		return nil, &monitor.AuthError{Source: f.key, Cause: fmt.Errorf("corrupt session token: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, expandFeedURL(f.spec.ListURL, f.spec), nil)
	if err != nil {
		return nil, fetchErr(f.key, "new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	f.setHeaders(req)
	for _, c := range tok.Cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	if tok.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+tok.Bearer)
	}

	resp, err := f.http.Client().Do(req)
	if err != nil {
		return nil, &monitor.FetchError{Source: f.key, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &monitor.AuthError{Source: f.key, Cause: fmt.Errorf("http %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fetchErr(f.key, "http %d", resp.StatusCode)
	}
	body, err := readLimited(resp.Body, f.http.MaxBytes())
	if err != nil {
		return nil, &monitor.FetchError{Source: f.key, Cause: err}
	}
	records, err := f.Decode(body)
	if err != nil {
		return nil, err
	}
	return once(records), nil
}

// Decode parses a feed response: a JSON array of posts, or an object holding
// the array under "items" or "data". At most PageSize posts are kept, even
// when the server ignores {count}.
func (f *Feed) Decode(body []byte) ([]monitor.Record, error) {
	posts, err := decodePosts(body)
	if err != nil {
		return nil, fetchErr(f.key, "decode feed: %w", err)
	}
	if f.spec.PageSize > 0 {
		posts = posts[:min(len(posts), f.spec.PageSize)]
	}
	observed := f.now()
	out := make([]monitor.Record, 0, len(posts))
	for _, p := range posts {
		out = append(out, f.record(p, observed))
	}
	return out, nil
}

func decodePosts(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case map[string]any:
		for _, k := range []string{"items", "data"} {
			if l, ok := t[k].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			return nil, errors.New(`object has no "items" or "data" array`)
		}
	default:
		return nil, fmt.Errorf("unexpected top-level %T", v)
	}
	posts := make([]map[string]any, 0, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is %T, want object", i, e)
		}
		posts = append(posts, m)
	}
	return posts, nil
}

func (f *Feed) record(p map[string]any, observed time.Time) monitor.Record {
	rec := monitor.Record{
		Key:        scalarString(p["id"]),
		Body:       firstNonEmpty(scalarString(p["full_text"]), scalarString(p["text"])),
		SourceKey:  f.key,
		ObservedAt: observed,
	}
	if u, ok := p["user"].(map[string]any); ok {
		rec.Author = scalarString(u["screen_name"])
	}
	if rec.Author == "" {
		rec.Author = scalarString(p["screen_name"])
	}
	if ts, ok := parseFeedTime(scalarString(p["created_at"])); ok {
		rec.SourceTimestamp = ts
	}
	if n, ok := scalarInt(lookup(p, f.spec.MetricField)); ok {
		rec.Metric = monitor.Int64(n)
	}
	if f.spec.PostURL != "" && rec.Key != "" {
		rec.URL = strings.NewReplacer("{user}", url.PathEscape(rec.Author), "{id}", url.PathEscape(rec.Key)).Replace(f.spec.PostURL)
	}
	return rec
}

func (f *Feed) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.http.UserAgent())
	for k, v := range f.spec.Headers {
		req.Header.Set(k, v)
	}
}

func expandFeedURL(tmpl string, spec FeedSpec) string {
	return strings.NewReplacer(
		"{id}", url.PathEscape(spec.FeedID),
		"{count}", strconv.Itoa(spec.PageSize),
	).Replace(tmpl)
}

func parseFeedTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{feedTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// lookup follows a dotted path through nested objects.
func lookup(m map[string]any, path string) any {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func scalarInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		return parseDigits(strings.TrimSpace(t))
	}
	return 0, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

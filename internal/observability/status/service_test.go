package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pollwatch/internal/notifier"
	"pollwatch/internal/state"
	"pollwatch/internal/task/scheduler"
	logx "pollwatch/pkg/logx"
)

var now = time.Date(2024, 12, 20, 10, 0, 0, 0, time.UTC)

func testService(cfg Config, snap scheduler.Snapshot) *Service {
	p := Providers{
		Scheduler:  func() scheduler.Snapshot { return snap },
		State:      func() []state.SourceCount { return []state.SourceCount{{Source: "board", Records: 3, Notified: 1}} },
		Deliveries: func() []notifier.HistoryItem { return []notifier.HistoryItem{{Sink: "hook", OK: true, Attempts: 1}} },
	}
	return New(cfg, p, logx.Nop(), WithClock(func() time.Time { return now }), WithVersion("test"))
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		snap scheduler.Snapshot
		code int
		body string
	}{
		{"starting", scheduler.Snapshot{Tick: time.Minute}, http.StatusOK, "starting"},
		{"fresh", scheduler.Snapshot{Tick: time.Minute, Ticks: 4, LastAt: now.Add(-30 * time.Second)}, http.StatusOK, "ok"},
		{"stale", scheduler.Snapshot{Tick: time.Minute, Ticks: 4, LastAt: now.Add(-10 * time.Minute)}, http.StatusServiceUnavailable, "stale"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := get(t, testService(Config{}, tc.snap).Handler(), "/healthz", nil)
			if rec.Code != tc.code || !strings.HasPrefix(rec.Body.String(), tc.body) {
				t.Fatalf("healthz = %d %q, want %d %q", rec.Code, rec.Body.String(), tc.code, tc.body)
			}
		})
	}
}

func TestStatusReport(t *testing.T) {
	t.Parallel()
	snap := scheduler.Snapshot{Tick: time.Minute, Ticks: 2, LastAt: now, Sources: []scheduler.SourceStatus{{Key: "board", Polls: 2}}}
	h := testService(Config{}, snap).Handler()

	rec := get(t, h, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var rep Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Version != "test" || rep.Scheduler == nil || rep.Scheduler.Ticks != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.State) != 1 || rep.State[0].Notified != 1 || len(rep.Deliveries) != 1 {
		t.Fatalf("report state/deliveries = %+v / %+v", rep.State, rep.Deliveries)
	}

	if rec := get(t, h, "/status/sources/board", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"polls": 2`) {
		t.Fatalf("source = %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/status/sources/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown source code = %d, want 404", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := testService(Config{Token: "s3cret"}, scheduler.Snapshot{}).Handler()
	cases := []struct {
		path   string
		header map[string]string
		code   int
	}{
		{"/healthz", nil, http.StatusUnauthorized},
		{"/healthz", map[string]string{"Authorization": "Bearer wrong"}, http.StatusUnauthorized},
		{"/healthz", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"/status?token=s3cret", nil, http.StatusOK},
	}
	for _, tc := range cases {
		if rec := get(t, h, tc.path, tc.header); rec.Code != tc.code {
			t.Fatalf("GET %s %v = %d, want %d", tc.path, tc.header, rec.Code, tc.code)
		}
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off := testService(Config{}, scheduler.Snapshot{}).Handler()
	if rec := get(t, off, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: code = %d, want 404", rec.Code)
	}
	on := testService(Config{Pprof: true}, scheduler.Snapshot{}).Handler()
	if rec := get(t, on, "/debug/pprof/", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled: code = %d, want 200", rec.Code)
	}
}

func TestCheckExposure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cfg Config
		ok  bool
	}{
		{Config{Enabled: true}, true},
		{Config{Enabled: true, Addr: "localhost:9000"}, true},
		{Config{Enabled: true, Addr: "0.0.0.0:9000"}, false},
		{Config{Enabled: true, Addr: ":9000"}, false},
		{Config{Enabled: true, Addr: "0.0.0.0:9000", Token: "t"}, true},
		{Config{Enabled: true, Addr: "10.0.0.5:9000", AllowInsecure: true}, true},
		{Config{Enabled: false, Addr: "0.0.0.0:9000"}, true},
	}
	for _, tc := range cases {
		if err := CheckExposure(tc.cfg); (err == nil) != tc.ok {
			t.Fatalf("CheckExposure(%+v) = %v, want ok=%v", tc.cfg, err, tc.ok)
		}
	}
}

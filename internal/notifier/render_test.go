package notifier

import (
	"strings"
	"testing"

	"pollwatch/internal/monitor"
)

func TestRenderChangeDigest(t *testing.T) {
	t.Parallel()
	r, err := NewRenderer(RenderConfig{Batch: true}, monitor.PolicyOnChange)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	items := []RenderData{
		r.Data(monitor.Record{SourceKey: "board", Key: "c1", Author: "alice", Body: "edited"}, monitor.Decision{}, 0),
		r.Data(monitor.Record{SourceKey: "board", Key: "c2"}, monitor.Decision{}, 0),
	}
	msgs, err := r.Render("board", items)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(msgs))
	}
	want := "ID: c1\nAuthor: alice\nText: edited\n\nID: c2\nAuthor: Unknown Author\nText: No Content"
	if msgs[0].Title != DefaultChangeTitle || msgs[0].Text != want {
		t.Fatalf("message = %+v", msgs[0])
	}
	if strings.Join(msgs[0].Records, ",") != "c1,c2" {
		t.Fatalf("Records = %v", msgs[0].Records)
	}
}

func TestRenderThresholdPerRecord(t *testing.T) {
	t.Parallel()
	r, err := NewRenderer(RenderConfig{}, monitor.PolicyThresholdOnce)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	rec := monitor.Record{
		SourceKey: "list", Key: "1866", Author: "alice",
		Body: strings.Repeat("x", 150), Metric: monitor.Int64(14),
		URL: "https://social.example/alice/status/1866",
	}
	msgs, err := r.Render("list", []RenderData{r.Data(rec, monitor.Decision{Kind: monitor.Notify}, 13)})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(msgs))
	}
	if got := msgs[0].Title; got != "Post by @alice reached 14 retweets!" {
		t.Fatalf("Title = %q", got)
	}
	text := msgs[0].Text
	for _, want := range []string{"**Retweets**: 14", "**Text**: " + strings.Repeat("x", 100) + "...", "**Link**: " + rec.URL} {
		if !strings.Contains(text, want) {
			t.Fatalf("Text %q lacks %q", text, want)
		}
	}
}

func TestRenderCustomTemplate(t *testing.T) {
	t.Parallel()
	r, err := NewRenderer(RenderConfig{Text: "{{.Key}} {{.PreviousBody}} -> {{.Body}}", MetricLabel: "likes"}, monitor.PolicyOnChange)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	d := r.Data(monitor.Record{Key: "k", Body: "new"}, monitor.Decision{Kind: monitor.Notify, PreviousBody: "old"}, 0)
	msgs, err := r.Render("s", []RenderData{d})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msgs[0].Text != "k old -> new" || msgs[0].Title != DefaultChangeTitle {
		t.Fatalf("message = %+v", msgs[0])
	}
}

func TestNewRendererRejectsBadTemplate(t *testing.T) {
	t.Parallel()
	if _, err := NewRenderer(RenderConfig{Title: "{{.Key"}, monitor.PolicyOnChange); err == nil {
		t.Fatal("NewRenderer accepted a broken template")
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 100, "short"},
		{"abcdef", 3, "abc..."},
		{"日本語のテキスト", 3, "日本語..."},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := Preview(tc.in, tc.max); got != tc.want {
			t.Fatalf("Preview(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

type hookRecorder struct {
	mu     sync.Mutex
	bodies []map[string]string
}

func (h *hookRecorder) handler(status int, header map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m map[string]string
		_ = json.NewDecoder(r.Body).Decode(&m)
		h.mu.Lock()
		h.bodies = append(h.bodies, m)
		h.mu.Unlock()
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
	}
}

func TestWebhookFormats(t *testing.T) {
	t.Parallel()
	msg := Message{Title: "**Webpage Update Detected!**", Text: "ID: c1\nAuthor: alice\nText: hi"}
	cases := []struct {
		format string
		key    string
		want   string
	}{
		{"", "content", msg.Title + "\n" + msg.Text},
		{FormatDiscord, "content", msg.Title + "\n" + msg.Text},
		{FormatSlack, "text", msg.Title + "\n" + msg.Text},
		{FormatRaw, "title", msg.Title},
	}
	for _, tc := range cases {
		t.Run("format="+tc.format, func(t *testing.T) {
			t.Parallel()
			rec := &hookRecorder{}
			srv := httptest.NewServer(rec.handler(http.StatusNoContent, nil))
			defer srv.Close()

			err := newWebhookSender(nil).Send(context.Background(), Sink{URL: srv.URL, Format: tc.format}, msg)
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if got := rec.bodies[0][tc.key]; got != tc.want {
				t.Fatalf("%s = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestWebhookStatusClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		status     int
		header     map[string]string
		noRetry    bool
		retryAfter time.Duration
	}{
		{"bad request", http.StatusBadRequest, nil, true, 0},
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "1.5"}, false, 1500 * time.Millisecond},
		{"server error", http.StatusBadGateway, nil, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer((&hookRecorder{}).handler(tc.status, tc.header))
			defer srv.Close()

			err := newWebhookSender(nil).Send(context.Background(), Sink{URL: srv.URL}, Message{Text: "x"})
			if err == nil {
				t.Fatal("Send succeeded, want error")
			}
			if IsNoRetry(err) != tc.noRetry {
				t.Fatalf("IsNoRetry = %v, want %v (%v)", IsNoRetry(err), tc.noRetry, err)
			}
			if tc.retryAfter > 0 {
				ra, ok := err.(RetryAfterError)
				if !ok || ra.RetryAfter() != tc.retryAfter {
					t.Fatalf("err = %v, want RetryAfter %v", err, tc.retryAfter)
				}
			}
		})
	}
}

func TestDiscordContentIsClipped(t *testing.T) {
	t.Parallel()
	p := webhookPayload(FormatDiscord, Message{Text: strings.Repeat("é", 3000)}).(map[string]string)
	if n := utf8.RuneCountInString(p["content"]); n != discordMaxContent {
		t.Fatalf("content runes = %d, want %d", n, discordMaxContent)
	}
	if !strings.HasSuffix(p["content"], "...") {
		t.Fatal("clipped content lacks ellipsis")
	}
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		path string
		form map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&form)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	}))
	defer srv.Close()

	snd := &telegramSender{apiURL: srv.URL, bots: map[string]*tele.Bot{}}
	err := snd.Send(context.Background(), Sink{Token: "1:abc", ChatID: -100}, Message{Title: "t", Text: "body"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if path != "/bot1:abc/sendMessage" {
		t.Fatalf("path = %q", path)
	}
	if form["text"] != "t\nbody" {
		t.Fatalf("text = %v", form["text"])
	}
}

package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// discordMaxContent is Discord's message length limit.
const discordMaxContent = 2000

type webhookSender struct {
	client *http.Client
}

func newWebhookSender(client *http.Client) *webhookSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &webhookSender{client: client}
}

func webhookPayload(format string, msg Message) any {
	switch format {
	case FormatSlack:
		return map[string]string{"text": msg.Body()}
	case FormatRaw:
		return map[string]string{"title": msg.Title, "text": msg.Text}
	default:
		return map[string]string{"content": clipRunes(msg.Body(), discordMaxContent)}
	}
}

func (w *webhookSender) Send(ctx context.Context, sink Sink, msg Message) error {
	body, err := json.Marshal(webhookPayload(sink.Format, msg))
	if err != nil {
		return NoRetry(fmt.Errorf("encode payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sink.URL, bytes.NewReader(body))
	if err != nil {
		return NoRetry(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return RetryAfter(fmt.Errorf("webhook http %d", resp.StatusCode), parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return NoRetry(fmt.Errorf("webhook http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	default:
		return fmt.Errorf("webhook http %d", resp.StatusCode)
	}
}

// parseRetryAfter reads delay-seconds; Discord also sends fractional seconds.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		return time.Duration(f * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func clipRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

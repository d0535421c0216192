package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig configures the plain HTTP page fetcher.
type HTTPConfig struct {
	Timeout   time.Duration // Default: 30s.
	MaxBytes  int64         // Max response body size. Default: 10MB.
	UserAgent string        // Default: "Mozilla/5.0".
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "Mozilla/5.0"
	}
}

// HTTPFetcher performs bounded GET requests.
type HTTPFetcher struct {
	client *http.Client
	cfg    HTTPConfig
}

func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	cfg.defaults()
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		cfg: cfg,
	}
}

// Client exposes the underlying client for adapters that build their own requests.
func (f *HTTPFetcher) Client() *http.Client { return f.client }

func (f *HTTPFetcher) UserAgent() string { return f.cfg.UserAgent }

func (f *HTTPFetcher) MaxBytes() int64 { return f.cfg.MaxBytes }

func (f *HTTPFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return readLimited(resp.Body, f.cfg.MaxBytes)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBytes)
	}
	return body, nil
}

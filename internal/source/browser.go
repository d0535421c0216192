package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	logx "pollwatch/pkg/logx"
)

// BrowserConfig configures the headless Chrome page fetcher used for
// script-rendered pages.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local headless Chrome.
	RemoteURL string
	// Bin overrides the Chrome binary path for local launches.
	Bin string
	// NavTimeout bounds navigation plus load. Default: 30s.
	NavTimeout time.Duration
	// Stealth applies go-rod/stealth evasions to each page. Default on.
	DisableStealth bool
}

// BrowserFetcher renders pages in Chrome and returns the final DOM.
// Chrome is started lazily on first use and shared across sources.
type BrowserFetcher struct {
	cfg BrowserConfig
	log logx.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func NewBrowserFetcher(cfg BrowserConfig, log logx.Logger) *BrowserFetcher {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &BrowserFetcher{cfg: cfg, log: log}
}

func (b *BrowserFetcher) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := strings.TrimSpace(b.cfg.RemoteURL)
	if wsURL == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.log.Info("browser launched", logx.String("url", wsURL))
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		if b.lnch != nil {
			b.lnch.Kill()
			b.lnch = nil
		}
		return nil, fmt.Errorf("browser connect: %w", err)
	}
	b.browser = br
	return br, nil
}

func (b *BrowserFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	br, err := b.connect()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if b.cfg.DisableStealth {
		page, err = br.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(br)
	}
	if err != nil {
		b.reset()
		return nil, fmt.Errorf("browser page: %w", err)
	}
	defer func() { _ = page.Close() }()

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("browser navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser wait load: %w", err)
	}
	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// reset drops a browser handle that stopped accepting pages so the next
// fetch reconnects.
func (b *BrowserFetcher) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		_ = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
}

func (b *BrowserFetcher) Close() error {
	b.reset()
	return nil
}

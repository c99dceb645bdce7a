// Package browser probes browser capabilities.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"permgate/internal/domain"
)

const (
	defaultProbeTimeout = 15 * time.Second
	defaultProbePage    = "about:blank"

	pipExpression = `!!document.pictureInPictureEnabled`
)

// ChromeConfig holds configuration for the chromedp probe.
type ChromeConfig struct {
	// RemoteURL is the CDP WebSocket endpoint of a running browser.
	// If empty, a local Chrome instance is launched on first use.
	RemoteURL string
	// Headless controls whether a locally launched Chrome runs headless.
	Headless bool
	// Timeout bounds each probe.
	Timeout time.Duration
	// PageURL is loaded before evaluating capabilities.
	PageURL string
}

// ChromeProbe evaluates capability expressions in a real browser.
type ChromeProbe struct {
	cfg    ChromeConfig
	logger *slog.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeProbe creates a probe. The browser starts lazily.
func NewChromeProbe(cfg ChromeConfig, logger *slog.Logger) *ChromeProbe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.PageURL == "" {
		cfg.PageURL = defaultProbePage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeProbe{cfg: cfg, logger: logger.With("component", "browser.chromedp")}
}

// start launches or connects to the browser. Caller must hold mu.
func (p *ChromeProbe) start() {
	if p.browserCtx != nil {
		return
	}
	var allocCtx context.Context
	if p.cfg.RemoteURL != "" {
		allocCtx, p.allocCancel = chromedp.NewRemoteAllocator(context.Background(), p.cfg.RemoteURL)
		p.logger.Info("chromedp connecting to remote browser", "url", p.cfg.RemoteURL)
	} else {
		// Copy default options to avoid mutating the package-level slice.
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", p.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		p.logger.Info("chromedp launching local browser", "headless", p.cfg.Headless)
	}
	p.browserCtx, p.browserCancel = chromedp.NewContext(allocCtx)
}

// PictureInPictureEnabled reports whether the browser supports picture-in-picture.
func (p *ChromeProbe) PictureInPictureEnabled(ctx context.Context) (bool, error) {
	return p.evaluateBool(ctx, pipExpression)
}

func (p *ChromeProbe) evaluateBool(ctx context.Context, expr string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start()

	// Each probe runs in a fresh tab bound to the browser context.
	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx)
	defer tabCancel()
	tctx, cancel := context.WithTimeout(tabCtx, p.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var ok bool
	if err := chromedp.Run(tctx,
		chromedp.Navigate(p.cfg.PageURL),
		chromedp.Evaluate(expr, &ok),
	); err != nil {
		return false, fmt.Errorf("%w: evaluate %q: %v", domain.ErrProbeUnavailable, expr, err)
	}
	return ok, nil
}

// Close shuts down the browser if it was started.
func (p *ChromeProbe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.browserCtx = nil
	p.browserCancel = nil
	p.allocCancel = nil
}

// StaticProbe reports a fixed capability answer. It is used when no browser
// is configured.
type StaticProbe bool

// PictureInPictureEnabled returns the fixed answer.
func (s StaticProbe) PictureInPictureEnabled(context.Context) (bool, error) { return bool(s), nil }

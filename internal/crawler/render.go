package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// ErrNoRenderer is returned by the dynamic tier when no browser is available.
var ErrNoRenderer = errors.New("no renderer available")

// CapturedResponse is a JSON response intercepted while rendering.
type CapturedResponse struct {
	URL  string
	Body []byte
}

// RenderedPage is a page after client-side scripts have run.
type RenderedPage struct {
	URL       string
	HTML      string
	Responses []CapturedResponse
}

// Renderer renders one address in a real browser.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (*RenderedPage, error)
}

// Browser is a Renderer that holds a process and must be closed.
type Browser interface {
	Renderer
	Close() error
}

// BrowserFactory starts a Browser for the duration of one crawl pass.
type BrowserFactory func(ctx context.Context) (Browser, error)

// RenderConfig holds configuration for the headless browser.
type RenderConfig struct {
	UserAgent   string
	Timeout     time.Duration // per address
	IdleWindow  time.Duration // quiet network time that counts as settled
	SettleDelay time.Duration // extra wait after the network settles
	URLHints    []string      // substrings marking interesting JSON responses
}

// DefaultRenderConfig returns default renderer configuration.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		UserAgent:   DefaultFetcherConfig().UserAgent,
		Timeout:     45 * time.Second,
		IdleWindow:  500 * time.Millisecond,
		SettleDelay: 1500 * time.Millisecond,
		URLHints:    []string{"api", "data", "challenge", "sbc"},
	}
}

// captureMargin is kept free after the settle delay for reading the DOM and
// intercepted response bodies.
const captureMargin = 3 * time.Second

// quietBudget is how long Render may wait for the network to go quiet so the
// settle delay and capture still finish before deadline.
func quietBudget(deadline, now time.Time, settle time.Duration) time.Duration {
	d := deadline.Sub(now) - settle - captureMargin
	if d < 0 {
		return 0
	}
	return d
}

// ChromeBrowser renders pages with a single headless Chrome, one tab per address.
type ChromeBrowser struct {
	config        RenderConfig
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	log           *logger.Logger
}

// NewChromeBrowserFactory returns a BrowserFactory backed by chromedp.
func NewChromeBrowserFactory(cfg RenderConfig, log *logger.Logger) BrowserFactory {
	return func(ctx context.Context) (Browser, error) {
		return NewChromeBrowser(ctx, cfg, log)
	}
}

// NewChromeBrowser launches headless Chrome. The browser lives until Close or ctx ends.
func NewChromeBrowser(ctx context.Context, cfg RenderConfig, log *logger.Logger) (*ChromeBrowser, error) {
	if log == nil {
		log = logger.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(1440, 2200),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing Chrome shows up before the pass relies on it.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &ChromeBrowser{
		config:        cfg,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		log:           log.WithComponent("renderer"),
	}, nil
}

// Render opens pageURL in a new tab, waits for the network to settle and
// returns the DOM together with intercepted JSON responses.
func (b *ChromeBrowser) Render(ctx context.Context, pageURL string) (*RenderedPage, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.config.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	watch := newNetWatch(pageURL, b.config.URLHints)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			watch.requestStarted(string(e.RequestID))
		case *network.EventResponseReceived:
			if e.Response != nil {
				watch.responseReceived(string(e.RequestID), e.Response.URL, e.Response.MimeType)
			}
		case *network.EventLoadingFinished:
			watch.requestFinished(string(e.RequestID), true)
		case *network.EventLoadingFailed:
			watch.requestFinished(string(e.RequestID), false)
		}
	})

	start := time.Now()
	if err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	); err != nil {
		return nil, fmt.Errorf("browser navigation failed: %w", err)
	}

	deadline, _ := tabCtx.Deadline()
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	quietCtx, cancelQuiet := context.WithTimeout(tabCtx, quietBudget(deadline, time.Now(), b.config.SettleDelay))
	watch.waitIdle(quietCtx, b.config.IdleWindow, 100*time.Millisecond)
	cancelQuiet()

	var htmlContent string
	if err := chromedp.Run(tabCtx,
		chromedp.Sleep(b.config.SettleDelay),
		chromedp.OuterHTML("html", &htmlContent),
	); err != nil {
		return nil, fmt.Errorf("failed to capture rendered DOM: %w", err)
	}

	page := &RenderedPage{URL: pageURL, HTML: htmlContent}
	for _, r := range watch.responses() {
		var body []byte
		err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(network.RequestID(r.id)).Do(ctx)
			return err
		}))
		if err != nil {
			b.log.WithError(err).Debug("failed to read intercepted response", "url", r.url)
			continue
		}
		page.Responses = append(page.Responses, CapturedResponse{URL: r.url, Body: body})
	}

	b.log.Debug("rendered page",
		"url", pageURL,
		"content_length", len(htmlContent),
		"json_responses", len(page.Responses),
		"duration", time.Since(start),
	)
	return page, nil
}

// Close shuts the browser down.
func (b *ChromeBrowser) Close() error {
	b.cancelBrowser()
	b.cancelAlloc()
	return nil
}

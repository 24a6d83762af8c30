package scrape

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// BrowserOptions configure the headless Chrome fallback.
type BrowserOptions struct {
	// ExecPath overrides the Chrome binary; empty uses the chromedp lookup.
	ExecPath string
	Timeout  time.Duration
	// Settle is how long to wait after load for client-side rendering.
	Settle time.Duration
}

// BrowserScraper renders pages in headless Chrome. It is the fallback for
// portals that block plain HTTP clients or render listings with JavaScript.
type BrowserScraper struct {
	opts    Options
	browser BrowserOptions
}

// NewBrowserScraper creates a BrowserScraper. A browser process is started
// per Scrape call and torn down afterwards.
func NewBrowserScraper(opts Options, browser BrowserOptions) *BrowserScraper {
	if browser.Timeout <= 0 {
		browser.Timeout = 60 * time.Second
	}
	if browser.Settle < 0 {
		browser.Settle = 0
	}
	return &BrowserScraper{opts: opts.withDefaults(), browser: browser}
}

func (b *BrowserScraper) Name() string           { return "browser" }
func (b *BrowserScraper) Supports(_ string) bool { return true }

func (b *BrowserScraper) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "es-AR"),
		chromedp.UserAgent(b.opts.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	if b.browser.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.browser.ExecPath))
	}
	return opts
}

// Scrape navigates to targetURL, waits for rendering and captures the DOM.
func (b *BrowserScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	defer cancelTab()
	runCtx, cancelRun := context.WithTimeout(tabCtx, b.browser.Timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(targetURL),
		chromedp.Sleep(b.browser.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, eris.Wrap(err, "browser: render")
	}
	if html == "" {
		return nil, eris.New("browser: empty document")
	}

	page, err := buildPage(targetURL, html, 200, b.opts.MaxTextChars)
	if err != nil {
		return nil, eris.Wrap(err, "browser: parse html")
	}
	return &Result{Page: page, Source: b.Name()}, nil
}

package scrape

import (
	"context"

	"go.uber.org/zap"
)

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	scrapers []Scraper
}

// NewChain creates a Chain. Scrapers are tried in order; the first
// successful result is returned.
func NewChain(scrapers ...Scraper) *Chain {
	return &Chain{scrapers: scrapers}
}

// NewDefaultChain tries plain HTTP first, then headless Chrome when
// useBrowser is set.
func NewDefaultChain(opts Options, useBrowser bool, browser BrowserOptions) *Chain {
	scrapers := []Scraper{NewLocalScraper(opts)}
	if useBrowser {
		scrapers = append(scrapers, NewBrowserScraper(opts, browser))
	}
	return NewChain(scrapers...)
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Supports(url string) bool {
	for _, s := range c.scrapers {
		if s.Supports(url) {
			return true
		}
	}
	return false
}

// Scrape tries each scraper in order for a single URL. When all fail it
// returns a *FetchError wrapping the last failure.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	var lastErr error
	for _, s := range c.scrapers {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{URL: targetURL, Reason: "cancelled", Err: err}
		}
		if !s.Supports(targetURL) {
			continue
		}
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil {
			zap.L().Debug("scrape: fetched",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Int("html_chars", len(result.Page.HTML)),
			)
			return result, nil
		}
		if err != nil {
			zap.L().Info("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, &FetchError{URL: targetURL, Reason: "all scrapers failed", Err: lastErr}
	}
	return nil, &FetchError{URL: targetURL, Reason: "no suitable scraper"}
}

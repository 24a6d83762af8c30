package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/resilience"
)

// LocalScraper fetches HTML via net/http with browser-like headers. Short
// or blocked responses are errors so the chain falls through to the browser.
type LocalScraper struct {
	client *http.Client
	opts   Options
	retry  resilience.RetryConfig
}

// NewLocalScraper creates a LocalScraper. Zero option fields take defaults.
func NewLocalScraper(opts Options) *LocalScraper {
	opts = opts.withDefaults()
	retry := resilience.Attempts(opts.Attempts)
	retry.InitialBackoff = time.Second
	return &LocalScraper{
		opts:  opts,
		retry: retry,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL, rejects blocks and short bodies, and extracts text.
// Resets, timeouts and 429/5xx responses are retried with backoff.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	cfg := l.retry
	cfg.OnRetry = resilience.RetryLogger("fetch", targetURL)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
		return l.fetch(ctx, targetURL)
	})
}

func (l *LocalScraper) fetch(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", l.opts.AcceptLang)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.opts.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		err := eris.Errorf("local_http: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	if len(body) < l.opts.MinHTMLChars {
		return nil, eris.Errorf("local_http: content too short (%d < %d chars)", len(body), l.opts.MinHTMLChars)
	}

	page, err := buildPage(targetURL, string(body), resp.StatusCode, l.opts.MaxTextChars)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse html")
	}
	return &Result{Page: page, Source: l.Name()}, nil
}

func buildPage(url, raw string, status, maxText int) (model.Page, error) {
	title, text, err := HTMLToText(raw, maxText)
	if err != nil {
		return model.Page{}, err
	}
	return model.Page{
		URL:        url,
		HTML:       raw,
		Text:       text,
		Title:      title,
		StatusCode: status,
	}, nil
}

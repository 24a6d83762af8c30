// Package scrape fetches listing pages, falling back from plain HTTP to a
// headless browser when a portal blocks or truncates the response.
package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/house-scraper/internal/model"
)

// Result holds a fetched page with its source.
type Result struct {
	Page   model.Page
	Source string // e.g. "local_http", "browser"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}

// FetchError reports a URL no scraper could retrieve.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options tune page retrieval.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	AcceptLang   string
	MinHTMLChars int
	MaxTextChars int
	MaxBodyBytes int64
	// Attempts bounds tries per URL for transient HTTP failures. Default 3.
	Attempts int
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultOptions returns the retrieval defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		UserAgent:    defaultUserAgent,
		AcceptLang:   "es-AR,es;q=0.9,en;q=0.8",
		MinHTMLChars: 1000,
		MaxTextChars: 50000,
		MaxBodyBytes: 8 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.AcceptLang == "" {
		o.AcceptLang = d.AcceptLang
	}
	if o.MinHTMLChars <= 0 {
		o.MinHTMLChars = d.MinHTMLChars
	}
	if o.MaxTextChars <= 0 {
		o.MaxTextChars = d.MaxTextChars
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = d.MaxBodyBytes
	}
	return o
}

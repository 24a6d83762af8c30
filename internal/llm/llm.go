// Package llm defines the text-completion backends used to fill fields the
// site profiles cannot extract.
package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/house-scraper/internal/resilience"
)

// Temperature is the sampling temperature sent to every backend.
const Temperature = 0.1

// Completer turns a prompt into a text completion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type limited struct {
	next    Completer
	limiter *rate.Limiter
}

// Limited paces calls to next at perMinute requests per minute. A
// non-positive rate returns next unchanged.
func Limited(next Completer, perMinute int) Completer {
	if perMinute <= 0 {
		return next
	}
	return &limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *limited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "llm: rate limit wait")
	}
	return l.next.Complete(ctx, prompt)
}

type retrying struct {
	next Completer
	cfg  resilience.RetryConfig
}

// WithRetry retries transient backend failures. Timeouts are returned as is.
func WithRetry(next Completer, cfg resilience.RetryConfig) Completer {
	return &retrying{next: next, cfg: cfg}
}

func (r *retrying) Complete(ctx context.Context, prompt string) (string, error) {
	cfg := r.cfg
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("llm", "")
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		return r.next.Complete(ctx, prompt)
	})
}

type guarded struct {
	next    Completer
	breaker *resilience.Breaker
}

// WithBreaker fails fast while the backend keeps failing.
func WithBreaker(next Completer, b *resilience.Breaker) Completer {
	return &guarded{next: next, breaker: b}
}

func (g *guarded) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Complete(ctx, prompt)
		return err
	})
	return out, err
}

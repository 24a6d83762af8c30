package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/house-scraper/internal/derive"
	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/queue"
	"github.com/sells-group/house-scraper/internal/scrape"
)

// Stage names a step of the per-URL pipeline.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageStore   Stage = "store"
	StageQueue   Stage = "queue"
)

// StageError reports the step at which one URL failed.
type StageError struct {
	URL   string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Fetcher retrieves a page. *scrape.Chain satisfies it.
type Fetcher interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
}

// Processor turns a fetched page into a record. *Extractor satisfies it.
type Processor interface {
	Process(ctx context.Context, page model.Page) (*model.Record, error)
}

// RecordStore is the part of store.Store the runner writes through.
type RecordStore interface {
	queue.StatusStore
	Upsert(ctx context.Context, rec *model.Record) (model.UpsertResult, error)
}

// RunOptions control a batch.
type RunOptions struct {
	// SkipExisting moves URLs already in the store to the ledger without
	// fetching them again.
	SkipExisting bool
	// Concurrency is the number of URLs processed at once. Default 1.
	Concurrency int
}

// Failure is one URL that did not make it into the store.
type Failure struct {
	URL   string `json:"url"`
	Stage Stage  `json:"stage"`
	Error string `json:"error"`
}

// BatchResult summarizes a run.
type BatchResult struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Inserted  int           `json:"inserted"`
	Updated   int           `json:"updated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Failures  []Failure     `json:"failures,omitempty"`
	Synced    int           `json:"synced"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// Runner drives the pending queue through the pipeline.
type Runner struct {
	queue     *queue.Queue
	fetcher   Fetcher
	processor Processor
	calc      *derive.Calculator
	store     RecordStore
	opts      RunOptions

	mu     sync.Mutex
	result *BatchResult
}

// NewRunner creates a Runner.
func NewRunner(q *queue.Queue, f Fetcher, p Processor, calc *derive.Calculator, st RecordStore, opts RunOptions) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Runner{queue: q, fetcher: f, processor: p, calc: calc, store: st, opts: opts}
}

// Run processes every pending URL. Missing queue files abort before any
// work; per-URL failures are counted and the batch continues. When ctx is
// cancelled no further URL is started, and what was committed stays.
func (r *Runner) Run(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	r.result = &BatchResult{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("run_id", r.result.RunID))

	if err := r.queue.CheckFiles(); err != nil {
		return nil, err
	}

	updated, skipped, err := r.queue.SyncLedgerToStore(ctx, r.store)
	if err != nil {
		if ctx.Err() != nil {
			r.result.Cancelled = true
			return r.result, nil
		}
		log.Warn("pipeline: ledger sync failed", zap.Error(err))
	}
	r.result.Synced = updated
	log.Info("pipeline: ledger synced", zap.Int("updated", updated), zap.Int("not_stored", skipped))

	urls, err := r.queue.PopPending()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read pending")
	}
	urls = dedupe(urls)
	r.result.Total = len(urls)
	if len(urls) == 0 {
		log.Info("pipeline: no pending urls")
		r.result.Duration = time.Since(start)
		return r.result, nil
	}
	log.Info("pipeline: starting batch",
		zap.Int("urls", len(urls)),
		zap.Int("concurrency", r.opts.Concurrency),
	)

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.processOne(ctx, log.With(zap.String("url", u), zap.Int("index", i+1)), u)
			return nil
		})
	}
	_ = g.Wait()

	r.result.Cancelled = ctx.Err() != nil
	r.result.Duration = time.Since(start)
	log.Info("pipeline: batch complete",
		zap.Int("total", r.result.Total),
		zap.Int("inserted", r.result.Inserted),
		zap.Int("updated", r.result.Updated),
		zap.Int("skipped", r.result.Skipped),
		zap.Int("failed", r.result.Failed),
		zap.Bool("cancelled", r.result.Cancelled),
		zap.Duration("duration", r.result.Duration),
	)
	return r.result, nil
}

func (r *Runner) processOne(ctx context.Context, log *zap.Logger, url string) {
	if r.opts.SkipExisting {
		existing, err := r.store.GetByURL(ctx, url)
		if err != nil {
			r.fail(ctx, log, &StageError{URL: url, Stage: StageStore, Err: err})
			return
		}
		if existing != nil {
			log.Info("pipeline: already stored, skipping")
			r.settle(log, url)
			r.count(func(b *BatchResult) { b.Skipped++ })
			return
		}
	}

	res, err := r.fetcher.Scrape(ctx, url)
	if err != nil {
		r.fail(ctx, log, &StageError{URL: url, Stage: StageFetch, Err: err})
		return
	}
	log.Debug("pipeline: fetched",
		zap.String("stage", string(StageFetch)),
		zap.String("source", res.Source),
		zap.Int("text_chars", len(res.Page.Text)),
	)

	rec, err := r.processor.Process(ctx, res.Page)
	if err != nil {
		r.fail(ctx, log, &StageError{URL: url, Stage: StageExtract, Err: err})
		return
	}
	rec.URL = url
	if r.calc != nil {
		rec.Fields = r.calc.Compute(rec.Fields)
	}

	outcome, err := r.store.Upsert(ctx, rec)
	if err != nil {
		r.fail(ctx, log, &StageError{URL: url, Stage: StageStore, Err: err})
		return
	}
	r.settle(log, url)

	log.Info("pipeline: stored", zap.String("result", string(outcome)))
	r.count(func(b *BatchResult) {
		if outcome == model.Inserted {
			b.Inserted++
		} else {
			b.Updated++
		}
	})
}

// settle moves url from the pending file to the ledger. The store write has
// already happened, so a failure here is logged and the URL is picked up
// again by the next run.
func (r *Runner) settle(log *zap.Logger, url string) {
	if err := r.queue.AppendLedger(url, model.StatusUnreviewed); err != nil {
		log.Error("pipeline: ledger append failed", zap.String("stage", string(StageQueue)), zap.Error(err))
		return
	}
	if err := r.queue.RemovePending(url); err != nil {
		log.Error("pipeline: pending removal failed", zap.String("stage", string(StageQueue)), zap.Error(err))
	}
}

func (r *Runner) fail(ctx context.Context, log *zap.Logger, err *StageError) {
	if ctx.Err() != nil {
		log.Warn("pipeline: interrupted", zap.String("stage", string(err.Stage)))
		return
	}
	log.Error("pipeline: url failed", zap.String("stage", string(err.Stage)), zap.Error(err.Err))
	r.count(func(b *BatchResult) {
		b.Failed++
		b.Failures = append(b.Failures, Failure{URL: err.URL, Stage: err.Stage, Error: err.Err.Error()})
	})
}

func (r *Runner) count(fn func(*BatchResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.result)
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

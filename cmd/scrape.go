package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/config"
	"github.com/sells-group/house-scraper/internal/derive"
	"github.com/sells-group/house-scraper/internal/extract"
	"github.com/sells-group/house-scraper/internal/llm"
	"github.com/sells-group/house-scraper/internal/pipeline"
	"github.com/sells-group/house-scraper/internal/resilience"
	"github.com/sells-group/house-scraper/internal/scrape"
	"github.com/sells-group/house-scraper/internal/standardize"
	"github.com/sells-group/house-scraper/internal/store"
	anthropicpkg "github.com/sells-group/house-scraper/pkg/anthropic"
)

var scrapeSkipExisting bool

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape pending listing URLs into the store",
	Long:  "Syncs review tags from the ledger, then fetches, extracts and stores every URL in the pending file. Stored URLs move to the ledger; failed ones stay pending for the next run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeScrape); err != nil {
			return err
		}

		env, err := initScrapeEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// A missing pending or ledger file comes back as
		// *queue.ConfigurationMissingError with the cp commands to run.
		result, err := env.Runner.Run(ctx)
		if err != nil {
			return err
		}

		formatBatchResult(os.Stdout, result)
		return nil
	},
}

func init() {
	scrapeCmd.Flags().BoolVarP(&scrapeSkipExisting, "skip-existing", "s", false, "move URLs already in the store to the ledger without fetching them")
	rootCmd.AddCommand(scrapeCmd)
}

// scrapeEnv holds everything the scrape command builds from config.
type scrapeEnv struct {
	Store  store.Store
	Runner *pipeline.Runner
}

// Close releases the store.
func (e *scrapeEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initScrapeEnv(ctx context.Context) (*scrapeEnv, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, err
	}

	profiles, err := loadProfiles(cfg.Paths.ProfilesFile)
	if err != nil {
		return nil, err
	}

	completer, err := buildCompleter(cfg)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, schema)
	if err != nil {
		return nil, err
	}

	extractor := pipeline.NewExtractor(
		schema,
		extract.NewPatternExtractor(schema, profiles),
		completer,
		standardize.New(schema, standardize.Options{
			Enabled: cfg.Standardize.Enabled,
			Fields:  cfg.Standardize.Fields,
		}),
		pipeline.ExtractorOptions{
			MaxPromptChars: cfg.LLM.MaxPromptChars,
			Timeout:        seconds(cfg.LLM.TimeoutSecs),
		},
	)

	runner := pipeline.NewRunner(
		newQueue(),
		buildChain(cfg.Fetch),
		extractor,
		derive.NewCalculator(schema),
		st,
		pipeline.RunOptions{
			SkipExisting: scrapeSkipExisting,
			Concurrency:  cfg.Batch.Concurrency,
		},
	)

	zap.L().Info("scrape environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("llm", cfg.LLM.Provider),
		zap.Int("fields", len(schema.Fields)),
		zap.Bool("browser", cfg.Fetch.Browser),
	)
	return &scrapeEnv{Store: st, Runner: runner}, nil
}

// loadProfiles tolerates a missing profile file: every field then goes
// through the LLM.
func loadProfiles(path string) (*extract.Profiles, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		zap.L().Warn("site profiles not found, using llm for every field", zap.String("path", path))
		return nil, nil
	}
	profiles, err := extract.LoadProfiles(path)
	if err != nil {
		return nil, eris.Wrap(err, "load site profiles")
	}
	zap.L().Info("site profiles loaded", zap.Strings("domains", profiles.Domains()))
	return profiles, nil
}

func buildChain(fc config.FetchConfig) *scrape.Chain {
	return scrape.NewDefaultChain(scrape.Options{
		Timeout:      seconds(fc.TimeoutSecs),
		UserAgent:    fc.UserAgent,
		MinHTMLChars: fc.MinHTMLChars,
		MaxTextChars: fc.MaxTextChars,
	}, fc.Browser, scrape.BrowserOptions{
		ExecPath: fc.BrowserPath,
		Timeout:  seconds(fc.BrowserTimeoutSecs),
	})
}

// buildCompleter returns the configured LLM backend paced, retried and
// guarded by a circuit breaker. Provider "none" returns nil, which turns the
// fallback off.
func buildCompleter(c *config.Config) (llm.Completer, error) {
	var base llm.Completer
	switch c.LLM.Provider {
	case "anthropic":
		client := anthropicpkg.NewClient(c.Anthropic.Key, c.Anthropic.BaseURL)
		base = llm.NewAnthropicCompleter(client, c.LLM.Model, c.LLM.MaxTokens)
	case "ollama":
		base = llm.NewOllamaCompleter(c.Ollama.BaseURL, c.Ollama.Model)
	case "none":
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}

	completer := llm.Limited(base, c.LLM.RequestsPerMinute)
	completer = llm.WithRetry(completer, resilience.Attempts(c.LLM.Retries+1))
	breaker := resilience.NewBreaker("llm", c.LLM.BreakerThreshold, seconds(c.LLM.BreakerCooldownSecs))
	return llm.WithBreaker(completer, breaker), nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// formatBatchResult writes the end-of-run summary.
func formatBatchResult(out io.Writer, r *pipeline.BatchResult) {
	_, _ = fmt.Fprintf(out, "Run %s finished in %s\n", r.RunID, r.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(out, "  ledger statuses synced: %d\n", r.Synced)
	_, _ = fmt.Fprintf(out, "  total:    %d\n", r.Total)
	_, _ = fmt.Fprintf(out, "  inserted: %d\n", r.Inserted)
	_, _ = fmt.Fprintf(out, "  updated:  %d\n", r.Updated)
	_, _ = fmt.Fprintf(out, "  skipped:  %d\n", r.Skipped)
	_, _ = fmt.Fprintf(out, "  failed:   %d\n", r.Failed)
	for _, f := range r.Failures {
		_, _ = fmt.Fprintf(out, "    [%s] %s: %s\n", f.Stage, f.URL, f.Error)
	}
	if r.Cancelled {
		_, _ = fmt.Fprintln(out, "Interrupted: remaining URLs are still pending.")
	}
}

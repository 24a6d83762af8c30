package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/house-scraper/internal/derive"
	"github.com/sells-group/house-scraper/internal/extract"
	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/queue"
	"github.com/sells-group/house-scraper/internal/scrape"
	"github.com/sells-group/house-scraper/internal/standardize"
)

const (
	urlA = "https://www.zonaprop.com.ar/propiedades/casa-alberdi-111.html"
	urlB = "https://www.argenprop.com/departamento-en-venta-en-centro--222"
	urlC = "https://www.zonaprop.com.ar/propiedades/ph-fisherton-333.html"
)

func newTestQueue(t *testing.T, pending []string, ledger string) *queue.Queue {
	t.Helper()
	dir := t.TempDir()
	pendingPath := filepath.Join(dir, "links-to-scrap.md")
	ledgerPath := filepath.Join(dir, "properties-status.md")

	body := "# Links to scrape\n\n<!-- comment -->\n" + strings.Join(pending, "\n") + "\n"
	require.NoError(t, os.WriteFile(pendingPath, []byte(body), 0o644))
	require.NoError(t, os.WriteFile(ledgerPath, []byte("# Property Status Tracking\n\n"+ledger), 0o644))
	return queue.New(pendingPath, ledgerPath)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func fetched(url string) *scrape.Result {
	return &scrape.Result{
		Page:   model.Page{URL: url, HTML: "<html>" + url + "</html>", Text: "Casa " + url},
		Source: "local_http",
	}
}

func record(url string) *model.Record {
	return &model.Record{URL: url, Fields: model.FieldMap{"precio": 180000.0}}
}

func TestRunner_EndToEnd(t *testing.T) {
	q := newTestQueue(t, []string{urlA}, "")

	fetcher := &mockFetcher{}
	fetcher.On("Scrape", mock.Anything, urlA).Return(&scrape.Result{
		Page:   model.Page{URL: urlA, HTML: listingHTML, Text: listingText},
		Source: "local_http",
	}, nil)

	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return(
		`{"precio": 999999, "metros_cuadrados_totales": 200, "metros_cuadrados_cubiertos": "120 m2", "tiene_patio": true}`, nil)

	schema := model.DefaultSchema()
	profiles, err := extract.NewProfiles(map[string]extract.Profile{
		"zonaprop.com.ar": {Patterns: map[string]extract.Pattern{
			"precio": {Type: extract.PatternRegex, Pattern: `USD\s*([\d.,]+)`},
		}},
	})
	require.NoError(t, err)
	ex := NewExtractor(schema, extract.NewPatternExtractor(schema, profiles), c,
		standardize.New(schema, standardize.Options{Enabled: true}), ExtractorOptions{})

	st := &mockStore{}
	var stored *model.Record
	st.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*model.Record)
	}).Return(model.Inserted, nil)

	r := NewRunner(q, fetcher, ex, derive.NewCalculator(schema), st, RunOptions{})
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Inserted)
	assert.Zero(t, res.Failed)
	assert.False(t, res.Cancelled)

	require.NotNil(t, stored)
	assert.Equal(t, urlA, stored.URL)
	assert.Equal(t, 180000.0, stored.Fields["precio"])
	assert.Equal(t, 1285.71, stored.Fields["costo_metro_cuadrado"])
	assert.Equal(t, true, stored.Fields["tiene_patio"])
	assert.Nil(t, stored.Fields["direccion"])

	assert.NotContains(t, readFile(t, q.PendingPath), urlA)
	assert.Equal(t, 1, strings.Count(readFile(t, q.LedgerPath), urlA))
	assert.Contains(t, readFile(t, q.LedgerPath), "[ ] "+urlA)
}

func TestRunner_FailuresStayPending(t *testing.T) {
	q := newTestQueue(t, []string{urlA, urlB, urlC}, "")

	fetcher := &mockFetcher{}
	fetcher.On("Scrape", mock.Anything, urlA).Return(nil,
		&scrape.FetchError{URL: urlA, Reason: "all scrapers failed", Err: errors.New("content too short (200 < 1000 chars)")})
	fetcher.On("Scrape", mock.Anything, urlB).Return(fetched(urlB), nil)
	fetcher.On("Scrape", mock.Anything, urlC).Return(fetched(urlC), nil)

	proc := &mockProcessor{}
	proc.On("Process", mock.Anything, mock.Anything).Return(func(_ context.Context, p model.Page) *model.Record {
		return record(p.URL)
	}, nil)

	st := &mockStore{}
	st.On("Upsert", mock.Anything, mock.MatchedBy(func(r *model.Record) bool { return r.URL == urlB })).
		Return(model.UpsertResult(""), errors.New("database is locked"))
	st.On("Upsert", mock.Anything, mock.MatchedBy(func(r *model.Record) bool { return r.URL == urlC })).
		Return(model.Updated, nil)

	res, err := NewRunner(q, fetcher, proc, nil, st, RunOptions{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, Failure{URL: urlA, Stage: StageFetch, Error: res.Failures[0].Error}, res.Failures[0])
	assert.Contains(t, res.Failures[0].Error, "content too short")
	assert.Equal(t, StageStore, res.Failures[1].Stage)

	pending := readFile(t, q.PendingPath)
	ledger := readFile(t, q.LedgerPath)
	assert.Contains(t, pending, urlA)
	assert.Contains(t, pending, urlB)
	assert.NotContains(t, pending, urlC)
	assert.NotContains(t, ledger, urlA)
	assert.NotContains(t, ledger, urlB)
	assert.Equal(t, 1, strings.Count(ledger, urlC))
}

func TestRunner_ExtractFailure(t *testing.T) {
	q := newTestQueue(t, []string{urlA}, "")
	fetcher := &mockFetcher{}
	fetcher.On("Scrape", mock.Anything, urlA).Return(fetched(urlA), nil)
	proc := &mockProcessor{}
	proc.On("Process", mock.Anything, mock.Anything).Return(nil, ErrLLMTimeout)
	st := &mockStore{}

	res, err := NewRunner(q, fetcher, proc, nil, st, RunOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, StageExtract, res.Failures[0].Stage)
	st.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRunner_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	q := queue.New(filepath.Join(dir, "links-to-scrap.md"), filepath.Join(dir, "properties-status.md"))
	fetcher := &mockFetcher{}

	_, err := NewRunner(q, fetcher, &mockProcessor{}, nil, &mockStore{}, RunOptions{}).Run(context.Background())
	require.Error(t, err)

	var cfgErr *queue.ConfigurationMissingError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Files, 2)
	fetcher.AssertNotCalled(t, "Scrape", mock.Anything, mock.Anything)
}

func TestRunner_EmptyQueue(t *testing.T) {
	q := newTestQueue(t, nil, "")
	res, err := NewRunner(q, &mockFetcher{}, &mockProcessor{}, nil, &mockStore{}, RunOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestRunner_SyncsLedgerFirst(t *testing.T) {
	q := newTestQueue(t, nil, "[YES] "+urlB+"\n[NO] "+urlC+"\n")
	st := &mockStore{}
	st.On("GetByURL", mock.Anything, urlB).Return(&model.Record{URL: urlB}, nil)
	st.On("GetByURL", mock.Anything, urlC).Return(nil, nil)
	st.On("UpdateStatus", mock.Anything, urlB, model.StatusYes).Return(true, nil)

	res, err := NewRunner(q, &mockFetcher{}, &mockProcessor{}, nil, st, RunOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	st.AssertExpectations(t)
}

func TestRunner_SkipExisting(t *testing.T) {
	q := newTestQueue(t, []string{urlA, urlB}, "")
	st := &mockStore{}
	st.On("GetByURL", mock.Anything, urlA).Return(record(urlA), nil)
	st.On("GetByURL", mock.Anything, urlB).Return(nil, nil)
	st.On("Upsert", mock.Anything, mock.Anything).Return(model.Inserted, nil)

	fetcher := &mockFetcher{}
	fetcher.On("Scrape", mock.Anything, urlB).Return(fetched(urlB), nil)
	proc := &mockProcessor{}
	proc.On("Process", mock.Anything, mock.Anything).Return(record(urlB), nil)

	res, err := NewRunner(q, fetcher, proc, nil, st, RunOptions{SkipExisting: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
	fetcher.AssertNotCalled(t, "Scrape", mock.Anything, urlA)

	pending := readFile(t, q.PendingPath)
	assert.NotContains(t, pending, urlA)
	assert.NotContains(t, pending, urlB)
	assert.Equal(t, 1, strings.Count(readFile(t, q.LedgerPath), urlA))
}

func TestRunner_CancelStopsBeforeNextURL(t *testing.T) {
	q := newTestQueue(t, []string{urlA, urlB}, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &mockFetcher{}
	fetcher.On("Scrape", mock.Anything, urlA).Run(func(mock.Arguments) { cancel() }).Return(fetched(urlA), nil)
	proc := &mockProcessor{}
	proc.On("Process", mock.Anything, mock.Anything).Return(record(urlA), nil)
	st := &mockStore{}
	st.On("Upsert", mock.Anything, mock.Anything).Return(model.Inserted, nil)

	res, err := NewRunner(q, fetcher, proc, nil, st, RunOptions{}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Inserted)
	fetcher.AssertNotCalled(t, "Scrape", mock.Anything, urlB)

	pending := readFile(t, q.PendingPath)
	assert.NotContains(t, pending, urlA)
	assert.Contains(t, pending, urlB)
	assert.Contains(t, readFile(t, q.LedgerPath), urlA)
}

func TestRunner_InterruptedURLNotCountedFailed(t *testing.T) {
	q := newTestQueue(t, []string{urlA}, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &mockFetcher{}
	fetcher.On("Scrape", mock.Anything, urlA).Run(func(mock.Arguments) { cancel() }).Return(nil, context.Canceled)

	res, err := NewRunner(q, fetcher, &mockProcessor{}, nil, &mockStore{}, RunOptions{}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Zero(t, res.Failed)
	assert.Contains(t, readFile(t, q.PendingPath), urlA)
}

func TestRunner_Concurrent(t *testing.T) {
	urls := []string{
		"https://www.zonaprop.com.ar/propiedades/a-1001.html",
		"https://www.zonaprop.com.ar/propiedades/b-1002.html",
		"https://www.zonaprop.com.ar/propiedades/c-1003.html",
		"https://www.zonaprop.com.ar/propiedades/d-1004.html",
		"https://www.zonaprop.com.ar/propiedades/e-1005.html",
		"https://www.zonaprop.com.ar/propiedades/f-1006.html",
	}
	q := newTestQueue(t, urls, "")

	fetcher := &mockFetcher{}
	for _, u := range urls {
		fetcher.On("Scrape", mock.Anything, u).Return(fetched(u), nil)
	}
	proc := &mockProcessor{}
	proc.On("Process", mock.Anything, mock.Anything).Return(func(_ context.Context, p model.Page) *model.Record {
		return record(p.URL)
	}, nil)

	var mu sync.Mutex
	seen := map[string]int{}
	st := &mockStore{}
	st.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		seen[args.Get(1).(*model.Record).URL]++
		mu.Unlock()
	}).Return(model.Inserted, nil)

	res, err := NewRunner(q, fetcher, proc, nil, st, RunOptions{Concurrency: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(urls), res.Inserted)

	pending := readFile(t, q.PendingPath)
	ledger := readFile(t, q.LedgerPath)
	for _, u := range urls {
		assert.Equal(t, 1, seen[u], u)
		assert.NotContains(t, pending, u)
		assert.Equal(t, 1, strings.Count(ledger, u), u)
	}
}

func TestRunner_DuplicatePendingProcessedOnce(t *testing.T) {
	q := newTestQueue(t, []string{urlA, urlA}, "")
	fetcher := &mockFetcher{}
	fetcher.On("Scrape", mock.Anything, urlA).Return(fetched(urlA), nil).Once()
	proc := &mockProcessor{}
	proc.On("Process", mock.Anything, mock.Anything).Return(record(urlA), nil)
	st := &mockStore{}
	st.On("Upsert", mock.Anything, mock.Anything).Return(model.Inserted, nil).Once()

	res, err := NewRunner(q, fetcher, proc, nil, st, RunOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.NotContains(t, readFile(t, q.PendingPath), urlA)
	fetcher.AssertExpectations(t)
}

func TestStageError(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{URL: urlA, Stage: StageStore, Err: inner}
	assert.Equal(t, "store "+urlA+": boom", err.Error())
	assert.ErrorIs(t, err, inner)
}

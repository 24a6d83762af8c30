package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/scrape"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// --- Completer Mock ---

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Scrape(ctx context.Context, url string) (*scrape.Result, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scrape.Result), args.Error(1)
}

// --- Processor Mock ---

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Process(ctx context.Context, page model.Page) (*model.Record, error) {
	args := m.Called(ctx, page)
	if fn, ok := args.Get(0).(func(context.Context, model.Page) *model.Record); ok {
		return fn(ctx, page), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetByURL(ctx context.Context, url string) (*model.Record, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *mockStore) UpdateStatus(ctx context.Context, url string, status model.ReviewStatus) (bool, error) {
	args := m.Called(ctx, url, status)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Upsert(ctx context.Context, rec *model.Record) (model.UpsertResult, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(model.UpsertResult), args.Error(1)
}

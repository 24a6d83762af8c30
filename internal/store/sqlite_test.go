package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background(), model.DefaultSchema()))
	return st
}

func fullRecord(url string) *model.Record {
	return &model.Record{
		URL: url,
		Fields: model.FieldMap{
			"tipo_operacion":             "venta",
			"direccion":                  "3 De Febrero 1208",
			"precio":                     180000.0,
			"metros_cuadrados_totales":   200.0,
			"metros_cuadrados_cubiertos": 120.0,
			"cantidad_dormitorios":       int64(3),
			"tiene_patio":                true,
			"tiene_pileta":               false,
			"piso":                       nil,
			"costo_metro_cuadrado":       1285.71,
		},
		ScrapedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSQLite_UpsertInsertThenGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	res, err := st.Upsert(ctx, fullRecord("https://a.com/1"))
	require.NoError(t, err)
	assert.Equal(t, model.Inserted, res)

	got, err := st.GetByURL(ctx, "https://a.com/1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://a.com/1", got.URL)
	assert.Equal(t, model.StatusUnreviewed, got.Status)
	assert.Equal(t, "venta", got.Fields["tipo_operacion"])
	assert.Equal(t, 180000.0, got.Fields["precio"])
	assert.Equal(t, int64(3), got.Fields["cantidad_dormitorios"])
	assert.Equal(t, true, got.Fields["tiene_patio"])
	assert.Equal(t, false, got.Fields["tiene_pileta"])
	assert.Nil(t, got.Fields["piso"])
	assert.Nil(t, got.Fields["barrio"])
	assert.Equal(t, 1285.71, got.Fields["costo_metro_cuadrado"])
	assert.True(t, got.ScrapedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Len(t, got.Fields, len(model.DefaultSchema().Fields))
}

func TestSQLite_UpsertIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := fullRecord("https://a.com/1")
	_, err := st.Upsert(ctx, rec)
	require.NoError(t, err)
	first, err := st.GetByURL(ctx, rec.URL)
	require.NoError(t, err)

	rec.ScrapedAt = rec.ScrapedAt.Add(time.Hour)
	res, err := st.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, model.Updated, res)

	second, err := st.GetByURL(ctx, rec.URL)
	require.NoError(t, err)
	assert.Equal(t, first.Fields, second.Fields)
	assert.True(t, second.ScrapedAt.After(first.ScrapedAt))

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_UpsertSparseMerge(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, fullRecord("https://a.com/1"))
	require.NoError(t, err)

	res, err := st.Upsert(ctx, &model.Record{
		URL:    "https://a.com/1",
		Fields: model.FieldMap{"precio": 170000.0, "barrio": "Centro"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.Updated, res)

	got, err := st.GetByURL(ctx, "https://a.com/1")
	require.NoError(t, err)
	assert.Equal(t, 170000.0, got.Fields["precio"])
	assert.Equal(t, "Centro", got.Fields["barrio"])
	assert.Equal(t, "3 De Febrero 1208", got.Fields["direccion"])
	assert.Equal(t, int64(3), got.Fields["cantidad_dormitorios"])
	assert.Equal(t, true, got.Fields["tiene_patio"])
}

func TestSQLite_UpsertKeepsStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, fullRecord("https://a.com/1"))
	require.NoError(t, err)
	ok, err := st.UpdateStatus(ctx, "https://a.com/1", model.StatusYes)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = st.Upsert(ctx, &model.Record{URL: "https://a.com/1", Fields: model.FieldMap{"precio": 1.0}})
	require.NoError(t, err)

	got, err := st.GetByURL(ctx, "https://a.com/1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusYes, got.Status)
}

func TestSQLite_UpsertRawValueSurvives(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, &model.Record{URL: "https://a.com/1", Fields: model.FieldMap{"precio": "consultar"}})
	require.NoError(t, err)

	got, err := st.GetByURL(ctx, "https://a.com/1")
	require.NoError(t, err)
	assert.Equal(t, "consultar", got.Fields["precio"])
}

func TestSQLite_UpsertIgnoresUnknownFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, &model.Record{URL: "https://a.com/1", Fields: model.FieldMap{"not_a_column": "x", "precio": 5.0}})
	require.NoError(t, err)

	got, err := st.GetByURL(ctx, "https://a.com/1")
	require.NoError(t, err)
	assert.False(t, got.Fields.Has("not_a_column"))
}

func TestSQLite_UpsertRejectsEmptyURL(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.Upsert(context.Background(), &model.Record{})
	require.Error(t, err)
	_, err = st.Upsert(context.Background(), nil)
	require.Error(t, err)
}

func TestSQLite_UpsertConcurrentSameURL(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]model.UpsertResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := st.Upsert(ctx, &model.Record{URL: "https://a.com/same", Fields: model.FieldMap{"precio": float64(i)}})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, r := range results {
		if r == model.Inserted {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)
	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_GetByURL_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetByURL(context.Background(), "https://absent.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_UpdateStatus_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ok, err := st.UpdateStatus(context.Background(), "https://absent.com", model.StatusNo)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_ListAndStatusCounts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, u := range []string{"https://a.com/1", "https://a.com/2", "https://a.com/3"} {
		_, err := st.Upsert(ctx, &model.Record{URL: u, Fields: model.FieldMap{"precio": float64(i)}, ScrapedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}
	_, err := st.UpdateStatus(ctx, "https://a.com/2", model.StatusYes)
	require.NoError(t, err)

	all, err := st.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "https://a.com/3", all[0].URL)

	yes := model.StatusYes
	liked, err := st.List(ctx, Filter{Status: &yes})
	require.NoError(t, err)
	require.Len(t, liked, 1)
	assert.Equal(t, "https://a.com/2", liked[0].URL)

	page, err := st.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "https://a.com/2", page[0].URL)

	tail, err := st.List(ctx, Filter{Offset: 2})
	require.NoError(t, err)
	require.Len(t, tail, 1)

	counts, err := st.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.ReviewStatus]int{model.StatusUnreviewed: 2, model.StatusYes: 1}, counts)
}

func TestSQLite_MigrateAddsColumns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	small, err := model.NewSchema([]model.Field{
		{Name: "precio", Type: model.FieldReal},
	})
	require.NoError(t, err)

	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx, small))
	_, err = st.Upsert(ctx, &model.Record{URL: "https://a.com/1", Fields: model.FieldMap{"precio": 10.0}})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	grown, err := model.NewSchema([]model.Field{
		{Name: "precio", Type: model.FieldReal},
		{Name: "barrio", Type: model.FieldString},
	})
	require.NoError(t, err)

	st, err = NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx, grown))
	// Running the same migration again is a no-op.
	require.NoError(t, st.Migrate(ctx, grown))

	got, err := st.GetByURL(ctx, "https://a.com/1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.Fields["precio"])
	assert.True(t, got.Fields.Has("barrio"))
	assert.Nil(t, got.Fields["barrio"])
}

func TestSQLite_MigrateRejectsBadNames(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	reserved, err := model.NewSchema([]model.Field{{Name: "status", Type: model.FieldString}})
	require.NoError(t, err)
	assert.Error(t, st.Migrate(context.Background(), reserved))

	bad, err := model.NewSchema([]model.Field{{Name: "Precio Total", Type: model.FieldReal}})
	require.NoError(t, err)
	assert.Error(t, st.Migrate(context.Background(), bad))
}

func TestSQLite_NotMigrated(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	_, err = st.Upsert(context.Background(), &model.Record{URL: "https://a.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not migrated")
}

func TestSQLite_WALMode(t *testing.T) {
	st := newTestSQLiteStore(t)
	var mode string
	require.NoError(t, st.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var n sql.NullInt64
	require.NoError(t, st.db.QueryRow("SELECT COUNT(*) FROM properties").Scan(&n))
	assert.Equal(t, int64(0), n.Int64)
}

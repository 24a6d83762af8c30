package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/db"
	"github.com/sells-group/house-scraper/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()

	schemaMu sync.RWMutex
	cols     []column
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresBaseTable = `
CREATE TABLE IF NOT EXISTS properties (
	id         BIGSERIAL PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT '',
	scraped_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_properties_status ON properties(status);
`

func postgresType(k columnKind) string {
	switch k {
	case kindInteger:
		return "BIGINT"
	case kindReal:
		return "DOUBLE PRECISION"
	case kindBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// Migrate creates the properties table and adds a nullable column for every
// schema field it lacks.
func (s *PostgresStore) Migrate(ctx context.Context, schema *model.Schema) error {
	cols, err := schemaColumns(schema)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, postgresBaseTable); err != nil {
		return eris.Wrap(err, "postgres: migrate base table")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
		Table,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: list columns")
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return eris.Wrap(err, "postgres: scan column")
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate columns")
	}

	for _, c := range cols {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", Table, db.QuoteIdent(c.name), postgresType(c.kind))
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrapf(err, "postgres: add column %s", c.name)
		}
		zap.L().Info("postgres: added column", zap.String("column", c.name))
	}

	s.schemaMu.Lock()
	s.cols = cols
	s.schemaMu.Unlock()
	return nil
}

func (s *PostgresStore) columns() ([]column, error) {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()
	if s.cols == nil {
		return nil, eris.New("postgres: store not migrated")
	}
	return s.cols, nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Upsert runs a single INSERT ... ON CONFLICT statement whose update list
// holds only the fields present in rec. Values that do not fit a typed
// column are stored as NULL with a warning.
func (s *PostgresStore) Upsert(ctx context.Context, rec *model.Record) (model.UpsertResult, error) {
	if rec == nil || rec.URL == "" {
		return "", eris.New("postgres: upsert: record without url")
	}
	cols, err := s.columns()
	if err != nil {
		return "", err
	}
	present := presentColumns(cols, rec.Fields)
	scrapedAt := rec.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	names := append([]string{"url"}, columnNames(present)...)
	names = append(names, "status", "scraped_at")

	args := make([]any, 0, len(names))
	args = append(args, rec.URL)
	for _, c := range present {
		v, ok := coerce(c.kind, rec.Fields[c.name])
		if !ok {
			zap.L().Warn("postgres: value does not fit column, storing null",
				zap.String("url", rec.URL),
				zap.String("column", c.name),
				zap.Any("value", rec.Fields[c.name]),
			)
			v = nil
		}
		args = append(args, v)
	}
	args = append(args, string(rec.Status), scrapedAt)

	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sets := make([]string, 0, len(present)+1)
	for _, c := range present {
		q := db.QuoteIdent(c.name)
		sets = append(sets, q+" = EXCLUDED."+q)
	}
	sets = append(sets, `"scraped_at" = EXCLUDED."scraped_at"`)

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (url) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		Table,
		db.QuoteAndJoin(names),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ", "),
	)

	var inserted bool
	if err := s.pool.QueryRow(ctx, stmt, args...).Scan(&inserted); err != nil {
		return "", eris.Wrapf(err, "postgres: upsert %s", rec.URL)
	}
	if inserted {
		return model.Inserted, nil
	}
	return model.Updated, nil
}

func (s *PostgresStore) selectSQL(cols []column) string {
	names := append([]string{"url", "status", "scraped_at"}, columnNames(cols)...)
	return fmt.Sprintf("SELECT %s FROM %s", db.QuoteAndJoin(names), Table)
}

func (s *PostgresStore) GetByURL(ctx context.Context, url string) (*model.Record, error) {
	cols, err := s.columns()
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, s.selectSQL(cols)+" WHERE url = $1", url)
	rec, err := scanRecord(row, cols)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", url)
	}
	return rec, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM properties`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count")
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, url string, status model.ReviewStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE properties SET status = $1 WHERE url = $2`, string(status), url)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update status %s", url)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]model.Record, error) {
	cols, err := s.columns()
	if err != nil {
		return nil, err
	}
	query := s.selectSQL(cols) + " WHERE 1=1"
	var args []any
	argIdx := 1
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*filter.Status))
		argIdx++
	}
	query += " ORDER BY scraped_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list properties")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows, cols)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan property")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate properties")
}

func (s *PostgresStore) StatusCounts(ctx context.Context) (map[model.ReviewStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM properties GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status counts")
	}
	defer rows.Close()

	out := make(map[model.ReviewStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		out[model.ReviewStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate status counts")
}

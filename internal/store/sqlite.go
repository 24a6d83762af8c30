package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/house-scraper/internal/db"
	"github.com/sells-group/house-scraper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes writers so concurrent pipelines never interleave the
	// read-then-write of one URL.
	mu sync.Mutex

	schemaMu sync.RWMutex
	cols     []column
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteBaseTable = `
CREATE TABLE IF NOT EXISTS properties (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	url        TEXT NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT '',
	scraped_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_properties_status ON properties(status);
`

func sqliteType(k columnKind) string {
	switch k {
	case kindInteger, kindBoolean:
		return "INTEGER"
	case kindReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Migrate creates the properties table and adds a nullable column for every
// schema field it lacks. Existing columns are never dropped or altered.
func (s *SQLiteStore) Migrate(ctx context.Context, schema *model.Schema) error {
	cols, err := schemaColumns(schema)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, sqliteBaseTable); err != nil {
		return eris.Wrap(err, "sqlite: migrate base table")
	}

	existing, err := s.existingColumns(ctx)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", Table, db.QuoteIdent(c.name), sqliteType(c.kind))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "sqlite: add column %s", c.name)
		}
		zap.L().Info("sqlite: added column", zap.String("column", c.name))
	}

	s.schemaMu.Lock()
	s.cols = cols
	s.schemaMu.Unlock()
	return nil
}

func (s *SQLiteStore) existingColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+Table+")")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: table info")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table info")
		}
		out[name] = true
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate table info")
}

func (s *SQLiteStore) columns() ([]column, error) {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()
	if s.cols == nil {
		return nil, eris.New("sqlite: store not migrated")
	}
	return s.cols, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert merges rec into the row for rec.URL inside one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *model.Record) (model.UpsertResult, error) {
	if rec == nil || rec.URL == "" {
		return "", eris.New("sqlite: upsert: record without url")
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

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: upsert: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM properties WHERE url = ?`, rec.URL).Scan(&id)
	result := model.Updated
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result = model.Inserted
		err = s.insert(ctx, tx, rec, present, scrapedAt)
	case err != nil:
		return "", eris.Wrapf(err, "sqlite: upsert: lookup %s", rec.URL)
	default:
		err = s.update(ctx, tx, id, rec, present, scrapedAt)
	}
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: upsert: commit tx")
	}
	return result, nil
}

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, rec *model.Record, present []column, scrapedAt time.Time) error {
	names := append([]string{"url"}, columnNames(present)...)
	names = append(names, "status", "scraped_at")

	args := make([]any, 0, len(names))
	args = append(args, rec.URL)
	for _, c := range present {
		args = append(args, sqliteValue(rec.Fields[c.name]))
	}
	args = append(args, string(rec.Status), scrapedAt)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Table, db.QuoteAndJoin(names), placeholders)
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return eris.Wrapf(err, "sqlite: insert %s", rec.URL)
	}
	return nil
}

func (s *SQLiteStore) update(ctx context.Context, tx *sql.Tx, id int64, rec *model.Record, present []column, scrapedAt time.Time) error {
	sets := make([]string, 0, len(present)+1)
	args := make([]any, 0, len(present)+2)
	for _, c := range present {
		sets = append(sets, db.QuoteIdent(c.name)+" = ?")
		args = append(args, sqliteValue(rec.Fields[c.name]))
	}
	sets = append(sets, "scraped_at = ?")
	args = append(args, scrapedAt, id)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", Table, strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return eris.Wrapf(err, "sqlite: update %s", rec.URL)
	}
	return nil
}

// sqliteValue binds booleans as 0/1. Other values rely on SQLite's dynamic
// typing so a raw value that failed standardization is still persisted.
func sqliteValue(v any) any {
	switch b := v.(type) {
	case bool:
		if b {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(b)
	}
	return v
}

func (s *SQLiteStore) selectSQL(cols []column) string {
	names := append([]string{"url", "status", "scraped_at"}, columnNames(cols)...)
	return fmt.Sprintf("SELECT %s FROM %s", db.QuoteAndJoin(names), Table)
}

func (s *SQLiteStore) GetByURL(ctx context.Context, url string) (*model.Record, error) {
	cols, err := s.columns()
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.selectSQL(cols)+" WHERE url = ?", url)
	rec, err := scanRecord(row, cols)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", url)
	}
	return rec, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count")
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, url string, status model.ReviewStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE properties SET status = ? WHERE url = ?`, string(status), url)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update status %s", url)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]model.Record, error) {
	cols, err := s.columns()
	if err != nil {
		return nil, err
	}
	query := s.selectSQL(cols) + " WHERE 1=1"
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY scraped_at DESC, id DESC"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list properties")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows, cols)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan property")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate properties")
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[model.ReviewStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM properties GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status counts")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[model.ReviewStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		out[model.ReviewStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate status counts")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable, cols []column) (*model.Record, error) {
	var rec model.Record
	var status string
	vals := make([]any, len(cols))
	dest := make([]any, 0, len(cols)+3)
	dest = append(dest, &rec.URL, &status, &rec.ScrapedAt)
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec.Status = model.ReviewStatus(status)
	rec.Fields = make(model.FieldMap, len(cols))
	for i, c := range cols {
		rec.Fields[c.name] = decode(c.kind, vals[i])
	}
	return &rec, nil
}

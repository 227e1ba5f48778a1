// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
)

const (
	refColumn = "__fuzzy_ref"
	// scanPageSize bounds the rows read per ScanField page; no connection
	// is held while the callback runs.
	scanPageSize = 500

	// timeLayout is fixed width so text ordering matches time ordering.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store is the SQLite store.
type Store struct {
	db      *sql.DB
	opts    store.Options
	dialect Dialect
	logger  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open database. Close closes it.
func New(db *sql.DB, opts store.Options, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		opts:   opts.WithDefaults(),
		logger: logger.Named("sqlite-store"),
	}
}

func (s *Store) Backend() store.Backend { return store.BackendSQLite }

func (s *Store) Dialect() store.Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) ident(name string) string { return s.dialect.QuoteIdent(name) }

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?1`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}

func (s *Store) FieldExists(ctx context.Context, table, field string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?1) WHERE name = ?2`, table, field).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check field %s.%s: %w", table, field, err)
	}
	return n > 0, nil
}

func (s *Store) SampleValues(ctx context.Context, table, field string, limit int) ([]string, error) {
	col := s.ident(field)
	query := fmt.Sprintf(
		`SELECT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL AND CAST(%s AS TEXT) <> '' LIMIT ?1`,
		col, s.ident(table), col, col)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s.%s: %w", table, field, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to read sample: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type scanRow struct {
	rowid int64
	ref   sql.NullString
	value string
}

func (s *Store) ScanField(ctx context.Context, table, field string, fn func(models.SourceDoc) error) error {
	col := s.ident(field)
	query := fmt.Sprintf(
		`SELECT rowid, CAST(%s AS TEXT), CAST(%s AS TEXT) FROM %s
		 WHERE %s IS NOT NULL AND rowid > ?1 ORDER BY rowid LIMIT ?2`,
		s.ident(s.opts.IDColumn), col, s.ident(table), col)

	var last int64 = -1 << 62
	for {
		page, err := s.scanPage(ctx, query, last)
		if err != nil {
			return fmt.Errorf("failed to scan %s.%s: %w", table, field, err)
		}
		for _, r := range page {
			if err := fn(models.SourceDoc{Ref: models.DocRef(r.ref.String), Value: r.value}); err != nil {
				return err
			}
			last = r.rowid
		}
		if len(page) < scanPageSize {
			return nil
		}
	}
}

func (s *Store) scanPage(ctx context.Context, query string, after int64) ([]scanRow, error) {
	rows, err := s.db.QueryContext(ctx, query, after, scanPageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]scanRow, 0, scanPageSize)
	for rows.Next() {
		var r scanRow
		if err := rows.Scan(&r.rowid, &r.ref, &r.value); err != nil {
			return nil, err
		}
		page = append(page, r)
	}
	return page, rows.Err()
}

func (s *Store) FetchRecords(ctx context.Context, table string, refs []models.DocRef) (map[models.DocRef]models.Record, error) {
	out := make(map[models.DocRef]models.Record, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	ids := make([]any, 0, len(refs))
	for _, ref := range refs {
		if s.opts.RefKind == models.RefKindInt {
			n, err := strconv.ParseInt(strings.TrimSpace(string(ref)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidReference, ref)
			}
			ids = append(ids, n)
			continue
		}
		ids = append(ids, string(ref))
	}
	arg, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode references: %w", err)
	}

	id := s.ident(s.opts.IDColumn)
	query := fmt.Sprintf(`SELECT CAST(%s AS TEXT) AS %s, * FROM %s WHERE %s IN (SELECT value FROM json_each(?1))`,
		id, refColumn, s.ident(table), id)
	rows, err := s.db.QueryContext(ctx, query, string(arg))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records from %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to read record from %s: %w", table, err)
		}
		rec := models.Record{
			ID:     models.RecordID(models.ValueString(values[0])),
			Fields: make(map[string]any, len(cols)-1),
		}
		for i := 1; i < len(cols); i++ {
			rec.Fields[cols[i]] = values[i]
		}
		out[models.DocRef(rec.ID)] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch records from %s: %w", table, err)
	}
	return out, nil
}

func (s *Store) EnsureNamespace(ctx context.Context, namespace string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_ref          TEXT NOT NULL,
			source_table     TEXT NOT NULL,
			field_name       TEXT NOT NULL,
			field_type       TEXT NOT NULL,
			keyword          TEXT NOT NULL,
			original_value   TEXT NOT NULL,
			normalized_value TEXT NOT NULL,
			created_at       TEXT NOT NULL
		)`, s.ident(namespace))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create namespace %s: %w", namespace, err)
	}
	return nil
}

func (s *Store) ClearRows(ctx context.Context, namespace, table, field string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE source_table = ?1 AND field_name = ?2`, s.ident(namespace))
	res, err := s.db.ExecContext(ctx, query, table, field)
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", namespace, err)
	}
	return res.RowsAffected()
}

func (s *Store) InsertRows(ctx context.Context, namespace string, rows []models.IndexRow) (n int64, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert into %s: %w", namespace, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	placeholders := make([]string, len(models.IndexRowColumns))
	for i := range placeholders {
		placeholders[i] = s.dialect.Placeholder(i + 1)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		s.ident(namespace), strings.Join(models.IndexRowColumns, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert into %s: %w", namespace, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		values := row.Values()
		values[len(values)-1] = row.CreatedAt.UTC().Format(timeLayout)
		if _, err = stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("failed to insert into %s: %w", namespace, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert into %s: %w", namespace, err)
	}
	return int64(len(rows)), nil
}

func (s *Store) CreateLookupIndexes(ctx context.Context, namespace string, includeTableField bool) error {
	table := s.ident(namespace)
	stmts := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (keyword, field_name)`, s.ident(store.IndexName("kw", namespace)), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (doc_ref)`, s.ident(store.IndexName("ref", namespace)), table),
	}
	if includeTableField {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_table, field_name, keyword)`,
			s.ident(store.IndexName("tfk", namespace)), table))
	}
	stmts = append(stmts, `ANALYZE `+table)

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to index %s: %w", namespace, err)
		}
	}
	return nil
}

func (s *Store) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	return s.TableExists(ctx, namespace)
}

func (s *Store) HasRows(ctx context.Context, namespace, table, field string) (bool, error) {
	exists, err := s.NamespaceExists(ctx, namespace)
	if err != nil || !exists {
		return false, err
	}
	var has int
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE source_table = ?1 AND field_name = ?2)`, s.ident(namespace))
	if err := s.db.QueryRowContext(ctx, query, table, field).Scan(&has); err != nil {
		return false, fmt.Errorf("failed to check rows in %s: %w", namespace, err)
	}
	return has == 1, nil
}

func (s *Store) Aggregate(ctx context.Context, query string, args []any) ([]models.KeywordMatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}
	defer rows.Close()

	var matches []models.KeywordMatch
	for rows.Next() {
		var (
			ref     string
			count   int64
			matched string
		)
		if err := rows.Scan(&ref, &count, &matched); err != nil {
			return nil, fmt.Errorf("failed to read aggregation row: %w", err)
		}
		matches = append(matches, models.KeywordMatch{
			DocRef:     models.DocRef(ref),
			MatchCount: int(count),
			Keywords:   strings.Split(matched, store.KeywordSeparator),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}
	return matches, nil
}

func (s *Store) KeywordsByDoc(ctx context.Context, namespace, table, field string) (map[models.DocRef][]string, error) {
	query := fmt.Sprintf(
		`SELECT doc_ref, keyword FROM %s WHERE source_table = ?1 AND field_name = ?2 ORDER BY doc_ref, keyword`,
		s.ident(namespace))
	rows, err := s.db.QueryContext(ctx, query, table, field)
	if err != nil {
		return nil, fmt.Errorf("failed to read keywords from %s: %w", namespace, err)
	}
	defer rows.Close()

	out := make(map[models.DocRef][]string)
	for rows.Next() {
		var ref, kw string
		if err := rows.Scan(&ref, &kw); err != nil {
			return nil, fmt.Errorf("failed to read keyword row: %w", err)
		}
		out[models.DocRef(ref)] = append(out[models.DocRef(ref)], kw)
	}
	return out, rows.Err()
}

func (s *Store) RecordBuild(ctx context.Context, rec models.BuildRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fuzzy_index_builds (
			build_id, namespace, source_table, field_name, field_type, status,
			docs_processed, keywords_created, error, started_at, finished_at
		) VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11)`,
		rec.BuildID.String(), rec.Namespace, rec.Table, rec.Field, string(rec.FieldType), string(rec.Status),
		rec.DocsProcessed, rec.KeywordsCreated, rec.Error,
		rec.StartedAt.UTC().Format(timeLayout), rec.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record build %s: %w", rec.BuildID, err)
	}
	return nil
}

func (s *Store) LastBuild(ctx context.Context, namespace string) (*models.BuildRecord, error) {
	var (
		rec                   models.BuildRecord
		buildID, fieldType    string
		status                string
		startedAt, finishedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT build_id, namespace, source_table, field_name, field_type, status,
		       docs_processed, keywords_created, error,
		       CAST(started_at AS TEXT), CAST(finished_at AS TEXT)
		FROM fuzzy_index_builds
		WHERE namespace = ?1
		ORDER BY finished_at DESC
		LIMIT 1`, namespace).Scan(
		&buildID, &rec.Namespace, &rec.Table, &rec.Field, &fieldType, &status,
		&rec.DocsProcessed, &rec.KeywordsCreated, &rec.Error, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last build of %s: %w", namespace, err)
	}

	if rec.BuildID, err = uuid.Parse(buildID); err != nil {
		return nil, fmt.Errorf("invalid build id %q: %w", buildID, err)
	}
	if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	if rec.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return nil, fmt.Errorf("invalid finished_at %q: %w", finishedAt, err)
	}
	rec.FieldType = models.FieldType(fieldType)
	rec.Status = models.BuildStatus(status)
	return &rec, nil
}

// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
	"github.com/ekaya-inc/fuzzy-index/pkg/database"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
)

// refColumn is the synthetic column carrying the primary key as text in
// FetchRecords results.
const refColumn = "__fuzzy_ref"

// Store is the Postgres store. Source tables and index namespaces live in
// the connection's current schema.
type Store struct {
	db      *database.DB
	opts    store.Options
	dialect Dialect
	logger  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open connection pool. The pool is owned by the caller.
func New(db *database.DB, opts store.Options, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		opts:   opts.WithDefaults(),
		logger: logger.Named("postgres-store"),
	}
}

func (s *Store) Backend() store.Backend { return store.BackendPostgres }

func (s *Store) Dialect() store.Dialect { return s.dialect }

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() error { return nil }

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

func (s *Store) FieldExists(ctx context.Context, table, field string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, field).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check field %s.%s: %w", table, field, err)
	}
	return exists, nil
}

func (s *Store) SampleValues(ctx context.Context, table, field string, limit int) ([]string, error) {
	col := ident(field)
	query := fmt.Sprintf(
		`SELECT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL AND CAST(%s AS TEXT) <> '' LIMIT $1`,
		col, ident(table), col, col)

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s.%s: %w", table, field, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) ScanField(ctx context.Context, table, field string, fn func(models.SourceDoc) error) error {
	id := ident(s.opts.IDColumn)
	col := ident(field)
	query := fmt.Sprintf(
		`SELECT CAST(%s AS TEXT), CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL ORDER BY %s`,
		id, col, ident(table), col, id)

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to scan %s.%s: %w", table, field, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref, value *string
		if err := rows.Scan(&ref, &value); err != nil {
			return fmt.Errorf("failed to read %s.%s row: %w", table, field, err)
		}
		doc := models.SourceDoc{}
		if ref != nil {
			doc.Ref = models.DocRef(*ref)
		}
		if value != nil {
			doc.Value = *value
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to scan %s.%s: %w", table, field, err)
	}
	return nil
}

func (s *Store) FetchRecords(ctx context.Context, table string, refs []models.DocRef) (map[models.DocRef]models.Record, error) {
	out := make(map[models.DocRef]models.Record, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	id := ident(s.opts.IDColumn)
	var (
		predicate string
		arg       any
	)
	switch s.opts.RefKind {
	case models.RefKindInt:
		ids := make([]int64, 0, len(refs))
		for _, ref := range refs {
			n, err := strconv.ParseInt(strings.TrimSpace(string(ref)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidReference, ref)
			}
			ids = append(ids, n)
		}
		predicate, arg = id+" = ANY($1)", ids
	case models.RefKindUUID:
		predicate, arg = id+" = ANY($1::uuid[])", refStrings(refs)
	default:
		predicate, arg = id+" = ANY($1)", refStrings(refs)
	}

	query := fmt.Sprintf(`SELECT CAST(%s AS TEXT) AS %s, * FROM %s WHERE %s`,
		id, refColumn, ident(table), predicate)
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records from %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read record from %s: %w", table, err)
		}
		rec := models.Record{Fields: make(map[string]any, len(fields)-1)}
		for i, fd := range fields {
			if i == 0 {
				rec.ID = models.RecordID(models.ValueString(values[i]))
				continue
			}
			rec.Fields[fd.Name] = values[i]
		}
		out[models.DocRef(rec.ID)] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch records from %s: %w", table, err)
	}
	return out, nil
}

func refStrings(refs []models.DocRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = string(r)
	}
	return out
}

func (s *Store) EnsureNamespace(ctx context.Context, namespace string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               BIGSERIAL PRIMARY KEY,
			doc_ref          TEXT        NOT NULL,
			source_table     TEXT        NOT NULL,
			field_name       TEXT        NOT NULL,
			field_type       TEXT        NOT NULL,
			keyword          TEXT        NOT NULL,
			original_value   TEXT        NOT NULL,
			normalized_value TEXT        NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL
		)`, ident(namespace))
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create namespace %s: %w", namespace, err)
	}
	return nil
}

func (s *Store) ClearRows(ctx context.Context, namespace, table, field string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE source_table = $1 AND field_name = $2`, ident(namespace))
	tag, err := s.db.Exec(ctx, query, table, field)
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", namespace, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) InsertRows(ctx context.Context, namespace string, rows []models.IndexRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := s.db.CopyFrom(ctx,
		pgx.Identifier{namespace},
		models.IndexRowColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return rows[i].Values(), nil
		}))
	if err != nil {
		return n, fmt.Errorf("failed to insert into %s: %w", namespace, err)
	}
	return n, nil
}

func (s *Store) CreateLookupIndexes(ctx context.Context, namespace string, includeTableField bool) error {
	table := ident(namespace)
	stmts := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (keyword, field_name)`, ident(store.IndexName("kw", namespace)), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (doc_ref)`, ident(store.IndexName("ref", namespace)), table),
	}
	if includeTableField {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_table, field_name, keyword)`,
			ident(store.IndexName("tfk", namespace)), table))
	}
	stmts = append(stmts, `ANALYZE `+table)

	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
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
	var has bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE source_table = $1 AND field_name = $2)`, ident(namespace))
	if err := s.db.QueryRow(ctx, query, table, field).Scan(&has); err != nil {
		return false, fmt.Errorf("failed to check rows in %s: %w", namespace, err)
	}
	return has, nil
}

func (s *Store) Aggregate(ctx context.Context, query string, args []any) ([]models.KeywordMatch, error) {
	rows, err := s.db.Query(ctx, query, args...)
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
		`SELECT doc_ref, keyword FROM %s WHERE source_table = $1 AND field_name = $2 ORDER BY doc_ref, keyword`,
		ident(namespace))
	rows, err := s.db.Query(ctx, query, table, field)
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
	_, err := s.db.Exec(ctx, `
		INSERT INTO fuzzy_index_builds (
			build_id, namespace, source_table, field_name, field_type, status,
			docs_processed, keywords_created, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.BuildID, rec.Namespace, rec.Table, rec.Field, string(rec.FieldType), string(rec.Status),
		rec.DocsProcessed, rec.KeywordsCreated, rec.Error, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record build %s: %w", rec.BuildID, err)
	}
	return nil
}

func (s *Store) LastBuild(ctx context.Context, namespace string) (*models.BuildRecord, error) {
	var (
		rec       models.BuildRecord
		fieldType string
		status    string
	)
	err := s.db.QueryRow(ctx, `
		SELECT build_id, namespace, source_table, field_name, field_type, status,
		       docs_processed, keywords_created, error, started_at, finished_at
		FROM fuzzy_index_builds
		WHERE namespace = $1
		ORDER BY finished_at DESC
		LIMIT 1`, namespace).Scan(
		&rec.BuildID, &rec.Namespace, &rec.Table, &rec.Field, &fieldType, &status,
		&rec.DocsProcessed, &rec.KeywordsCreated, &rec.Error, &rec.StartedAt, &rec.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last build of %s: %w", namespace, err)
	}
	rec.FieldType = models.FieldType(fieldType)
	rec.Status = models.BuildStatus(status)
	return &rec, nil
}

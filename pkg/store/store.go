// Package store defines the persistence contracts of the fuzzy index: the
// source tables it reads, the keyword index namespaces it writes and the
// build registry.
package store

import (
	"context"

	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

// Backend names a store implementation.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// Options are shared by every backend.
type Options struct {
	// IDColumn is the primary-key column of source tables.
	IDColumn string
	// RefKind is the primary-key type, used to validate and bind refs.
	RefKind models.RefKind
}

// WithDefaults fills unset options.
func (o Options) WithDefaults() Options {
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.RefKind == "" {
		o.RefKind = models.RefKindText
	}
	return o
}

// SourceReader reads the source tables being indexed and matched.
type SourceReader interface {
	TableExists(ctx context.Context, table string) (bool, error)
	FieldExists(ctx context.Context, table, field string) (bool, error)
	// SampleValues returns up to limit non-empty values of field.
	SampleValues(ctx context.Context, table, field string, limit int) ([]string, error)
	// ScanField calls fn for every row whose field is not NULL, in primary
	// key order. Returning an error from fn stops the scan with that error.
	ScanField(ctx context.Context, table, field string, fn func(models.SourceDoc) error) error
	// FetchRecords loads full rows by reference. Missing refs are absent
	// from the result.
	FetchRecords(ctx context.Context, table string, refs []models.DocRef) (map[models.DocRef]models.Record, error)
}

// IndexWriter writes keyword index namespaces. Only the index builder uses it.
type IndexWriter interface {
	EnsureNamespace(ctx context.Context, namespace string) error
	// ClearRows deletes the rows of one (table, field) pair and returns how many.
	ClearRows(ctx context.Context, namespace, table, field string) (int64, error)
	InsertRows(ctx context.Context, namespace string, rows []models.IndexRow) (int64, error)
	CreateLookupIndexes(ctx context.Context, namespace string, includeTableField bool) error
}

// IndexReader reads keyword index namespaces.
type IndexReader interface {
	Dialect() Dialect
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
	// HasRows reports whether the namespace holds rows for (table, field).
	// A missing namespace reports false without error.
	HasRows(ctx context.Context, namespace, table, field string) (bool, error)
	// Aggregate runs a compiled aggregation query. Result columns are
	// doc_ref, match_count and the matched keywords joined by KeywordSeparator.
	Aggregate(ctx context.Context, query string, args []any) ([]models.KeywordMatch, error)
	// KeywordsByDoc returns each document's sorted keywords for (table, field).
	KeywordsByDoc(ctx context.Context, namespace, table, field string) (map[models.DocRef][]string, error)
}

// BuildRegistry records index build runs.
type BuildRegistry interface {
	RecordBuild(ctx context.Context, rec models.BuildRecord) error
	// LastBuild returns the most recent build of namespace or apperrors.ErrNotFound.
	LastBuild(ctx context.Context, namespace string) (*models.BuildRecord, error)
}

// Store is implemented by each backend.
type Store interface {
	SourceReader
	IndexWriter
	IndexReader
	BuildRegistry
	Backend() Backend
	Close() error
}

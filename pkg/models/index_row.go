package models

import "time"

// NamespaceSuffix is appended to "{table}_{field}" to name a keyword index.
const NamespaceSuffix = "_keywords"

// NamespaceName returns the deterministic index namespace for a (table, field)
// pair. Tooling that reads the index directly must use the same convention.
func NamespaceName(table, field string) string {
	return table + "_" + field + NamespaceSuffix
}

// IndexRow is one inverted-index entry: a single keyword extracted from one
// document's field value. A document with K keywords has exactly K rows.
type IndexRow struct {
	DocRef          DocRef    `json:"doc_ref"`
	SourceTable     string    `json:"source_table"`
	FieldName       string    `json:"field_name"`
	FieldType       FieldType `json:"field_type"`
	Keyword         string    `json:"keyword"`
	OriginalValue   string    `json:"original_value"`
	NormalizedValue string    `json:"normalized_value"`
	CreatedAt       time.Time `json:"created_at"`
}

// IndexRowColumns is the stable column order of an index namespace.
// Renaming any of these requires a migration of every existing namespace.
var IndexRowColumns = []string{
	"doc_ref",
	"source_table",
	"field_name",
	"field_type",
	"keyword",
	"original_value",
	"normalized_value",
	"created_at",
}

// Values returns the row's values in IndexRowColumns order.
func (r IndexRow) Values() []any {
	return []any{
		string(r.DocRef),
		r.SourceTable,
		r.FieldName,
		string(r.FieldType),
		r.Keyword,
		r.OriginalValue,
		r.NormalizedValue,
		r.CreatedAt,
	}
}

// KeywordMatch is one grouped row of an aggregation query: a candidate
// document and the subset of the query keywords it matched.
type KeywordMatch struct {
	DocRef     DocRef
	MatchCount int
	Keywords   []string
}

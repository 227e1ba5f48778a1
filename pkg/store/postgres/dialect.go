package postgres

import (
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/fuzzy-index/pkg/store"
)

// Dialect renders Postgres SQL.
type Dialect struct{}

var _ store.Dialect = Dialect{}

func (Dialect) Name() store.Backend { return store.BackendPostgres }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) QuoteIdent(name string) string { return pgx.Identifier{name}.Sanitize() }

func (Dialect) KeywordSetPredicate(n int) string { return "keyword = ANY($" + strconv.Itoa(n) + ")" }

func (Dialect) KeywordSetArg(keywords []string) (any, error) { return keywords, nil }

func (Dialect) AggKeywords() string {
	return "string_agg(DISTINCT keyword, chr(31) ORDER BY keyword)"
}

func (Dialect) OrderRef() string { return `doc_ref COLLATE "C"` }

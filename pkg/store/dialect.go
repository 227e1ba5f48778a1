package store

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// KeywordSeparator joins matched keywords in aggregation results. The unit
// separator cannot appear in extracted keywords.
const KeywordSeparator = "\x1f"

// maxIdentLen is the Postgres identifier limit; SQLite has none but shares
// the naming.
const maxIdentLen = 63

// Dialect renders the SQL fragments that differ between backends.
type Dialect interface {
	Name() Backend
	// Placeholder returns the n-th (1-based) bind placeholder.
	Placeholder(n int) string
	QuoteIdent(name string) string
	// KeywordSetPredicate matches keyword against the set bound at placeholder n.
	KeywordSetPredicate(n int) string
	// KeywordSetArg converts a keyword set into its bind value.
	KeywordSetArg(keywords []string) (any, error)
	// AggKeywords aggregates matched keywords joined by KeywordSeparator.
	AggKeywords() string
	// OrderRef orders doc_ref bytewise so both backends tie-break alike.
	OrderRef() string
}

// Builder accumulates bind arguments and hands out placeholders.
type Builder struct {
	dialect Dialect
	args    []any
}

// NewBuilder returns an empty Builder for d.
func NewBuilder(d Dialect) *Builder {
	return &Builder{dialect: d}
}

// Arg binds v and returns its placeholder.
func (b *Builder) Arg(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// Args returns the bound values in order.
func (b *Builder) Args() []any { return b.args }

// Len returns how many values are bound.
func (b *Builder) Len() int { return len(b.args) }

// IndexName derives a lookup index name for namespace. Long names are
// truncated and disambiguated with a hash so that distinct namespaces
// never collide after the database truncates them.
func IndexName(kind, namespace string) string {
	name := "idx_" + kind + "_" + namespace
	if len(name) <= maxIdentLen {
		return name
	}
	sum := strconv.FormatUint(xxhash.Sum64String(namespace), 16)
	cut := maxIdentLen - len(sum) - 1
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return strings.TrimRight(name[:cut], "_") + "_" + sum
}

package sqlite

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/fuzzy-index/pkg/store"
)

// Dialect renders SQLite SQL. Placeholders are numbered so a compiled
// template binds the same way as its Postgres twin.
type Dialect struct{}

var _ store.Dialect = Dialect{}

func (Dialect) Name() store.Backend { return store.BackendSQLite }

func (Dialect) Placeholder(n int) string { return "?" + strconv.Itoa(n) }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) KeywordSetPredicate(n int) string {
	return "keyword IN (SELECT value FROM json_each(?" + strconv.Itoa(n) + "))"
}

// KeywordSetArg encodes the set as a JSON array for json_each.
func (Dialect) KeywordSetArg(keywords []string) (any, error) {
	if keywords == nil {
		keywords = []string{}
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to encode keyword set: %w", err)
	}
	return string(b), nil
}

// AggKeywords cannot use DISTINCT with a separator in SQLite. Keywords are
// unique per document within a namespace so none is needed.
func (Dialect) AggKeywords() string { return "group_concat(keyword, char(31))" }

func (Dialect) OrderRef() string { return "doc_ref" }

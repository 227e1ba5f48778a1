package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/fuzzy-index/pkg/store/postgres"
	"github.com/ekaya-inc/fuzzy-index/pkg/store/sqlite"
)

func TestPlanCache_Compile(t *testing.T) {
	cache, err := NewPlanCache(8, sqlite.Dialect{}, 2)
	require.NoError(t, err)

	single := cache.Get(PlanKey{Namespace: "t_f_keywords", Table: "t", Field: "f", KeywordCount: 4, Threshold: 0.5, MaxCandidates: 10, Mode: PlanModeSingle})
	assert.Equal(t, 2, single.MinMatches)
	assert.Equal(t, 10, single.Limit)
	assert.Contains(t, single.SQL, `FROM "t_f_keywords"`)
	assert.Contains(t, single.SQL, "source_table = ?1 AND field_name = ?2")
	assert.Contains(t, single.SQL, "json_each(?3)")
	assert.Contains(t, single.SQL, ">= 2")
	assert.True(t, strings.HasSuffix(single.SQL, "LIMIT 10"))

	union := cache.Get(PlanKey{Namespace: "t_f_keywords", Table: "t", Field: "f", KeywordCount: 4, MaxCandidates: 10, Mode: PlanModeUnion})
	assert.Equal(t, 1, union.MinMatches)
	assert.Equal(t, 20, union.Limit)

	args, err := single.Bind([]string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, []any{"t", "f", `["a","b","c","d"]`}, args)

	_, err = single.Bind([]string{"a"})
	assert.Error(t, err)
}

func TestPlanCache_PostgresDialect(t *testing.T) {
	cache, err := NewPlanCache(8, postgres.Dialect{}, 3)
	require.NoError(t, err)

	p := cache.Get(PlanKey{Namespace: "t_f_keywords", Table: "t", Field: "f", KeywordCount: 3, Threshold: 1, MaxCandidates: 5, Mode: PlanModeUnion})
	assert.Contains(t, p.SQL, "source_table = $1 AND field_name = $2")
	assert.Contains(t, p.SQL, "keyword = ANY($3)")
	assert.Contains(t, p.SQL, `doc_ref COLLATE "C"`)
	assert.Equal(t, 15, p.Limit)

	args, err := p.Bind([]string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, []any{"t", "f", []string{"x", "y", "z"}}, args)
}

func TestPlanCache_KeysAndEviction(t *testing.T) {
	cache, err := NewPlanCache(2, sqlite.Dialect{}, 2)
	require.NoError(t, err)

	a := PlanKey{Namespace: "t_a_keywords", Table: "t", Field: "a", KeywordCount: 2, Threshold: 0.5, MaxCandidates: 10, Mode: PlanModeSingle}
	b := a
	b.Namespace, b.Field = "t_b_keywords", "b"

	pa := cache.Get(a)
	assert.Same(t, pa, cache.Get(a))
	assert.NotEqual(t, pa.SQL, cache.Get(b).SQL, "plans never cross field names")

	c := a
	c.KeywordCount = 3
	cache.Get(c)
	assert.Equal(t, 2, cache.Len())

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(3), misses)
}

func TestPlanCache_SharedNamespaceName(t *testing.T) {
	cache, err := NewPlanCache(8, sqlite.Dialect{}, 2)
	require.NoError(t, err)

	// ("t_x", "a") and ("t", "x_a") both name t_x_a_keywords.
	first := PlanKey{Namespace: "t_x_a_keywords", Table: "t_x", Field: "a", KeywordCount: 2, Threshold: 0.5, MaxCandidates: 10, Mode: PlanModeSingle}
	second := first
	second.Table, second.Field = "t", "x_a"

	firstArgs, err := cache.Get(first).Bind([]string{"k1", "k2"})
	require.NoError(t, err)
	secondArgs, err := cache.Get(second).Bind([]string{"k1", "k2"})
	require.NoError(t, err)

	assert.Equal(t, []any{"t_x", "a", `["k1","k2"]`}, firstArgs)
	assert.Equal(t, []any{"t", "x_a", `["k1","k2"]`}, secondArgs)
	assert.Equal(t, 2, cache.Len())
}

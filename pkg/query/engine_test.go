package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/fieldproc"
	"github.com/ekaya-inc/fuzzy-index/pkg/indexer"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
	"github.com/ekaya-inc/fuzzy-index/pkg/store/sqlite"
	"github.com/ekaya-inc/fuzzy-index/pkg/testhelpers"
	"github.com/ekaya-inc/fuzzy-index/pkg/workerpool"
)

type testEnv struct {
	store   *sqlite.Store
	builder *indexer.Builder
	pool    *workerpool.Pool
	engine  *Engine
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	s := testhelpers.NewSQLiteStore(t, store.Options{RefKind: models.RefKindInt})
	testhelpers.SeedTable(t, s, "products", []string{"title"},
		[]any{1, "alpha beta gamma delta"},
		[]any{2, "alpha beta gamma"},
		[]any{3, "alpha beta"},
		[]any{4, "alpha zeta"},
		[]any{5, "omega sigma"},
	)
	testhelpers.SeedTable(t, s, "vendors", []string{"name"},
		[]any{10, "上海华星科技有限公司"},
		[]any{11, "北京东方电子集团"},
	)

	classifier, err := fieldproc.NewClassifier(64, zap.NewNop())
	require.NoError(t, err)
	registry := fieldproc.NewRegistry(fieldproc.RegistryOptions{})

	builder := indexer.NewBuilder(s, registry, classifier, nil, nil,
		indexer.Options{RefKind: models.RefKindInt}, zap.NewNop())
	pool := workerpool.New(workerpool.Config{MaxConcurrent: 4, TaskTimeout: 10 * time.Second}, zap.NewNop())

	opts.RefKind = models.RefKindInt
	engine, err := NewEngine(s, registry, classifier, builder, pool, opts, zap.NewNop())
	require.NoError(t, err)

	return &testEnv{store: s, builder: builder, pool: pool, engine: engine}
}

func textType() *models.FieldType {
	ft := models.FieldTypeText
	return &ft
}

func thr(v float64) *float64 { return &v }

func refs(c []models.Candidate) []models.DocRef {
	out := make([]models.DocRef, len(c))
	for i, cand := range c {
		out[i] = cand.DocRef
	}
	return out
}

func TestQuerySingleField_RanksCandidates(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})

	r := env.engine.QuerySingleField(context.Background(), "Alpha Beta Gamma Delta", "products", "title", textType(), nil)

	require.Equal(t, models.QueryStatusOK, r.Status, r.Warnings)
	assert.Equal(t, models.ReasonNone, r.Reason)
	assert.Equal(t, models.FieldTypeText, r.FieldType)
	assert.Equal(t, 0.5, r.Threshold)
	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma", "delta"}, r.Keywords)
	assert.Equal(t, []models.DocRef{"1", "2", "3"}, refs(r.Candidates))

	assert.Equal(t, 1.0, r.Candidates[0].Score)
	assert.Equal(t, 0.75, r.Candidates[1].Score)
	assert.Equal(t, 0.5, r.Candidates[2].Score)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, r.Candidates[1].MatchedKeywords)
	assert.Equal(t, "alpha beta gamma", r.Candidates[1].Record.StringValue("title"))
	assert.Equal(t, "products", r.Candidates[0].TargetTable)
}

func TestQuerySingleField_Reasons(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})
	ctx := context.Background()

	tests := []struct {
		name   string
		value  string
		status models.QueryStatus
		reason models.Reason
	}{
		{"empty value", "", models.QueryStatusEmpty, models.ReasonNoValue},
		{"whitespace value", "   \t", models.QueryStatusEmpty, models.ReasonNoValue},
		{"punctuation only", "!!! ...", models.QueryStatusEmpty, models.ReasonNoKeywords},
		{"no overlap", "kappa lambda", models.QueryStatusEmpty, models.ReasonBelowThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := env.engine.QuerySingleField(ctx, tt.value, "products", "title", textType(), nil)
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.reason, r.Reason)
			assert.Empty(t, r.Candidates)
		})
	}
}

func TestQuerySingleField_NoIndexWithoutAutoBuild(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: false})

	r := env.engine.QuerySingleField(context.Background(), "alpha beta", "products", "title", textType(), nil)

	assert.Equal(t, models.QueryStatusEmpty, r.Status)
	assert.Equal(t, models.ReasonNoIndex, r.Reason)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "products_title_keywords")
	assert.Equal(t, int64(0), env.builder.BuildsStarted())
}

func TestQuerySingleField_UnknownTable(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})

	r := env.engine.QuerySingleField(context.Background(), "alpha", "ghost", "title", textType(), nil)

	assert.Equal(t, models.QueryStatusError, r.Status)
	assert.Equal(t, models.ReasonError, r.Reason)
	assert.NotEmpty(t, r.Warnings)
}

func TestQuerySingleField_RejectsSuspiciousTarget(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})

	r := env.engine.QuerySingleField(context.Background(), "alpha", "' OR '1'='1", "title", nil, nil)

	assert.Equal(t, models.QueryStatusError, r.Status)
	assert.Equal(t, models.ReasonError, r.Reason)
	assert.Equal(t, int64(0), env.builder.BuildsStarted())
}

func TestQuerySingleField_AutoBuildOnce(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})
	ctx := context.Background()

	ok, err := env.store.HasRows(ctx, "products_title_keywords", "products", "title")
	require.NoError(t, err)
	require.False(t, ok)

	first := env.engine.QuerySingleField(ctx, "alpha beta", "products", "title", textType(), nil)
	require.Equal(t, models.QueryStatusOK, first.Status, first.Warnings)
	assert.Equal(t, int64(1), env.builder.BuildsStarted())

	ok, err = env.store.HasRows(ctx, "products_title_keywords", "products", "title")
	require.NoError(t, err)
	assert.True(t, ok, "index populated before the first query returned")

	second := env.engine.QuerySingleField(ctx, "alpha beta", "products", "title", textType(), nil)
	require.Equal(t, models.QueryStatusOK, second.Status)
	assert.Equal(t, int64(1), env.builder.BuildsStarted())
	assert.Equal(t, refs(first.Candidates), refs(second.Candidates))
}

func TestQuerySingleField_AutoBuildPerTargetNotPerNamespace(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})
	testhelpers.SeedTable(t, env.store, "org_reg", []string{"addr"},
		[]any{1, "alpha beta"},
	)
	testhelpers.SeedTable(t, env.store, "org", []string{"reg_addr"},
		[]any{7, "alpha beta"},
		[]any{8, "alpha gamma"},
	)
	ctx := context.Background()
	require.Equal(t, models.NamespaceName("org_reg", "addr"), models.NamespaceName("org", "reg_addr"))

	first := env.engine.QuerySingleField(ctx, "alpha beta", "org_reg", "addr", textType(), thr(0.5))
	require.Equal(t, models.QueryStatusOK, first.Status, first.Warnings)
	assert.Equal(t, []models.DocRef{"1"}, refs(first.Candidates))

	second := env.engine.QuerySingleField(ctx, "alpha beta", "org", "reg_addr", textType(), thr(0.5))
	require.Equal(t, models.QueryStatusOK, second.Status, second.Warnings)
	assert.Equal(t, []models.DocRef{"7", "8"}, refs(second.Candidates))
	for _, c := range second.Candidates {
		assert.Equal(t, "org", c.TargetTable)
		assert.Equal(t, "reg_addr", c.TargetField)
	}
	assert.Equal(t, int64(2), env.builder.BuildsStarted())

	again := env.engine.QuerySingleField(ctx, "alpha beta", "org_reg", "addr", textType(), thr(0.5))
	assert.Equal(t, refs(first.Candidates), refs(again.Candidates))
	assert.Equal(t, int64(2), env.builder.BuildsStarted())
}

func TestQuerySingleField_ConcurrentAutoBuild(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*models.QueryResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.engine.QuerySingleField(ctx, "alpha beta", "products", "title", textType(), nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), env.builder.BuildsStarted())
	for _, r := range results {
		assert.Equal(t, models.QueryStatusOK, r.Status, r.Warnings)
	}
}

func TestQuerySingleField_DetectsFieldType(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})

	r := env.engine.QuerySingleField(context.Background(), "上海华星科技有限公司", "vendors", "name", nil, nil)

	require.Equal(t, models.QueryStatusOK, r.Status, r.Warnings)
	assert.Equal(t, models.DocRef("10"), r.Candidates[0].DocRef)
	assert.Equal(t, 1.0, r.Candidates[0].Score)
}

func TestQuerySingleField_InvalidThresholdFallsBack(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})

	r := env.engine.QuerySingleField(context.Background(), "alpha beta", "products", "title", textType(), thr(1.5))

	assert.Equal(t, 0.5, r.Threshold)
	require.NotEmpty(t, r.Warnings)
	assert.Contains(t, r.Warnings[0], "outside [0, 1]")
}

func TestQuerySingleField_ThresholdMonotonic(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})
	ctx := context.Background()

	var prev []models.DocRef
	for i, threshold := range []float64{0, 0.25, 0.5, 0.75, 1} {
		r := env.engine.QuerySingleField(ctx, "alpha beta gamma delta", "products", "title", textType(), thr(threshold))
		got := refs(r.Candidates)
		if i > 0 {
			assert.LessOrEqual(t, len(got), len(prev), "threshold %.2f", threshold)
			assert.Equal(t, prev[:len(got)], got, "survivors keep their order at threshold %.2f", threshold)
		}
		prev = got
	}
	assert.Equal(t, []models.DocRef{"1"}, prev)
}

func TestQuerySingleField_SkipsDeletedRecords(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})
	ctx := context.Background()

	built := env.builder.BuildFieldIndex(ctx, "products", "title", textType(), false)
	require.Equal(t, models.BuildStatusSuccess, built.Status)

	_, err := env.store.DB().ExecContext(ctx, `DELETE FROM products WHERE id = 2`)
	require.NoError(t, err)

	r := env.engine.QuerySingleField(ctx, "alpha beta gamma delta", "products", "title", textType(), nil)
	require.Equal(t, models.QueryStatusOK, r.Status)
	assert.Equal(t, []models.DocRef{"1", "3"}, refs(r.Candidates))
}

func TestEngine_PlanCacheReuse(t *testing.T) {
	env := newTestEnv(t, Options{AutoBuild: true})
	ctx := context.Background()

	env.engine.QuerySingleField(ctx, "alpha beta", "products", "title", textType(), nil)
	_, misses := env.engine.Plans().Stats()

	env.engine.QuerySingleField(ctx, "gamma delta", "products", "title", textType(), nil)
	hits, missesAfter := env.engine.Plans().Stats()

	assert.Equal(t, misses, missesAfter, "same shape reuses the compiled plan")
	assert.Equal(t, int64(1), hits)
}

func TestNewEngine_AutoBuildNeedsBuilder(t *testing.T) {
	s := testhelpers.NewSQLiteStore(t, store.Options{})
	classifier, err := fieldproc.NewClassifier(8, zap.NewNop())
	require.NoError(t, err)

	_, err = NewEngine(s, fieldproc.NewRegistry(fieldproc.RegistryOptions{}), classifier, nil, nil,
		Options{AutoBuild: true}, zap.NewNop())
	assert.Error(t, err)
}

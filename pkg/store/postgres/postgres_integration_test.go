//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
	"github.com/ekaya-inc/fuzzy-index/pkg/fieldproc"
	"github.com/ekaya-inc/fuzzy-index/pkg/indexer"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/query"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
	"github.com/ekaya-inc/fuzzy-index/pkg/store/postgres"
	"github.com/ekaya-inc/fuzzy-index/pkg/testhelpers"
)

// seedTable creates a uniquely named table so tests sharing the container
// never collide.
func seedTable(t *testing.T, tdb *testhelpers.TestDB, column string, values map[int64]*string) string {
	t.Helper()
	ctx := context.Background()

	table := "src_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	_, err := tdb.DB.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (id BIGINT PRIMARY KEY, %s TEXT, note TEXT)`, table, column))
	require.NoError(t, err)
	for id, v := range values {
		_, err := tdb.DB.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id, %s, note) VALUES ($1, $2, 'n')`, table, column), id, v)
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		_, _ = tdb.DB.Exec(context.Background(), `DROP TABLE IF EXISTS `+table)
		_, _ = tdb.DB.Exec(context.Background(), `DROP TABLE IF EXISTS `+table+"_"+column+"_keywords")
	})
	return table
}

func str(s string) *string { return &s }

func TestStore_SourceReader(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	s := postgres.New(tdb.DB, store.Options{RefKind: models.RefKindInt}, zap.NewNop())
	ctx := context.Background()

	table := seedTable(t, tdb, "name", map[int64]*string{
		1: str("上海华星科技有限公司"),
		2: nil,
		3: str("北京东方电子"),
	})

	ok, err := s.TableExists(ctx, table)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FieldExists(ctx, table, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	var docs []models.SourceDoc
	require.NoError(t, s.ScanField(ctx, table, "name", func(d models.SourceDoc) error {
		docs = append(docs, d)
		return nil
	}))
	assert.Equal(t, []models.SourceDoc{
		{Ref: "1", Value: "上海华星科技有限公司"},
		{Ref: "3", Value: "北京东方电子"},
	}, docs)

	records, err := s.FetchRecords(ctx, table, []models.DocRef{"3", "42"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "北京东方电子", records["3"].StringValue("name"))
	assert.Equal(t, "n", records["3"].StringValue("note"))

	_, err = s.FetchRecords(ctx, table, []models.DocRef{"x"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidReference))
}

func TestStore_BuildRegistry(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	s := postgres.New(tdb.DB, store.Options{}, zap.NewNop())
	ctx := context.Background()

	ns := "ns_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	_, err := s.LastBuild(ctx, ns)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	started := time.Now().UTC().Truncate(time.Microsecond)
	for i, status := range []models.BuildStatus{models.BuildStatusFailed, models.BuildStatusSuccess} {
		require.NoError(t, s.RecordBuild(ctx, models.BuildRecord{
			BuildID:    uuid.New(),
			Namespace:  ns,
			Table:      "t",
			Field:      "f",
			FieldType:  models.FieldTypeText,
			Status:     status,
			StartedAt:  started.Add(time.Duration(i) * time.Second),
			FinishedAt: started.Add(time.Duration(i)*time.Second + time.Millisecond),
		}))
	}

	last, err := s.LastBuild(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusSuccess, last.Status)
}

func TestEndToEnd_BuildAndQuery(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	s := postgres.New(tdb.DB, store.Options{RefKind: models.RefKindInt}, zap.NewNop())
	ctx := context.Background()

	table := seedTable(t, tdb, "title", map[int64]*string{
		1: str("alpha beta gamma delta"),
		2: str("alpha beta gamma"),
		3: str("alpha beta"),
		4: str("omega"),
	})

	classifier, err := fieldproc.NewClassifier(16, zap.NewNop())
	require.NoError(t, err)
	registry := fieldproc.NewRegistry(fieldproc.RegistryOptions{})
	builder := indexer.NewBuilder(s, registry, classifier, nil, nil,
		indexer.Options{RefKind: models.RefKindInt, BatchSize: 2}, zap.NewNop())

	text := models.FieldTypeText
	res := builder.BuildFieldIndex(ctx, table, "title", &text, false)
	require.Equal(t, models.BuildStatusSuccess, res.Status, res.Error)
	assert.Equal(t, int64(4), res.DocsProcessed)

	last, err := s.LastBuild(ctx, res.Namespace)
	require.NoError(t, err)
	assert.Equal(t, res.BuildID, last.BuildID)

	engine, err := query.NewEngine(s, registry, classifier, builder, nil,
		query.Options{RefKind: models.RefKindInt}, zap.NewNop())
	require.NoError(t, err)

	threshold := 0.5
	r := engine.QuerySingleField(ctx, "alpha beta gamma delta", table, "title", &text, &threshold)
	require.Equal(t, models.QueryStatusOK, r.Status, r.Warnings)
	got := make([]models.DocRef, len(r.Candidates))
	for i, c := range r.Candidates {
		got[i] = c.DocRef
	}
	assert.Equal(t, []models.DocRef{"1", "2", "3"}, got)
	assert.Equal(t, "alpha beta gamma delta", r.Candidates[0].Record.StringValue("title"))

	batch := engine.QueryBatch(ctx, []models.Record{
		{ID: "a", Fields: map[string]any{"t": "alpha beta gamma delta"}},
	}, []models.FieldMapping{{SourceField: "t", TargetTable: table, TargetField: "title", FieldType: &text, Threshold: &threshold}})
	require.Contains(t, batch, models.RecordID("a"))
	assert.Equal(t, r.Candidates, batch["a"].Candidates)
}

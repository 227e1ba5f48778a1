package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

func TestScorer_Score(t *testing.T) {
	tests := []struct {
		name    string
		query   []string
		matched []string
		want    float64
	}{
		{"all matched", []string{"a", "b"}, []string{"b", "a"}, 1},
		{"half", []string{"a", "b", "c", "d"}, []string{"a", "c"}, 0.5},
		{"none", []string{"a"}, nil, 0},
		{"empty query", nil, []string{"a"}, 0},
		{"foreign keywords ignored", []string{"a", "b"}, []string{"a", "x", "y"}, 0.5},
		{"duplicates counted once", []string{"a", "b"}, []string{"a", "a"}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scorer{}.Score(tt.query, tt.matched))
		})
	}
}

func TestScorer_Rescore(t *testing.T) {
	score, matched := Scorer{}.Rescore(newKeywordSet([]string{"beta", "alpha", "gamma"}), models.KeywordMatch{
		DocRef:     "1",
		MatchCount: 3,
		Keywords:   []string{"omega", "gamma", "alpha"},
	})
	assert.InDelta(t, 2.0/3.0, score, 1e-12)
	assert.Equal(t, []string{"alpha", "gamma"}, matched)
}

func TestRankMatches(t *testing.T) {
	query := newKeywordSet([]string{"a", "b", "c", "d"})
	matches := []models.KeywordMatch{
		{DocRef: "9", Keywords: []string{"a"}},
		{DocRef: "2", Keywords: []string{"a", "b"}},
		{DocRef: "1", Keywords: []string{"a", "b"}},
		{DocRef: "3", Keywords: []string{"a", "b", "c", "d"}},
		{DocRef: "4", Keywords: []string{"x"}},
	}

	got := Scorer{}.rankMatches(query, matches, "t", "f", 0.5, 10)
	assert.Equal(t, []models.DocRef{"3", "1", "2"}, refs(got))
	assert.Equal(t, 1.0, got[0].Score)

	capped := Scorer{}.rankMatches(query, matches, "t", "f", 0, 2)
	assert.Equal(t, []models.DocRef{"3", "1"}, refs(capped))
}

func TestMergeCandidates(t *testing.T) {
	a := []models.Candidate{
		{TargetTable: "t", TargetField: "name", DocRef: "1", Score: 0.5},
		{TargetTable: "t", TargetField: "name", DocRef: "2", Score: 0.9},
	}
	b := []models.Candidate{
		{TargetTable: "t", TargetField: "addr", DocRef: "1", Score: 0.8},
		{TargetTable: "u", TargetField: "name", DocRef: "1", Score: 0.8},
	}

	got := mergeCandidates(a, b)
	assert.Equal(t, mergeCandidates(b, a), got, "merge order does not matter")
	if assert.Len(t, got, 3) {
		assert.Equal(t, models.DocRef("2"), got[0].DocRef)
		assert.Equal(t, "t", got[1].TargetTable)
		assert.Equal(t, "addr", got[1].TargetField, "highest score kept")
		assert.Equal(t, "u", got[2].TargetTable)
	}
}

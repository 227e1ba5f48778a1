package query

import (
	"sort"

	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

// keywordSet is a query's keyword set.
type keywordSet map[string]struct{}

func newKeywordSet(keywords []string) keywordSet {
	set := make(keywordSet, len(keywords))
	for _, kw := range keywords {
		set[kw] = struct{}{}
	}
	return set
}

// Scorer computes overlap similarity between a query keyword set and the
// keywords a candidate matched.
type Scorer struct{}

// Score returns |M ∩ Q| / |Q|.
func (Scorer) Score(query, matched []string) float64 {
	q := newKeywordSet(query)
	_, n := intersect(q, matched)
	return models.Score(n, len(q))
}

// Rescore scores match against query, considering only the keywords of
// match that belong to query. The single and batch paths both score here.
func (Scorer) Rescore(query keywordSet, match models.KeywordMatch) (score float64, matched []string) {
	matched, n := intersect(query, match.Keywords)
	return models.Score(n, len(query)), matched
}

func intersect(query keywordSet, keywords []string) ([]string, int) {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if _, ok := query[kw]; !ok {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out, len(out)
}

// SortCandidates orders by score descending, then table, field and
// document reference ascending.
func SortCandidates(c []models.Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		a, b := c[i], c[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TargetTable != b.TargetTable {
			return a.TargetTable < b.TargetTable
		}
		if a.TargetField != b.TargetField {
			return a.TargetField < b.TargetField
		}
		return a.DocRef < b.DocRef
	})
}

// rankMatches turns aggregated matches into candidates that meet threshold,
// ranked and capped at max.
func (s Scorer) rankMatches(query keywordSet, matches []models.KeywordMatch, table, field string, threshold float64, max int) []models.Candidate {
	var out []models.Candidate
	for _, m := range matches {
		score, matched := s.Rescore(query, m)
		if len(matched) == 0 || !models.MeetsThreshold(score, threshold) {
			continue
		}
		out = append(out, models.Candidate{
			TargetTable:     table,
			TargetField:     field,
			DocRef:          m.DocRef,
			Score:           score,
			MatchedKeywords: matched,
		})
	}
	SortCandidates(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// mergeCandidates dedupes by candidate identity keeping the highest score.
// The result is sorted; merge order does not matter.
func mergeCandidates(lists ...[]models.Candidate) []models.Candidate {
	best := make(map[string]models.Candidate)
	for _, list := range lists {
		for _, c := range list {
			prev, ok := best[c.Key()]
			if !ok || c.Score > prev.Score || (c.Score == prev.Score && c.TargetField < prev.TargetField) {
				best[c.Key()] = c
			}
		}
	}
	out := make([]models.Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	SortCandidates(out)
	return out
}

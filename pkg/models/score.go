package models

// scoreEpsilon absorbs float error when comparing a ratio to a threshold.
// The SQL minimum-match count and the local re-score both go through
// MeetsThreshold so that single and batch queries agree.
const scoreEpsilon = 1e-9

// Score is the normalized overlap |matched| / |total|, in [0, 1].
func Score(matched, total int) float64 {
	if total <= 0 || matched <= 0 {
		return 0
	}
	if matched >= total {
		return 1
	}
	return float64(matched) / float64(total)
}

// MeetsThreshold reports whether score reaches threshold.
func MeetsThreshold(score, threshold float64) bool {
	return score+scoreEpsilon >= threshold
}

// MinMatches returns the smallest match count c in [1, total] whose score
// meets threshold, or total+1 when none does.
func MinMatches(total int, threshold float64) int {
	for c := 1; c <= total; c++ {
		if MeetsThreshold(Score(c, total), threshold) {
			return c
		}
	}
	return total + 1
}

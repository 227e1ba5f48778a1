package models

import "testing"

func TestScore(t *testing.T) {
	tests := []struct {
		matched, total int
		want           float64
	}{
		{0, 4, 0},
		{1, 4, 0.25},
		{4, 4, 1},
		{5, 4, 1},
		{1, 0, 0},
		{-1, 3, 0},
	}
	for _, tt := range tests {
		if got := Score(tt.matched, tt.total); got != tt.want {
			t.Errorf("Score(%d, %d) = %v, want %v", tt.matched, tt.total, got, tt.want)
		}
	}
}

func TestMinMatches(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		threshold float64
		want      int
	}{
		{"zero threshold", 4, 0, 1},
		{"half", 4, 0.5, 2},
		{"two thirds", 3, 2.0 / 3.0, 2},
		{"rounding up", 3, 0.5, 2},
		{"all", 4, 1, 4},
		{"point six of five", 5, 0.6, 3},
		{"unreachable", 4, 1.5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinMatches(tt.total, tt.threshold)
			if got != tt.want {
				t.Errorf("MinMatches(%d, %v) = %d, want %d", tt.total, tt.threshold, got, tt.want)
			}
			if got <= tt.total && !MeetsThreshold(Score(got, tt.total), tt.threshold) {
				t.Errorf("score at MinMatches does not meet threshold")
			}
			if got > 1 && MeetsThreshold(Score(got-1, tt.total), tt.threshold) {
				t.Errorf("MinMatches is not minimal")
			}
		})
	}
}

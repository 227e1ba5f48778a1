package fieldproc

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NumericProcessor handles amounts, counts and measures.
type NumericProcessor struct{}

// Normalize returns the canonical decimal form of the value, or the
// trimmed value when it does not parse as a number.
func (NumericProcessor) Normalize(value string, _ *Config) string {
	s := removeSpace(baseFold(value))
	if s == "" {
		return ""
	}
	if f, ok := parseNumber(s); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.ToLower(s)
}

// ExtractKeywords returns the canonical value.
func (NumericProcessor) ExtractKeywords(normalized string, _ *Config) []string {
	return wholeValue(normalized)
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f == 0 {
		f = 0 // drop negative zero
	}
	return f, true
}

var coordinatePattern = regexp.MustCompile(`^\(?\s*(-?\d{1,3}(?:\.\d+)?)\s*[,;\s]\s*(-?\d{1,3}(?:\.\d+)?)\s*\)?$`)

// CoordinateProcessor handles "lat,lng" pairs.
type CoordinateProcessor struct{}

// Normalize returns "lat,lng" with six decimals, or "" when the value is
// not a valid pair.
func (CoordinateProcessor) Normalize(value string, _ *Config) string {
	lat, lng, ok := parseCoordinate(baseFold(value))
	if !ok {
		return ""
	}
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lng, 'f', 6, 64)
}

// ExtractKeywords returns the grid cells containing the point at roughly
// 100m and 1km resolution, so nearby points share keywords.
func (CoordinateProcessor) ExtractKeywords(normalized string, _ *Config) []string {
	lat, lng, ok := parseCoordinate(normalized)
	if !ok {
		return nil
	}
	set := newKeywordSet(0)
	set.add(formatCell(lat, lng, 3))
	set.add(formatCell(lat, lng, 2))
	return set.list()
}

func parseCoordinate(s string) (lat, lng float64, ok bool) {
	m := coordinatePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

// cellEpsilon keeps values such as 31.23 in their own cell despite
// 31.23*100 evaluating to 3122.9999999999995.
const cellEpsilon = 1e-7

func formatCell(lat, lng float64, decimals int) string {
	p := math.Pow(10, float64(decimals))
	rl := math.Floor(lat*p+cellEpsilon) / p
	rg := math.Floor(lng*p+cellEpsilon) / p
	return strconv.FormatFloat(rl, 'f', decimals, 64) + "," + strconv.FormatFloat(rg, 'f', decimals, 64)
}

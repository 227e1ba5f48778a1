package fieldproc

import (
	"regexp"
	"strings"
)

// Caps on address components keep index fan-out and query cost bounded.
const (
	maxStreetTokens   = 3
	maxNumberTokens   = 2
	maxBuildingTokens = 2
)

// Administrative components are matched in this order, each anchored at
// the end of the previous match.
var addressAdminPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\p{Han}{2,6}?省`),
	regexp.MustCompile(`^\p{Han}{2,6}?市`),
	regexp.MustCompile(`^\p{Han}{2,6}?[区县]`),
	regexp.MustCompile(`^\p{Han}{2,6}?镇`),
}

var (
	addressStreetPattern   = regexp.MustCompile(`\p{Han}{2,6}?(?:大道|路|街|道|巷|弄)`)
	addressNumberPattern   = regexp.MustCompile(`\d+[号弄栋幢座室层楼]`)
	addressBuildingPattern = regexp.MustCompile(`\p{Han}{2,6}?(?:大厦|大楼|广场|中心|花园|公寓|小区|园区)`)
)

// AddressProcessor extracts structured address components instead of
// segmenting the full string.
type AddressProcessor struct{}

// Normalize folds the value and removes whitespace next to CJK characters.
func (AddressProcessor) Normalize(value string, _ *Config) string {
	return removeSpaceAroundHan(collapseSpace(baseFold(value)))
}

// ExtractKeywords returns province, city, district and town, then up to
// three streets, two house numbers and two building names. Values with no
// recognizable component fall back to free-text keywords.
func (AddressProcessor) ExtractKeywords(normalized string, cfg *Config) []string {
	set := newKeywordSet(0)

	rest := normalized
	admin := strings.TrimLeftFunc(normalized, func(r rune) bool { return !isHan(r) })
	for _, re := range addressAdminPatterns {
		loc := re.FindStringIndex(admin)
		if loc == nil {
			continue
		}
		set.add(admin[:loc[1]])
		admin = admin[loc[1]:]
		rest = admin
	}

	// Street and number text is blanked, including matches past the cap,
	// so that building names cannot start inside them.
	masked := []byte(rest)
	collect := func(re *regexp.Regexp, limit int) {
		n := 0
		for _, loc := range re.FindAllStringIndex(string(masked), -1) {
			if n < limit && set.add(string(masked[loc[0]:loc[1]])) {
				n++
			}
			for i := loc[0]; i < loc[1]; i++ {
				masked[i] = ' '
			}
		}
	}
	collect(addressStreetPattern, maxStreetTokens)
	collect(addressNumberPattern, maxNumberTokens)
	collect(addressBuildingPattern, maxBuildingTokens)

	if len(set.items) == 0 {
		return TextProcessor{}.ExtractKeywords(strings.ToLower(collapseSpace(punctToSpace(normalized, ""))), cfg)
	}
	return set.list()
}

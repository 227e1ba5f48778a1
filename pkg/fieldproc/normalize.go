package fieldproc

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// fold applies NFKC and width folding so that full-width digits, letters and
// punctuation from spreadsheets compare equal to their half-width forms.
func fold(s string) string {
	return width.Fold.String(norm.NFKC.String(s))
}

// stripControl drops control and format characters (zero-width spaces,
// BOMs) that survive NFKC.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// collapseSpace trims s and replaces whitespace runs with one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// removeSpace drops all whitespace.
func removeSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// removeSpaceAroundHan drops single spaces that touch a Han character.
// Input must already be space-collapsed.
func removeSpaceAroundHan(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		if r == ' ' && i > 0 && i < len(runes)-1 && (isHan(runes[i-1]) || isHan(runes[i+1])) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// punctToSpace replaces punctuation and symbols with spaces. Keep is a set
// of runes that survive.
func punctToSpace(s string, keep string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(keep, r) {
			return r
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
}

// baseFold is the first step of every normalizer.
func baseFold(value string) string {
	return stripControl(fold(value))
}

func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

func allHan(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isHan(r) {
			return false
		}
	}
	return true
}

func containsHan(s string) bool {
	for _, r := range s {
		if isHan(r) {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// ngrams returns the overlapping rune n-grams of s. Strings not longer
// than n are returned whole.
func ngrams(s string, n int) []string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return []string{s}
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

// keywordSet accumulates keywords in first-seen order without duplicates,
// up to an optional cap.
type keywordSet struct {
	seen  map[string]struct{}
	items []string
	max   int
}

func newKeywordSet(max int) *keywordSet {
	return &keywordSet{seen: make(map[string]struct{}), max: max}
}

func (k *keywordSet) add(kw string) bool {
	if kw == "" {
		return false
	}
	if k.max > 0 && len(k.items) >= k.max {
		return false
	}
	if _, ok := k.seen[kw]; ok {
		return false
	}
	k.seen[kw] = struct{}{}
	k.items = append(k.items, kw)
	return true
}

func (k *keywordSet) list() []string {
	if len(k.items) == 0 {
		return nil
	}
	return k.items
}

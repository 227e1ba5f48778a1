package fieldproc

import (
	"strings"
	"unicode"
)

// PersonNameProcessor handles personal names.
type PersonNameProcessor struct{}

// Normalize folds and lowercases. Whitespace is removed from CJK names and
// collapsed otherwise; the middle dot of transliterated names is kept.
func (PersonNameProcessor) Normalize(value string, _ *Config) string {
	s := strings.ToLower(baseFold(value))
	s = collapseSpace(punctToSpace(s, "·"))
	if containsHan(s) {
		s = removeSpace(s)
	}
	return s
}

// ExtractKeywords returns the whole name, plus its first character as a
// surname keyword when the name has three or more characters.
func (PersonNameProcessor) ExtractKeywords(normalized string, _ *Config) []string {
	set := newKeywordSet(0)
	set.add(normalized)
	runes := []rune(normalized)
	if len(runes) >= 3 {
		set.add(string(runes[0]))
	}
	return set.list()
}

// PhoneProcessor handles mobile and landline numbers.
type PhoneProcessor struct{}

// Normalize keeps digits only and strips a +86/0086 country prefix from
// mobile numbers.
func (PhoneProcessor) Normalize(value string, _ *Config) string {
	digits := keepRunes(baseFold(value), unicode.IsDigit)
	switch {
	case len(digits) == 15 && strings.HasPrefix(digits, "0086"):
		digits = digits[4:]
	case len(digits) == 13 && strings.HasPrefix(digits, "86"):
		digits = digits[2:]
	}
	return digits
}

// ExtractKeywords returns the whole number.
func (PhoneProcessor) ExtractKeywords(normalized string, _ *Config) []string {
	return wholeValue(normalized)
}

// IDCardProcessor handles national ID numbers.
type IDCardProcessor struct{}

// Normalize keeps letters and digits, upper-cased.
func (IDCardProcessor) Normalize(value string, _ *Config) string {
	return strings.ToUpper(keepRunes(baseFold(value), isASCIIAlnum))
}

// idRegionPrefixLen is the length of the administrative-division code that
// opens a national ID number.
const idRegionPrefixLen = 6

// ExtractKeywords returns the whole number and its region prefix.
func (IDCardProcessor) ExtractKeywords(normalized string, _ *Config) []string {
	set := newKeywordSet(0)
	set.add(normalized)
	if len(normalized) > idRegionPrefixLen && isDigits(normalized[:idRegionPrefixLen]) {
		set.add(normalized[:idRegionPrefixLen])
	}
	return set.list()
}

// CreditCodeProcessor handles unified social credit codes.
type CreditCodeProcessor struct{}

// Normalize keeps letters and digits, upper-cased.
func (CreditCodeProcessor) Normalize(value string, _ *Config) string {
	return strings.ToUpper(keepRunes(baseFold(value), isASCIIAlnum))
}

// ExtractKeywords returns the whole code.
func (CreditCodeProcessor) ExtractKeywords(normalized string, _ *Config) []string {
	return wholeValue(normalized)
}

// EmailProcessor handles email addresses.
type EmailProcessor struct{}

// Normalize folds, lowercases and removes whitespace.
func (EmailProcessor) Normalize(value string, _ *Config) string {
	return strings.ToLower(removeSpace(baseFold(value)))
}

// ExtractKeywords returns the whole address, its local part and its domain.
func (EmailProcessor) ExtractKeywords(normalized string, _ *Config) []string {
	set := newKeywordSet(0)
	set.add(normalized)
	if at := strings.LastIndexByte(normalized, '@'); at > 0 && at < len(normalized)-1 {
		set.add(normalized[:at])
		set.add(normalized[at+1:])
	}
	return set.list()
}

func wholeValue(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return []string{normalized}
}

func keepRunes(s string, keep func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isASCIIAlnum(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

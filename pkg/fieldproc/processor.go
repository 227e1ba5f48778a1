package fieldproc

import (
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

// Processor normalizes values of one field type and extracts their keywords.
// Both methods are pure: empty input gives empty output and they never fail.
type Processor interface {
	Normalize(value string, cfg *Config) string
	ExtractKeywords(normalized string, cfg *Config) []string
}

// Config holds the processing parameters of one FieldType. Processor and
// Segmenter are resolved once when the Registry is built.
type Config struct {
	Type          models.FieldType
	Processor     Processor
	Segmenter     Segmenter
	Threshold     float64
	MaxCandidates int
	NGramEnabled  bool
	NGramSize     int
	// MaxKeywords caps free-text extraction; zero means no cap.
	MaxKeywords int
}

// Normalize runs the configured processor's normalizer.
func Normalize(value string, cfg *Config) string {
	if value == "" || cfg == nil || cfg.Processor == nil {
		return ""
	}
	return cfg.Processor.Normalize(value, cfg)
}

// ExtractKeywords runs the configured processor's extractor.
func ExtractKeywords(normalized string, cfg *Config) []string {
	if normalized == "" || cfg == nil || cfg.Processor == nil {
		return nil
	}
	return cfg.Processor.ExtractKeywords(normalized, cfg)
}

func (c *Config) segment(text string) []string {
	if c.Segmenter == nil {
		return RuleSegmenter{}.Segment(text)
	}
	return c.Segmenter.Segment(text)
}

// expandTokens adds tokens to set, dropping stopwords and tokens shorter
// than two runes. With n-grams enabled, Han tokens longer than NGramSize
// also contribute their n-grams.
func (c *Config) expandTokens(set *keywordSet, tokens []string, stop map[string]struct{}) {
	for _, tok := range tokens {
		if _, ok := stop[tok]; ok {
			continue
		}
		if runeLen(tok) < 2 {
			continue
		}
		set.add(tok)
		if c.NGramEnabled && c.NGramSize >= 2 && allHan(tok) && runeLen(tok) > c.NGramSize {
			for _, g := range ngrams(tok, c.NGramSize) {
				if _, ok := stop[g]; ok {
					continue
				}
				set.add(g)
			}
		}
	}
}

package fieldproc

import "strings"

var textStopwords = toSet(
	"的", "了", "和", "与", "及", "或", "等", "在", "是", "为", "对",
	"我们", "你们", "他们", "以及", "或者", "其他", "其它", "一个", "没有",
	"the", "and", "of", "a", "an", "to", "in", "for", "on", "with", "by", "or",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// TextProcessor handles generic free text.
type TextProcessor struct{}

// Normalize folds, lowercases and turns punctuation into spaces.
func (TextProcessor) Normalize(value string, _ *Config) string {
	s := strings.ToLower(baseFold(value))
	return collapseSpace(punctToSpace(s, ""))
}

// ExtractKeywords segments and keeps non-stopword tokens of two or more runes.
func (TextProcessor) ExtractKeywords(normalized string, cfg *Config) []string {
	set := newKeywordSet(cfg.MaxKeywords)
	cfg.expandTokens(set, cfg.segment(normalized), textStopwords)
	return set.list()
}

package fieldproc

import "strings"

// orgSuffixes are legal-entity suffixes, most specific first. Only the
// first match is stripped.
var orgSuffixes = []string{
	"股份有限公司",
	"有限责任公司",
	"集团有限公司",
	"集团股份公司",
	"有限公司",
	"集团公司",
	"分公司",
	"总公司",
	"公司",
	"集团",
	"co., ltd.",
	"co., ltd",
	"co.,ltd.",
	"co.,ltd",
	"co. ltd.",
	"co ltd",
	"limited",
	"corporation",
	"corp.",
	"corp",
	"inc.",
	"inc",
	"llc",
	"ltd.",
	"ltd",
}

var orgStopwords = toSet(
	"有限", "责任", "股份", "公司", "集团", "控股", "有限公司", "分公司", "总公司",
	"分店", "分部", "办事处", "co", "ltd", "inc", "corp", "company", "group", "the",
)

// OrgNameProcessor handles organization and unit names.
type OrgNameProcessor struct{}

// Normalize folds, lowercases, removes punctuation and strips the legal
// entity suffix.
func (OrgNameProcessor) Normalize(value string, _ *Config) string {
	s := collapseSpace(strings.ToLower(baseFold(value)))
	s = stripOrgSuffix(s)
	s = collapseSpace(punctToSpace(s, ""))
	if containsHan(s) {
		s = removeSpace(s)
	}
	return s
}

func stripOrgSuffix(s string) string {
	for _, suffix := range orgSuffixes {
		if strings.HasSuffix(s, suffix) {
			return strings.TrimSpace(strings.TrimRight(strings.TrimSuffix(s, suffix), " ,."))
		}
	}
	return s
}

// ExtractKeywords segments the stripped name and drops corporate-structure words.
func (OrgNameProcessor) ExtractKeywords(normalized string, cfg *Config) []string {
	set := newKeywordSet(cfg.MaxKeywords)
	cfg.expandTokens(set, cfg.segment(normalized), orgStopwords)
	return set.list()
}

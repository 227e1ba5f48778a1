package fieldproc

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

const (
	// classifySampleLimit is how many non-empty samples are inspected.
	classifySampleLimit = 10
	strictMatchRatio    = 0.7
	looseMatchRatio     = 0.5
	defaultMemoSize     = 1024
)

// nameRule matches a field name. Contains entries are matched against the
// lowercased name. Words must equal an ASCII token of the name. Initials
// are pinyin abbreviations such as "dz" (地址); they also match at the end
// of a token whose remaining prefix is more initials, as in "zcdz" (注册地址),
// but not inside English words like "hotel" or "discount".
type nameRule struct {
	fieldType models.FieldType
	contains  []string
	words     []string
	initials  []string
}

// nameRules are checked in order and the first hit wins. Address comes
// before the organization rule so "单位地址" is an address; identifier
// types come before organization and person so "单位电话" and "法人身份证"
// resolve to the identifier.
var nameRules = []nameRule{
	{
		fieldType: models.FieldTypeAddress,
		contains:  []string{"地址", "住址", "所在地", "住所", "address", "addr"},
		words:     []string{"dizhi"},
		initials:  []string{"dz"},
	},
	{
		fieldType: models.FieldTypeCreditCode,
		contains:  []string{"信用代码", "统一社会信用", "credit", "uscc"},
		initials:  []string{"tyshxydm", "shxydm", "xydm"},
	},
	{
		fieldType: models.FieldTypeIDCard,
		contains:  []string{"身份证", "证件号", "idcard", "id_card", "id_no"},
		initials:  []string{"sfz", "sfzh", "sfzhm", "zjhm"},
	},
	{
		fieldType: models.FieldTypePhone,
		contains:  []string{"电话", "手机", "联系方式", "phone", "mobile"},
		words:     []string{"tel"},
		initials:  []string{"dh", "sjh", "sjhm"},
	},
	{
		fieldType: models.FieldTypeEmail,
		contains:  []string{"邮箱", "电子邮件", "email", "e_mail"},
		words:     []string{"mail"},
		initials:  []string{"yx"},
	},
	{
		fieldType: models.FieldTypeOrgName,
		contains:  []string{"单位", "公司", "企业", "机构", "名称", "company", "organization", "enterprise", "org_name"},
		words:     []string{"org", "corp"},
		initials:  []string{"dwmc", "qymc", "gsmc", "jgmc", "mc"},
	},
	{
		fieldType: models.FieldTypePersonName,
		contains:  []string{"姓名", "联系人", "法人", "负责人", "法定代表人", "person", "contact"},
		initials:  []string{"xm", "lxr", "fddbr", "fzr"},
	},
	{
		fieldType: models.FieldTypeCoordinate,
		contains:  []string{"坐标", "经纬度", "coordinate", "latlng", "lnglat", "geo"},
		initials:  []string{"zb", "jwd"},
	},
	{
		fieldType: models.FieldTypeNumeric,
		contains:  []string{"金额", "数量", "面积", "amount", "quantity", "price"},
		words:     []string{"qty", "count", "num"},
		initials:  []string{"je", "sl"},
	},
}

// sampleRule selects a type when more than minRatio of the samples match.
type sampleRule struct {
	fieldType models.FieldType
	minRatio  float64
	match     func(string) bool
}

var (
	idCardPattern     = regexp.MustCompile(`^\d{17}[\dXx]$`)
	creditCodePattern = regexp.MustCompile(`^[0-9A-HJ-NPQRTUWXY]{2}\d{6}[0-9A-HJ-NPQRTUWXY]{10}$`)
	mobilePattern     = regexp.MustCompile(`^(?:\+?86)?1[3-9]\d{9}$`)
	landlinePattern   = regexp.MustCompile(`^0\d{2,3}-?\d{7,8}$`)
	emailPattern      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	adminUnitPattern  = regexp.MustCompile(`\p{Han}[省市区县镇乡]`)
	orgTailPattern    = regexp.MustCompile(`(?:公司|集团|厂|银行|医院|学校|大学|协会|委员会)$`)
	personNamePattern = regexp.MustCompile(`^\p{Han}{2,4}$`)
	numericPattern    = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

// sampleRules run in order after no name rule fired. Strict patterns run
// first since an 18-digit ID would also satisfy the credit code and
// numeric patterns.
var sampleRules = []sampleRule{
	{models.FieldTypeIDCard, strictMatchRatio, idCardPattern.MatchString},
	{models.FieldTypeCreditCode, strictMatchRatio, creditCodePattern.MatchString},
	{models.FieldTypePhone, strictMatchRatio, func(s string) bool {
		compact := strings.NewReplacer(" ", "", "-", "").Replace(s)
		return mobilePattern.MatchString(compact) || landlinePattern.MatchString(s)
	}},
	{models.FieldTypeEmail, strictMatchRatio, emailPattern.MatchString},
	{models.FieldTypeAddress, looseMatchRatio, func(s string) bool {
		return adminUnitPattern.MatchString(s) && !orgTailPattern.MatchString(s)
	}},
	{models.FieldTypePersonName, looseMatchRatio, personNamePattern.MatchString},
	{models.FieldTypeCoordinate, strictMatchRatio, func(s string) bool {
		_, _, ok := parseCoordinate(s)
		return ok
	}},
	{models.FieldTypeNumeric, strictMatchRatio, func(s string) bool {
		return numericPattern.MatchString(strings.ReplaceAll(s, ",", ""))
	}},
}

// Classifier infers a FieldType from a field name and sample values.
// Results are memoized in a bounded LRU; Classify is safe for concurrent use.
type Classifier struct {
	memo   *lru.Cache[string, models.FieldType]
	logger *zap.Logger
}

// NewClassifier creates a classifier whose memo holds up to cacheSize entries.
func NewClassifier(cacheSize int, logger *zap.Logger) (*Classifier, error) {
	if cacheSize <= 0 {
		cacheSize = defaultMemoSize
	}
	memo, err := lru.New[string, models.FieldType](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier cache: %w", err)
	}
	return &Classifier{
		memo:   memo,
		logger: logger.Named("field-classifier"),
	}, nil
}

// Classify returns the field type for fieldName given sample values.
// Empty samples and an unrecognized name give FieldTypeText.
func (c *Classifier) Classify(fieldName string, samples []string) models.FieldType {
	picked := pickSamples(samples)
	key := memoKey(fieldName, picked)
	if ft, ok := c.memo.Get(key); ok {
		return ft
	}

	ft, source := classify(fieldName, picked)
	c.memo.Add(key, ft)

	c.logger.Debug("Classified field",
		zap.String("field", fieldName),
		zap.String("field_type", string(ft)),
		zap.String("source", source),
		zap.Int("samples", len(picked)))
	return ft
}

// CacheLen returns the number of memoized classifications.
func (c *Classifier) CacheLen() int {
	return c.memo.Len()
}

func classify(fieldName string, samples []string) (models.FieldType, string) {
	if ft, ok := classifyByName(fieldName); ok {
		return ft, "name"
	}
	if len(samples) == 0 {
		return models.FieldTypeText, "default"
	}
	for _, rule := range sampleRules {
		if matchRatio(samples, rule.match) > rule.minRatio {
			return rule.fieldType, "samples"
		}
	}
	return models.FieldTypeText, "default"
}

func classifyByName(fieldName string) (models.FieldType, bool) {
	name := strings.ToLower(strings.TrimSpace(fieldName))
	if name == "" {
		return "", false
	}
	tokens := nameTokens(fieldName)
	for _, rule := range nameRules {
		for _, kw := range rule.contains {
			if strings.Contains(name, kw) {
				return rule.fieldType, true
			}
		}
		for _, tok := range tokens {
			if slices.Contains(rule.words, tok) {
				return rule.fieldType, true
			}
			for _, in := range rule.initials {
				if matchesInitials(tok, in) {
					return rule.fieldType, true
				}
			}
		}
	}
	return "", false
}

// matchesInitials reports whether tok is initials, or ends with initials
// after a vowel-free prefix.
func matchesInitials(tok, initials string) bool {
	if tok == initials {
		return true
	}
	prefix, ok := strings.CutSuffix(tok, initials)
	return ok && !strings.ContainsAny(prefix, "aeiou")
}

// nameTokens splits a field name into lowercase ASCII tokens on
// separators and camelCase boundaries.
func nameTokens(name string) []string {
	var (
		tokens []string
		cur    strings.Builder
		prev   rune
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range name {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			flush()
			prev = 0
			continue
		}
		if unicode.IsUpper(r) && unicode.IsLower(prev) {
			flush()
		}
		cur.WriteRune(unicode.ToLower(r))
		prev = r
	}
	flush()
	return tokens
}

// pickSamples returns up to classifySampleLimit folded, non-empty samples.
func pickSamples(samples []string) []string {
	picked := make([]string, 0, classifySampleLimit)
	for _, s := range samples {
		s = strings.TrimSpace(baseFold(s))
		if s == "" {
			continue
		}
		picked = append(picked, s)
		if len(picked) == classifySampleLimit {
			break
		}
	}
	return picked
}

func matchRatio(samples []string, match func(string) bool) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := 0
	for _, s := range samples {
		if match(s) {
			n++
		}
	}
	return float64(n) / float64(len(samples))
}

func memoKey(fieldName string, samples []string) string {
	d := xxhash.New()
	for _, s := range samples {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	return strings.ToLower(fieldName) + "\x00" + strconv.FormatUint(d.Sum64(), 16)
}

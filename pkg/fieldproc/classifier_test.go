package fieldproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(16, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClassifier_ByName(t *testing.T) {
	tests := []struct {
		fieldName string
		expected  models.FieldType
	}{
		{"单位地址", models.FieldTypeAddress},
		{"注册地址", models.FieldTypeAddress},
		{"company_address", models.FieldTypeAddress},
		{"单位名称", models.FieldTypeOrgName},
		{"companyName", models.FieldTypeOrgName},
		{"DWMC", models.FieldTypeOrgName},
		{"法定代表人", models.FieldTypePersonName},
		{"LXR", models.FieldTypePersonName},
		{"联系电话", models.FieldTypePhone},
		{"单位电话", models.FieldTypePhone},
		{"contact_phone", models.FieldTypePhone},
		{"LXDH", models.FieldTypePhone},
		{"法人身份证号", models.FieldTypeIDCard},
		{"SFZH", models.FieldTypeIDCard},
		{"统一社会信用代码", models.FieldTypeCreditCode},
		{"TYSHXYDM", models.FieldTypeCreditCode},
		{"邮箱", models.FieldTypeEmail},
		{"userEmail", models.FieldTypeEmail},
		{"经纬度", models.FieldTypeCoordinate},
		{"注册金额", models.FieldTypeNumeric},
		{"ZCDZ", models.FieldTypeAddress},
		{"tel", models.FieldTypePhone},
		{"item_count", models.FieldTypeNumeric},
		{"hotel_name", models.FieldTypeText},
		{"bank_account", models.FieldTypeText},
		{"discount", models.FieldTypeText},
	}

	c := newTestClassifier(t)
	for _, tt := range tests {
		t.Run(tt.fieldName, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Classify(tt.fieldName, nil))
		})
	}
}

func TestClassifier_AddressWinsOverOrgName(t *testing.T) {
	c := newTestClassifier(t)

	samples := []string{
		"浙江省杭州市西湖区文一路100号",
		"上海市浦东新区张杨路500号",
		"江苏省南京市鼓楼区中山路1号",
	}
	assert.Equal(t, models.FieldTypeAddress, c.Classify("ZCDZ", samples))
	assert.Equal(t, models.FieldTypeAddress, c.Classify("单位地址", samples))
}

func TestClassifier_BySamples(t *testing.T) {
	tests := []struct {
		name     string
		samples  []string
		expected models.FieldType
	}{
		{
			name:     "id cards",
			samples:  []string{"11010519491231002X", "110105194912310029", "310101198001010011"},
			expected: models.FieldTypeIDCard,
		},
		{
			name:     "credit codes",
			samples:  []string{"91310000775785552L", "91110108MA01234567", "91440300708461136T"},
			expected: models.FieldTypeCreditCode,
		},
		{
			name:     "mobile and landline",
			samples:  []string{"13812345678", "021-58881234", "+86 139 0000 1111", "15900001111"},
			expected: models.FieldTypePhone,
		},
		{
			name:     "emails",
			samples:  []string{"a@example.com", "b.c@test.cn", "d@corp.org"},
			expected: models.FieldTypeEmail,
		},
		{
			name:     "addresses",
			samples:  []string{"上海市浦东新区张杨路500号", "北京市朝阳区建国路88号", "unknown"},
			expected: models.FieldTypeAddress,
		},
		{
			name:     "company names containing a city are not addresses",
			samples:  []string{"上海市建筑工程有限公司", "杭州市自来水公司", "南京市第一医院"},
			expected: models.FieldTypeText,
		},
		{
			name:     "person names",
			samples:  []string{"张三", "李四", "欧阳修", "王小明"},
			expected: models.FieldTypePersonName,
		},
		{
			name:     "coordinates",
			samples:  []string{"31.2304,121.4737", "39.9042, 116.4074", "22.5431 114.0579"},
			expected: models.FieldTypeCoordinate,
		},
		{
			name:     "numbers",
			samples:  []string{"1,234.50", "42", "-7.5"},
			expected: models.FieldTypeNumeric,
		},
		{
			name:     "below strict ratio",
			samples:  []string{"13812345678", "hello", "world"},
			expected: models.FieldTypeText,
		},
		{
			name:     "empty",
			samples:  nil,
			expected: models.FieldTypeText,
		},
		{
			name:     "blank only",
			samples:  []string{"", "  "},
			expected: models.FieldTypeText,
		},
	}

	c := newTestClassifier(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Classify("col", tt.samples))
		})
	}
}

func TestClassifier_OnlyFirstTenSamples(t *testing.T) {
	samples := make([]string, 0, 30)
	for i := 0; i < 10; i++ {
		samples = append(samples, "a@example.com")
	}
	for i := 0; i < 20; i++ {
		samples = append(samples, "not an email")
	}

	c := newTestClassifier(t)
	assert.Equal(t, models.FieldTypeEmail, c.Classify("col", samples))
}

func TestClassifier_Memoized(t *testing.T) {
	c := newTestClassifier(t)

	samples := []string{"a@example.com", "b@example.com"}
	first := c.Classify("col", samples)
	second := c.Classify("col", samples)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.CacheLen())

	c.Classify("col", []string{"13812345678"})
	c.Classify("other", samples)
	assert.Equal(t, 3, c.CacheLen())
}

func TestClassifier_CacheBounded(t *testing.T) {
	c, err := NewClassifier(2, zap.NewNop())
	require.NoError(t, err)

	c.Classify("a", nil)
	c.Classify("b", nil)
	c.Classify("c", nil)
	assert.Equal(t, 2, c.CacheLen())
}

func TestNameTokens(t *testing.T) {
	assert.Equal(t, []string{"company", "name"}, nameTokens("companyName"))
	assert.Equal(t, []string{"zcdz"}, nameTokens("ZCDZ"))
	assert.Equal(t, []string{"lxdh", "1"}, nameTokens("LXDH_1"))
	assert.Equal(t, []string{"abc"}, nameTokens("单位abc"))
}

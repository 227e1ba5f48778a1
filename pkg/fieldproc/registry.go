package fieldproc

import (
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

// DefaultMaxCandidates is used when the registry options leave it unset.
const DefaultMaxCandidates = 10

type typeDefaults struct {
	processor    Processor
	threshold    float64
	ngramEnabled bool
	ngramSize    int
	maxKeywords  int
}

// defaults holds the processor and default threshold for each FieldType.
// Identifier-like types require every keyword to match.
var defaults = map[models.FieldType]typeDefaults{
	models.FieldTypeText:       {processor: TextProcessor{}, threshold: 0.5, ngramEnabled: true, ngramSize: 2, maxKeywords: 64},
	models.FieldTypeOrgName:    {processor: OrgNameProcessor{}, threshold: 0.6, ngramEnabled: true, ngramSize: 2, maxKeywords: 64},
	models.FieldTypeAddress:    {processor: AddressProcessor{}, threshold: 0.5},
	models.FieldTypePersonName: {processor: PersonNameProcessor{}, threshold: 0.8},
	models.FieldTypePhone:      {processor: PhoneProcessor{}, threshold: 1.0},
	models.FieldTypeIDCard:     {processor: IDCardProcessor{}, threshold: 1.0},
	models.FieldTypeCreditCode: {processor: CreditCodeProcessor{}, threshold: 1.0},
	models.FieldTypeEmail:      {processor: EmailProcessor{}, threshold: 0.6},
	models.FieldTypeCoordinate: {processor: CoordinateProcessor{}, threshold: 0.5},
	models.FieldTypeNumeric:    {processor: NumericProcessor{}, threshold: 1.0},
}

// RegistryOptions customizes the per-type configs.
type RegistryOptions struct {
	Segmenter     Segmenter
	MaxCandidates int
	// Thresholds overrides default thresholds, keyed by FieldType tag.
	Thresholds map[string]float64
}

// Registry maps every FieldType to exactly one Config. It is immutable
// after construction.
type Registry struct {
	configs map[models.FieldType]*Config
}

// NewRegistry resolves one Config per FieldType.
func NewRegistry(opts RegistryOptions) *Registry {
	seg := opts.Segmenter
	if seg == nil {
		seg = RuleSegmenter{}
	}
	maxCandidates := opts.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	r := &Registry{configs: make(map[models.FieldType]*Config, len(defaults))}
	for _, ft := range models.AllFieldTypes {
		d := defaults[ft]
		threshold := d.threshold
		if override, ok := opts.Thresholds[string(ft)]; ok && override > 0 && override <= 1 {
			threshold = override
		}
		r.configs[ft] = &Config{
			Type:          ft,
			Processor:     d.processor,
			Segmenter:     seg,
			Threshold:     threshold,
			MaxCandidates: maxCandidates,
			NGramEnabled:  d.ngramEnabled,
			NGramSize:     d.ngramSize,
			MaxKeywords:   d.maxKeywords,
		}
	}
	return r
}

// Config returns the config for t; unknown types get the text config.
func (r *Registry) Config(t models.FieldType) *Config {
	if cfg, ok := r.configs[t]; ok {
		return cfg
	}
	return r.configs[models.FieldTypeText]
}

// Process normalizes value and extracts its keywords with the config for t.
func (r *Registry) Process(t models.FieldType, value string) (normalized string, keywords []string) {
	cfg := r.Config(t)
	normalized = Normalize(value, cfg)
	if normalized == "" {
		return "", nil
	}
	return normalized, ExtractKeywords(normalized, cfg)
}

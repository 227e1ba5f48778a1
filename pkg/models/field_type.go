package models

import "strings"

// FieldType is the semantic category of a table column. It selects the
// normalizer, the keyword extractor and the default similarity threshold.
type FieldType string

const (
	FieldTypeText       FieldType = "text"
	FieldTypeOrgName    FieldType = "org_name"
	FieldTypeAddress    FieldType = "address"
	FieldTypePersonName FieldType = "person_name"
	FieldTypePhone      FieldType = "phone"
	FieldTypeIDCard     FieldType = "id_card"
	FieldTypeCreditCode FieldType = "credit_code"
	FieldTypeEmail      FieldType = "email"
	FieldTypeCoordinate FieldType = "coordinate"
	FieldTypeNumeric    FieldType = "numeric"
)

// AllFieldTypes lists every FieldType in declaration order.
var AllFieldTypes = []FieldType{
	FieldTypeText,
	FieldTypeOrgName,
	FieldTypeAddress,
	FieldTypePersonName,
	FieldTypePhone,
	FieldTypeIDCard,
	FieldTypeCreditCode,
	FieldTypeEmail,
	FieldTypeCoordinate,
	FieldTypeNumeric,
}

// IsValid reports whether t is one of the declared field types.
func (t FieldType) IsValid() bool {
	for _, ft := range AllFieldTypes {
		if ft == t {
			return true
		}
	}
	return false
}

func (t FieldType) String() string {
	return string(t)
}

// ParseFieldType converts a tag into a FieldType. Unknown or empty tags
// fall back to FieldTypeText.
func ParseFieldType(s string) FieldType {
	ft := FieldType(strings.ToLower(strings.TrimSpace(s)))
	if ft.IsValid() {
		return ft
	}
	return FieldTypeText
}

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordID identifies a source record submitted to a batch query.
type RecordID string

// DocRef references a document (row) in a target table by its primary key,
// rendered as text.
type DocRef string

// Record is a loosely typed row: column name to value.
type Record struct {
	ID     RecordID       `json:"id"`
	Fields map[string]any `json:"fields"`
}

// StringValue renders a field of the record as text. Missing and nil
// fields render as the empty string.
func (r Record) StringValue(field string) string {
	if r.Fields == nil {
		return ""
	}
	return ValueString(r.Fields[field])
}

// ValueString renders a scanned column value as text.
func ValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case [16]byte:
		return uuid.UUID(val).String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// SourceDoc is one (document, field value) pair streamed during an index build.
type SourceDoc struct {
	Ref   DocRef
	Value string
}

// RefKind describes the primary-key type of source tables so that malformed
// document references can be rejected before they reach the store.
type RefKind string

const (
	RefKindText RefKind = "text"
	RefKindInt  RefKind = "int"
	RefKindUUID RefKind = "uuid"
)

// Validate checks that ref is well formed for the kind.
func (k RefKind) Validate(ref DocRef) error {
	s := strings.TrimSpace(string(ref))
	if s == "" {
		return fmt.Errorf("empty document reference")
	}
	switch k {
	case RefKindInt:
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return fmt.Errorf("document reference %q is not an integer", s)
		}
	case RefKindUUID:
		if _, err := uuid.Parse(s); err != nil {
			return fmt.Errorf("document reference %q is not a uuid: %w", s, err)
		}
	}
	return nil
}

// FieldMapping links a source record field to a target (table, field) to be
// searched. FieldType nil means auto-detect; Threshold nil means the
// per-type default.
type FieldMapping struct {
	SourceField string     `json:"source_field" yaml:"source_field"`
	TargetTable string     `json:"target_table" yaml:"target_table"`
	TargetField string     `json:"target_field" yaml:"target_field"`
	FieldType   *FieldType `json:"field_type,omitempty" yaml:"field_type,omitempty"`
	Threshold   *float64   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// TargetKey identifies the index a mapping reads.
type TargetKey struct {
	Table string
	Field string
}

func (k TargetKey) String() string {
	return k.Table + "." + k.Field
}

// Target returns the mapping's (table, field) key.
func (m FieldMapping) Target() TargetKey {
	return TargetKey{Table: m.TargetTable, Field: m.TargetField}
}

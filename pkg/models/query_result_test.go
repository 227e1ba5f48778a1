package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryResult_Finalize(t *testing.T) {
	tests := []struct {
		name       string
		result     QueryResult
		wantStatus QueryStatus
		wantReason Reason
	}{
		{
			name:       "candidates clear the reason",
			result:     QueryResult{Reason: ReasonNoIndex, Candidates: []Candidate{{DocRef: "1"}}},
			wantStatus: QueryStatusOK,
			wantReason: ReasonNone,
		},
		{
			name:       "error",
			result:     QueryResult{Reason: ReasonError},
			wantStatus: QueryStatusError,
			wantReason: ReasonError,
		},
		{
			name:       "empty keeps reason",
			result:     QueryResult{Reason: ReasonNoKeywords},
			wantStatus: QueryStatusEmpty,
			wantReason: ReasonNoKeywords,
		},
		{
			name:       "empty defaults to below threshold",
			result:     QueryResult{},
			wantStatus: QueryStatusEmpty,
			wantReason: ReasonBelowThreshold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.result
			r.Finalize()
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Equal(t, tt.wantReason, r.Reason)
		})
	}
}

func TestStrongerReason(t *testing.T) {
	assert.Equal(t, ReasonError, StrongerReason(ReasonNoIndex, ReasonError))
	assert.Equal(t, ReasonNoIndex, StrongerReason(ReasonNoIndex, ReasonBelowThreshold))
	assert.Equal(t, ReasonNoKeywords, StrongerReason(ReasonNone, ReasonNoKeywords))
	assert.Equal(t, ReasonNoValue, StrongerReason(ReasonNoValue, ReasonNone))
}

func TestRefKind_Validate(t *testing.T) {
	assert.NoError(t, RefKindInt.Validate("42"))
	assert.Error(t, RefKindInt.Validate("4x"))
	assert.NoError(t, RefKindUUID.Validate("550e8400-e29b-41d4-a716-446655440000"))
	assert.Error(t, RefKindUUID.Validate("nope"))
	assert.NoError(t, RefKindText.Validate("anything"))
	assert.Error(t, RefKindText.Validate("  "))
}

func TestParseFieldType(t *testing.T) {
	assert.Equal(t, FieldTypeOrgName, ParseFieldType(" ORG_NAME "))
	assert.Equal(t, FieldTypeText, ParseFieldType("unknown"))
	assert.Equal(t, FieldTypeText, ParseFieldType(""))
	assert.Equal(t, "products_title_keywords", NamespaceName("products", "title"))
}

package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
)

func TestCheckIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		ident     string
		wantErr   bool
		wantPrint bool
	}{
		{name: "plain", ident: "companies"},
		{name: "snake case", ident: "company_name"},
		{name: "cjk", ident: "公司名称"},
		{name: "empty", ident: "", wantErr: true},
		{name: "blank", ident: "   ", wantErr: true},
		{name: "invalid utf8", ident: "a\xffb", wantErr: true},
		{name: "nul", ident: "a\x00b", wantErr: true},
		{name: "too long", ident: strings.Repeat("x", 64), wantErr: true},
		{name: "injection", ident: "' OR '1'='1", wantErr: true, wantPrint: true},
		{name: "stacked query", ident: "'; DROP TABLE users--", wantErr: true, wantPrint: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIdentifier("table", tt.ident)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))
				var identErr *IdentifierError
				if assert.True(t, errors.As(err, &identErr)) {
					assert.Equal(t, tt.wantPrint, identErr.Fingerprint != "")
				}
			}
		})
	}
}

func TestCheckTarget(t *testing.T) {
	assert.NoError(t, CheckTarget("companies", "name"))

	err := CheckTarget("companies", "")
	var identErr *IdentifierError
	if assert.True(t, errors.As(err, &identErr)) {
		assert.Equal(t, "field", identErr.Kind)
	}
}

func TestCheckTarget_NamespaceLength(t *testing.T) {
	// "_" + "_keywords" adds 10 bytes to table and field.
	table := strings.Repeat("t", 30)

	assert.NoError(t, CheckTarget(table, strings.Repeat("f", 23)))

	err := CheckTarget(table, strings.Repeat("f", 24))
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	var identErr *IdentifierError
	if assert.True(t, errors.As(err, &identErr)) {
		assert.Equal(t, "namespace", identErr.Kind)
		assert.Len(t, identErr.Name, 64)
	}

	// Each name fits alone; the pair does not.
	assert.Error(t, CheckTarget(strings.Repeat("t", 60), "name"))
}

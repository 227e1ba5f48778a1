package store

import (
	"fmt"
	"strings"
	"unicode/utf8"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

// IdentifierError describes a rejected table or field name.
type IdentifierError struct {
	Kind        string // "table", "field" or "namespace"
	Name        string
	Fingerprint string // libinjection fingerprint, when that is what rejected it
	Reason      string
}

func (e *IdentifierError) Error() string {
	if e.Fingerprint != "" {
		return fmt.Sprintf("%s name %q looks like SQL (fingerprint %s)", e.Kind, e.Name, e.Fingerprint)
	}
	return fmt.Sprintf("%s name %q %s", e.Kind, e.Name, e.Reason)
}

func (e *IdentifierError) Unwrap() error { return apperrors.ErrInvalidArgument }

// CheckIdentifier screens a caller-supplied table or field name before it
// is quoted into SQL. Names are quoted regardless; this rejects names that
// can only be mistakes or injection attempts.
func CheckIdentifier(kind, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &IdentifierError{Kind: kind, Name: name, Reason: "is empty"}
	case !utf8.ValidString(name):
		return &IdentifierError{Kind: kind, Name: name, Reason: "is not valid UTF-8"}
	case strings.ContainsRune(name, 0):
		return &IdentifierError{Kind: kind, Name: name, Reason: "contains NUL"}
	case len(name) > maxIdentLen:
		return &IdentifierError{Kind: kind, Name: name, Reason: fmt.Sprintf("exceeds %d bytes", maxIdentLen)}
	}

	if isSQLi, fingerprint := libinjection.IsSQLi(name); isSQLi {
		return &IdentifierError{Kind: kind, Name: name, Fingerprint: string(fingerprint)}
	}
	return nil
}

// CheckTarget screens both halves of a (table, field) target and rejects
// pairs whose index namespace would not fit in one identifier. Postgres
// would silently truncate such a name.
func CheckTarget(table, field string) error {
	if err := CheckIdentifier("table", table); err != nil {
		return err
	}
	if err := CheckIdentifier("field", field); err != nil {
		return err
	}
	if ns := models.NamespaceName(table, field); len(ns) > maxIdentLen {
		return &IdentifierError{
			Kind:   "namespace",
			Name:   ns,
			Reason: fmt.Sprintf("exceeds %d bytes", maxIdentLen),
		}
	}
	return nil
}

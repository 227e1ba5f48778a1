package models

import "time"

// QueryStatus is the overall outcome of a query.
type QueryStatus string

const (
	QueryStatusOK    QueryStatus = "ok"
	QueryStatusEmpty QueryStatus = "empty"
	QueryStatusError QueryStatus = "error"
)

// Reason explains an empty candidate list. It is empty when candidates
// were found.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonNoValue        Reason = "no_value"
	ReasonNoKeywords     Reason = "no_keywords"
	ReasonNoIndex        Reason = "no_index"
	ReasonBelowThreshold Reason = "below_threshold"
	ReasonError          Reason = "error"
)

// reasonPrecedence orders reasons when several branches of a batch query
// come back empty; the most actionable one is reported.
var reasonPrecedence = map[Reason]int{
	ReasonError:          5,
	ReasonNoIndex:        4,
	ReasonBelowThreshold: 3,
	ReasonNoKeywords:     2,
	ReasonNoValue:        1,
}

// StrongerReason returns whichever of a and b should be reported.
func StrongerReason(a, b Reason) Reason {
	if reasonPrecedence[b] > reasonPrecedence[a] {
		return b
	}
	return a
}

// Candidate is a target document proposed as a match.
type Candidate struct {
	TargetTable     string   `json:"target_table"`
	TargetField     string   `json:"target_field"`
	DocRef          DocRef   `json:"doc_ref"`
	Record          Record   `json:"record"`
	Score           float64  `json:"score"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// Key identifies a candidate across mappings for deduplication.
func (c Candidate) Key() string {
	return c.TargetTable + "\x00" + string(c.DocRef)
}

// BranchError records a failed (table, field) sub-query of a batch.
type BranchError struct {
	TargetTable string `json:"target_table"`
	TargetField string `json:"target_field"`
	Error       string `json:"error"`
}

// QueryResult is the transient response of a single or batch query. It is
// never persisted.
type QueryResult struct {
	Status         QueryStatus   `json:"status"`
	Reason         Reason        `json:"reason,omitempty"`
	Candidates     []Candidate   `json:"candidates"`
	Elapsed        time.Duration `json:"elapsed"`
	SourceRecordID RecordID      `json:"source_record_id,omitempty"`
	SourceValue    string        `json:"source_value,omitempty"`
	TargetTable    string        `json:"target_table,omitempty"`
	TargetField    string        `json:"target_field,omitempty"`
	FieldType      FieldType     `json:"field_type,omitempty"`
	Threshold      float64       `json:"threshold"`
	Keywords       []string      `json:"keywords,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	BranchErrors   []BranchError `json:"branch_errors,omitempty"`
}

// Finalize derives Status from the candidate list and the reason.
func (r *QueryResult) Finalize() {
	switch {
	case len(r.Candidates) > 0:
		r.Status = QueryStatusOK
		r.Reason = ReasonNone
	case r.Reason == ReasonError:
		r.Status = QueryStatusError
	default:
		r.Status = QueryStatusEmpty
		if r.Reason == ReasonNone {
			r.Reason = ReasonBelowThreshold
		}
	}
}

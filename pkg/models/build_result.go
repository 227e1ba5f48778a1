package models

import (
	"time"

	"github.com/google/uuid"
)

// BuildStatus is the outcome of a single (table, field) index build.
type BuildStatus string

const (
	BuildStatusSuccess         BuildStatus = "success"
	BuildStatusSkippedExisting BuildStatus = "skipped_existing"
	BuildStatusFailed          BuildStatus = "failed"
	BuildStatusCancelled       BuildStatus = "cancelled"
)

// BuildResult reports what an index build did. Failures are reported
// through Status and Err rather than aborting multi-field builds.
type BuildResult struct {
	BuildID         uuid.UUID     `json:"build_id"`
	Namespace       string        `json:"namespace"`
	Table           string        `json:"table"`
	Field           string        `json:"field"`
	FieldType       FieldType     `json:"field_type"`
	Status          BuildStatus   `json:"status"`
	DocsProcessed   int64         `json:"docs_processed"`
	DocsSkipped     int64         `json:"docs_skipped"`
	KeywordsCreated int64         `json:"keywords_created"`
	RowsCleared     int64         `json:"rows_cleared"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	DocsPerSecond   float64       `json:"docs_per_second"`
	Err             error         `json:"-"`
	Error           string        `json:"error,omitempty"`
}

// Ready reports whether the build left a usable index behind.
func (r *BuildResult) Ready() bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case BuildStatusSuccess:
		return r.KeywordsCreated > 0
	case BuildStatusSkippedExisting:
		return true
	}
	return false
}

// Fail marks the result failed with err.
func (r *BuildResult) Fail(err error) *BuildResult {
	r.Status = BuildStatusFailed
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// BuildRecord is the persisted summary of a build run.
type BuildRecord struct {
	BuildID         uuid.UUID   `json:"build_id"`
	Namespace       string      `json:"namespace"`
	Table           string      `json:"table"`
	Field           string      `json:"field"`
	FieldType       FieldType   `json:"field_type"`
	Status          BuildStatus `json:"status"`
	DocsProcessed   int64       `json:"docs_processed"`
	KeywordsCreated int64       `json:"keywords_created"`
	Error           string      `json:"error,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
}

// Record converts the result into its persisted form.
func (r *BuildResult) Record() BuildRecord {
	return BuildRecord{
		BuildID:         r.BuildID,
		Namespace:       r.Namespace,
		Table:           r.Table,
		Field:           r.Field,
		FieldType:       r.FieldType,
		Status:          r.Status,
		DocsProcessed:   r.DocsProcessed,
		KeywordsCreated: r.KeywordsCreated,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.StartedAt.Add(r.Duration),
	}
}

// Package indexer builds the per-(table, field) keyword index namespaces.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
	"github.com/ekaya-inc/fuzzy-index/pkg/fieldproc"
	"github.com/ekaya-inc/fuzzy-index/pkg/logging"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/retry"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
	"github.com/ekaya-inc/fuzzy-index/pkg/workerpool"
)

// Options configures a Builder.
type Options struct {
	// BatchSize is the number of index rows per insert.
	BatchSize int
	// SampleSize is the number of values read for field type detection.
	SampleSize int
	// TableFieldKeywordIndex adds the (source_table, field_name, keyword) index.
	TableFieldKeywordIndex bool
	// RefKind validates document references before they are written.
	RefKind models.RefKind
	Retry   *retry.Config
	// Now stamps index rows and build records. Multi-field builds call it
	// from several goroutines, so it must be safe for concurrent use.
	Now func() time.Time
}

// DefaultOptions returns the defaults used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		BatchSize:  1000,
		SampleSize: 100,
		RefKind:    models.RefKindText,
		Retry:      retry.DefaultConfig(),
		Now:        time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.SampleSize <= 0 {
		o.SampleSize = d.SampleSize
	}
	if o.RefKind == "" {
		o.RefKind = d.RefKind
	}
	if o.Retry == nil {
		o.Retry = d.Retry
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// FieldSpec names one field to index. A nil FieldType is auto-detected.
type FieldSpec struct {
	Table     string            `yaml:"table"`
	Field     string            `yaml:"field"`
	FieldType *models.FieldType `yaml:"field_type,omitempty"`
}

// Builder materializes keyword index namespaces. It is the only writer of
// index namespaces.
//
// Concurrent builds of different (table, field) pairs are safe. Builds of
// the same pair must be serialized by the caller or through a BuildLease;
// a query running during a rebuild may observe a partial index.
type Builder struct {
	store      store.Store
	registry   *fieldproc.Registry
	classifier *fieldproc.Classifier
	pool       *workerpool.Pool
	lease      BuildLease
	opts       Options
	logger     *zap.Logger

	buildsStarted atomic.Int64
}

// NewBuilder creates a Builder. pool may be nil, in which case multi-field
// builds run sequentially. lease may be nil for no cross-process
// coordination.
func NewBuilder(
	st store.Store,
	registry *fieldproc.Registry,
	classifier *fieldproc.Classifier,
	pool *workerpool.Pool,
	lease BuildLease,
	opts Options,
	logger *zap.Logger,
) *Builder {
	if lease == nil {
		lease = NoopLease{}
	}
	return &Builder{
		store:      st,
		registry:   registry,
		classifier: classifier,
		pool:       pool,
		lease:      lease,
		opts:       opts.withDefaults(),
		logger:     logger.Named("index-builder"),
	}
}

// BuildsStarted returns how many builds got past the existing-index check.
func (b *Builder) BuildsStarted() int64 {
	return b.buildsStarted.Load()
}

// ResolveFieldType returns the explicit type, or detects one from the
// field name and a sample of its values.
func (b *Builder) ResolveFieldType(ctx context.Context, table, field string, explicit *models.FieldType) (models.FieldType, error) {
	if explicit != nil {
		return models.ParseFieldType(string(*explicit)), nil
	}
	samples, err := b.store.SampleValues(ctx, table, field, b.opts.SampleSize)
	if err != nil {
		return models.FieldTypeText, fmt.Errorf("sample %s.%s: %w", table, field, err)
	}
	return b.classifier.Classify(field, samples), nil
}

// BuildFieldIndex builds the keyword index of one (table, field) pair.
// An existing populated index is kept unless forceRebuild is set.
// Failures are reported on the result; the returned value is never nil.
func (b *Builder) BuildFieldIndex(ctx context.Context, table, field string, fieldType *models.FieldType, forceRebuild bool) *models.BuildResult {
	result := &models.BuildResult{
		BuildID:   uuid.New(),
		Namespace: models.NamespaceName(table, field),
		Table:     table,
		Field:     field,
		StartedAt: b.opts.Now(),
	}

	logger := b.logger.With(
		zap.String("build_id", result.BuildID.String()),
		zap.String("namespace", result.Namespace))

	b.build(ctx, result, fieldType, forceRebuild, logger)
	if result.Status == models.BuildStatusFailed && isCancellation(result.Err) {
		result.Status = models.BuildStatusCancelled
	}

	result.Duration = b.opts.Now().Sub(result.StartedAt)
	if secs := result.Duration.Seconds(); secs > 0 {
		result.DocsPerSecond = float64(result.DocsProcessed) / secs
	}
	b.finish(ctx, result, logger)
	return result
}

func (b *Builder) build(ctx context.Context, result *models.BuildResult, fieldType *models.FieldType, force bool, logger *zap.Logger) {
	if err := b.checkTarget(ctx, result.Table, result.Field); err != nil {
		result.Fail(err)
		return
	}

	ft, err := b.ResolveFieldType(ctx, result.Table, result.Field, fieldType)
	if err != nil {
		result.Fail(err)
		return
	}
	result.FieldType = ft

	if !force {
		populated, err := b.store.HasRows(ctx, result.Namespace, result.Table, result.Field)
		if err != nil {
			result.Fail(fmt.Errorf("check existing index: %w", err))
			return
		}
		if populated {
			incomplete, err := b.lastBuildIncomplete(ctx, result)
			if err != nil {
				result.Fail(fmt.Errorf("read build registry: %w", err))
				return
			}
			if !incomplete {
				result.Status = models.BuildStatusSkippedExisting
				return
			}
			logger.Info("Rebuilding index left by an incomplete build",
				zap.String("table", result.Table),
				zap.String("field", result.Field))
		}
	}

	release, err := b.lease.Acquire(ctx, result.Namespace)
	if err != nil {
		result.Fail(err)
		return
	}
	defer release()

	b.buildsStarted.Add(1)
	logger.Info("Building keyword index",
		zap.String("table", result.Table),
		zap.String("field", result.Field),
		zap.String("field_type", string(ft)),
		zap.Bool("force", force))

	if err := b.store.EnsureNamespace(ctx, result.Namespace); err != nil {
		result.Fail(err)
		return
	}
	cleared, err := b.store.ClearRows(ctx, result.Namespace, result.Table, result.Field)
	if err != nil {
		result.Fail(err)
		return
	}
	result.RowsCleared = cleared

	if err := b.writeRows(ctx, result, logger); err != nil {
		result.Fail(err)
		return
	}

	if err := b.store.CreateLookupIndexes(ctx, result.Namespace, b.opts.TableFieldKeywordIndex); err != nil {
		result.Fail(err)
		return
	}
	result.Status = models.BuildStatusSuccess
}

// lastBuildIncomplete reports whether the latest recorded build of the
// target failed or was cancelled, leaving rows that may be partial.
func (b *Builder) lastBuildIncomplete(ctx context.Context, result *models.BuildResult) (bool, error) {
	last, err := b.store.LastBuild(ctx, result.Namespace)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if last.Table != result.Table || last.Field != result.Field {
		return false, nil
	}
	return last.Status == models.BuildStatusFailed || last.Status == models.BuildStatusCancelled, nil
}

func (b *Builder) checkTarget(ctx context.Context, table, field string) error {
	if err := store.CheckTarget(table, field); err != nil {
		return err
	}
	ok, err := b.store.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrTableNotFound, table)
	}
	ok, err = b.store.FieldExists(ctx, table, field)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s.%s", apperrors.ErrFieldNotFound, table, field)
	}
	return nil
}

// writeRows streams the source field and inserts index rows in batches.
// Cancellation is checked at batch boundaries; already flushed batches stay.
func (b *Builder) writeRows(ctx context.Context, result *models.BuildResult, logger *zap.Logger) error {
	cfg := b.registry.Config(result.FieldType)
	createdAt := b.opts.Now()
	batch := make([]models.IndexRow, 0, b.opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := retry.DoIfRetryableWithResult(ctx, b.opts.Retry, func() (int64, error) {
			return b.store.InsertRows(ctx, result.Namespace, batch)
		})
		if err != nil {
			return err
		}
		result.KeywordsCreated += n
		batch = batch[:0]
		return nil
	}

	err := b.store.ScanField(ctx, result.Table, result.Field, func(doc models.SourceDoc) error {
		if doc.Value == "" {
			return nil
		}
		if err := b.validate(doc); err != nil {
			result.DocsSkipped++
			logger.Warn("Skipping malformed document",
				zap.String("doc_ref", logging.MaskValue(string(doc.Ref))),
				zap.Error(err))
			return nil
		}

		normalized := fieldproc.Normalize(doc.Value, cfg)
		keywords := fieldproc.ExtractKeywords(normalized, cfg)
		result.DocsProcessed++
		for _, kw := range keywords {
			batch = append(batch, models.IndexRow{
				DocRef:          doc.Ref,
				SourceTable:     result.Table,
				FieldName:       result.Field,
				FieldType:       result.FieldType,
				Keyword:         kw,
				OriginalValue:   doc.Value,
				NormalizedValue: normalized,
				CreatedAt:       createdAt,
			})
		}
		if len(batch) >= b.opts.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (b *Builder) validate(doc models.SourceDoc) error {
	if !utf8.ValidString(doc.Value) {
		return fmt.Errorf("value is not valid UTF-8")
	}
	return b.opts.RefKind.Validate(doc.Ref)
}

func (b *Builder) finish(ctx context.Context, result *models.BuildResult, logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.String("field_type", string(result.FieldType)),
		zap.Int64("docs_processed", result.DocsProcessed),
		zap.Int64("docs_skipped", result.DocsSkipped),
		zap.Int64("keywords_created", result.KeywordsCreated),
		zap.Duration("duration", result.Duration),
		zap.Float64("docs_per_second", result.DocsPerSecond),
	}
	switch result.Status {
	case models.BuildStatusSkippedExisting:
		logger.Debug("Keyword index already populated", fields...)
		return
	case models.BuildStatusSuccess:
		logger.Info("Keyword index built", fields...)
	default:
		logger.Error("Keyword index build did not complete",
			append(fields, zap.String("error", logging.SanitizeError(result.Err)))...)
	}

	// The registry write must survive a cancelled build context.
	recordCtx := context.WithoutCancel(ctx)
	if err := b.store.RecordBuild(recordCtx, result.Record()); err != nil {
		logger.Warn("Failed to record build", zap.Error(err))
	}
}

// BuildIndexes builds several fields, in parallel when a live worker pool
// is configured. Results are in the order of specs.
func (b *Builder) BuildIndexes(ctx context.Context, specs []FieldSpec, forceRebuild bool) []*models.BuildResult {
	results := make([]*models.BuildResult, len(specs))
	if len(specs) == 0 {
		return results
	}

	if len(specs) > 1 && b.pool.Alive() {
		items := make([]workerpool.WorkItem[*models.BuildResult], len(specs))
		for i, spec := range specs {
			spec := spec
			items[i] = workerpool.WorkItem[*models.BuildResult]{
				ID: models.NamespaceName(spec.Table, spec.Field),
				Execute: func(ctx context.Context) (*models.BuildResult, error) {
					return b.BuildFieldIndex(ctx, spec.Table, spec.Field, spec.FieldType, forceRebuild), nil
				},
			}
		}
		done, err := workerpool.Process(ctx, b.pool, items, nil)
		if err == nil {
			for _, r := range done {
				results[r.Index] = r.Result
				if r.Err != nil && r.Result == nil {
					results[r.Index] = b.failedResult(specs[r.Index], r.Err)
				}
			}
			return results
		}
		b.logger.Warn("Worker pool unavailable, building sequentially", zap.Error(err))
	}

	for i, spec := range specs {
		results[i] = b.BuildFieldIndex(ctx, spec.Table, spec.Field, spec.FieldType, forceRebuild)
	}
	return results
}

func (b *Builder) failedResult(spec FieldSpec, err error) *models.BuildResult {
	r := &models.BuildResult{
		BuildID:   uuid.New(),
		Namespace: models.NamespaceName(spec.Table, spec.Field),
		Table:     spec.Table,
		Field:     spec.Field,
		StartedAt: b.opts.Now(),
	}
	r.Fail(err)
	if isCancellation(err) {
		r.Status = models.BuildStatusCancelled
	}
	return r
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

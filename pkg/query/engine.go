// Package query answers fuzzy-match queries against the keyword indexes.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
	"github.com/ekaya-inc/fuzzy-index/pkg/fieldproc"
	"github.com/ekaya-inc/fuzzy-index/pkg/logging"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/retry"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
	"github.com/ekaya-inc/fuzzy-index/pkg/workerpool"
)

// Options configures an Engine.
type Options struct {
	// AutoBuild builds a missing index on the first query that needs it.
	AutoBuild bool
	// BatchCandidateFactor scales the candidate limit of batch union queries.
	BatchCandidateFactor int
	PlanCacheSize        int
	FieldTypeCacheSize   int
	SampleSize           int
	// TaskTimeout bounds each batch branch when run sequentially. The
	// worker pool applies its own per-task timeout.
	TaskTimeout time.Duration
	RefKind     models.RefKind
	Retry       *retry.Config
}

// DefaultOptions returns the defaults used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		AutoBuild:            true,
		BatchCandidateFactor: 2,
		PlanCacheSize:        256,
		FieldTypeCacheSize:   1024,
		SampleSize:           100,
		TaskTimeout:          30 * time.Second,
		RefKind:              models.RefKindText,
		Retry:                retry.DefaultConfig(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchCandidateFactor < 1 {
		o.BatchCandidateFactor = d.BatchCandidateFactor
	}
	if o.PlanCacheSize <= 0 {
		o.PlanCacheSize = d.PlanCacheSize
	}
	if o.FieldTypeCacheSize <= 0 {
		o.FieldTypeCacheSize = d.FieldTypeCacheSize
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
	return o
}

// Engine runs single and batch queries. It only reads index namespaces,
// apart from building missing ones on demand. All caches are owned by the
// Engine and bounded.
type Engine struct {
	store      store.Store
	registry   *fieldproc.Registry
	classifier *fieldproc.Classifier
	pool       *workerpool.Pool
	plans      *PlanCache
	fieldTypes *lru.Cache[models.TargetKey, models.FieldType]
	autoBuild  *autoBuilder
	scorer     Scorer
	opts       Options
	logger     *zap.Logger
}

// NewEngine creates an Engine. builder may be nil when AutoBuild is off;
// pool may be nil, in which case batches run sequentially.
func NewEngine(
	st store.Store,
	registry *fieldproc.Registry,
	classifier *fieldproc.Classifier,
	builder IndexBuilder,
	pool *workerpool.Pool,
	opts Options,
	logger *zap.Logger,
) (*Engine, error) {
	opts = opts.withDefaults()
	if opts.AutoBuild && builder == nil {
		return nil, fmt.Errorf("%w: auto-build requires an index builder", apperrors.ErrInvalidArgument)
	}

	plans, err := NewPlanCache(opts.PlanCacheSize, st.Dialect(), opts.BatchCandidateFactor)
	if err != nil {
		return nil, err
	}
	fieldTypes, err := lru.New[models.TargetKey, models.FieldType](opts.FieldTypeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create field type cache: %w", err)
	}

	logger = logger.Named("query-engine")
	return &Engine{
		store:      st,
		registry:   registry,
		classifier: classifier,
		pool:       pool,
		plans:      plans,
		fieldTypes: fieldTypes,
		autoBuild:  newAutoBuilder(builder, logger),
		opts:       opts,
		logger:     logger,
	}, nil
}

// Plans exposes the plan cache for diagnostics.
func (e *Engine) Plans() *PlanCache { return e.plans }

// resolveFieldType screens the target names, then returns explicit when
// set or detects the type from the field name and a sample of its values.
func (e *Engine) resolveFieldType(ctx context.Context, table, field string, explicit *models.FieldType) (models.FieldType, error) {
	if err := store.CheckTarget(table, field); err != nil {
		return models.FieldTypeText, err
	}
	if explicit != nil {
		return models.ParseFieldType(string(*explicit)), nil
	}
	key := models.TargetKey{Table: table, Field: field}
	if ft, ok := e.fieldTypes.Get(key); ok {
		return ft, nil
	}

	samples, err := retry.DoIfRetryableWithResult(ctx, e.opts.Retry, func() ([]string, error) {
		return e.store.SampleValues(ctx, table, field, e.opts.SampleSize)
	})
	if err != nil {
		return models.FieldTypeText, fmt.Errorf("detect field type of %s: %w", key, err)
	}
	ft := e.classifier.Classify(field, samples)
	e.fieldTypes.Add(key, ft)
	return ft, nil
}

// threshold applies a per-call override, falling back to the type default
// when the override is outside [0, 1].
func threshold(cfg *fieldproc.Config, override *float64) (float64, string) {
	if override == nil {
		return cfg.Threshold, ""
	}
	if *override < 0 || *override > 1 {
		return cfg.Threshold, fmt.Sprintf("threshold %.3f outside [0, 1], using default %.3f", *override, cfg.Threshold)
	}
	return *override, ""
}

// ensureIndex reports whether the (table, field) index can be queried,
// building it on demand when allowed. A non-empty warning explains a
// false result; err is set for infrastructure or invalid-target errors.
func (e *Engine) ensureIndex(ctx context.Context, table, field string, ft models.FieldType) (ready bool, warning string, err error) {
	namespace := models.NamespaceName(table, field)
	ok, err := retry.DoIfRetryableWithResult(ctx, e.opts.Retry, func() (bool, error) {
		return e.store.HasRows(ctx, namespace, table, field)
	})
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}
	if !e.opts.AutoBuild {
		return false, fmt.Sprintf("keyword index %s does not exist and auto-build is disabled", namespace), nil
	}

	result, fresh, err := e.autoBuild.ensure(ctx, table, field, ft)
	if err != nil {
		return false, "", err
	}
	if errors.Is(result.Err, apperrors.ErrTableNotFound) || errors.Is(result.Err, apperrors.ErrFieldNotFound) {
		return false, "", result.Err
	}
	if result.Ready() {
		return true, "", nil
	}
	if !fresh {
		return false, fmt.Sprintf("keyword index %s is empty; on-demand build already attempted (%s)", namespace, result.Status), nil
	}
	msg := fmt.Sprintf("on-demand build of %s finished with status %s", namespace, result.Status)
	if result.Error != "" {
		msg += ": " + logging.SanitizeError(result.Err)
	} else if result.KeywordsCreated == 0 {
		msg += ": no keywords extracted"
	}
	return false, msg, nil
}

// aggregate runs the plan for key against the keyword set.
func (e *Engine) aggregate(ctx context.Context, key PlanKey, keywords []string) ([]models.KeywordMatch, error) {
	plan := e.plans.Get(key)
	args, err := plan.Bind(keywords)
	if err != nil {
		return nil, err
	}
	matches, err := retry.DoIfRetryableWithResult(ctx, e.opts.Retry, func() ([]models.KeywordMatch, error) {
		return e.store.Aggregate(ctx, plan.SQL, args)
	})
	if err != nil {
		e.logger.Debug("Aggregation failed",
			zap.String("sql", logging.SanitizeQuery(plan.SQL)),
			zap.Int("keywords", len(keywords)),
			zap.Error(err))
		return nil, err
	}
	return matches, nil
}

// hydrate attaches full records to candidates. Candidates whose reference
// is malformed or whose record is gone are dropped and logged.
func (e *Engine) hydrate(ctx context.Context, table string, candidates []models.Candidate) ([]models.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	refs := make([]models.DocRef, 0, len(candidates))
	seen := make(map[models.DocRef]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.DocRef]; ok {
			continue
		}
		seen[c.DocRef] = struct{}{}
		if err := e.opts.RefKind.Validate(c.DocRef); err != nil {
			e.logger.Warn("Skipping candidate with malformed reference",
				zap.String("table", table),
				zap.String("doc_ref", logging.MaskValue(string(c.DocRef))),
				zap.Error(err))
			continue
		}
		refs = append(refs, c.DocRef)
	}

	records, err := retry.DoIfRetryableWithResult(ctx, e.opts.Retry, func() (map[models.DocRef]models.Record, error) {
		return e.store.FetchRecords(ctx, table, refs)
	})
	if err != nil {
		return nil, err
	}

	out := candidates[:0]
	for _, c := range candidates {
		rec, ok := records[c.DocRef]
		if !ok {
			e.logger.Debug("Skipping candidate without a source record",
				zap.String("table", table),
				zap.String("doc_ref", logging.MaskValue(string(c.DocRef))))
			continue
		}
		c.Record = rec
		out = append(out, c)
	}
	return out, nil
}

// QuerySingleField finds candidates in targetTable.targetField for one
// source value. fieldType nil means auto-detect; threshold nil means the
// type default. The result is never nil and always carries a status.
func (e *Engine) QuerySingleField(
	ctx context.Context,
	sourceValue string,
	targetTable, targetField string,
	fieldType *models.FieldType,
	thresholdOverride *float64,
) *models.QueryResult {
	start := time.Now()
	result := &models.QueryResult{
		SourceValue: sourceValue,
		TargetTable: targetTable,
		TargetField: targetField,
	}
	defer func() {
		result.Elapsed = time.Since(start)
		result.Finalize()
		e.logger.Debug("Single-field query finished",
			zap.String("target", targetTable+"."+targetField),
			zap.String("status", string(result.Status)),
			zap.String("reason", string(result.Reason)),
			zap.Int("candidates", len(result.Candidates)),
			zap.Duration("elapsed", result.Elapsed))
	}()

	if strings.TrimSpace(sourceValue) == "" {
		result.Reason = models.ReasonNoValue
		return result
	}

	ft, err := e.resolveFieldType(ctx, targetTable, targetField, fieldType)
	if err != nil {
		e.fail(result, err)
		return result
	}
	cfg := e.registry.Config(ft)
	thr, warning := threshold(cfg, thresholdOverride)
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	result.FieldType = ft
	result.Threshold = thr

	normalized := fieldproc.Normalize(sourceValue, cfg)
	keywords := fieldproc.ExtractKeywords(normalized, cfg)
	result.Keywords = keywords
	if len(keywords) == 0 {
		result.Reason = models.ReasonNoKeywords
		return result
	}

	ready, warning, err := e.ensureIndex(ctx, targetTable, targetField, ft)
	if err != nil {
		e.fail(result, err)
		return result
	}
	if !ready {
		result.Reason = models.ReasonNoIndex
		result.Warnings = append(result.Warnings, warning)
		return result
	}

	matches, err := e.aggregate(ctx, PlanKey{
		Namespace:     models.NamespaceName(targetTable, targetField),
		Table:         targetTable,
		Field:         targetField,
		KeywordCount:  len(keywords),
		Threshold:     thr,
		MaxCandidates: cfg.MaxCandidates,
		Mode:          PlanModeSingle,
	}, keywords)
	if err != nil {
		e.fail(result, err)
		return result
	}

	candidates := e.scorer.rankMatches(newKeywordSet(keywords), matches, targetTable, targetField, thr, cfg.MaxCandidates)
	candidates, err = e.hydrate(ctx, targetTable, candidates)
	if err != nil {
		e.fail(result, err)
		return result
	}
	result.Candidates = candidates
	return result
}

func (e *Engine) fail(result *models.QueryResult, err error) {
	result.Reason = models.ReasonError
	result.Warnings = append(result.Warnings, logging.SanitizeError(err))
	e.logger.Error("Query failed",
		zap.String("target", result.TargetTable+"."+result.TargetField),
		zap.String("source_value", logging.MaskValue(result.SourceValue)),
		zap.Error(err))
}

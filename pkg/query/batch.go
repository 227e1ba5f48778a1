package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/fieldproc"
	"github.com/ekaya-inc/fuzzy-index/pkg/logging"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/workerpool"
)

// keywordInfo is one source record's value processed for one mapping.
type keywordInfo struct {
	keywords   []string
	set        keywordSet
	normalized string
	original   string
	threshold  float64
}

// branch is the work for one (targetTable, targetField) pair of a batch.
// It is owned by the QueryBatch call that built it.
type branch struct {
	target     models.TargetKey
	fieldType  models.FieldType
	maxResults int
	thresholds []float64
	order      []models.RecordID
	infos      map[models.RecordID][]keywordInfo
	reasons    map[models.RecordID]models.Reason
	warnings   []string
	err        error
}

type branchOutcome struct {
	target     models.TargetKey
	candidates map[models.RecordID][]models.Candidate
	reasons    map[models.RecordID]models.Reason
	warnings   []string
	err        error
}

func (b *branch) setReason(id models.RecordID, r models.Reason) {
	b.reasons[id] = models.StrongerReason(b.reasons[id], r)
}

// QueryBatch matches every record against every mapping. Mappings that
// share a target are answered by one aggregation over the union of the
// batch's keywords; each record is then re-scored locally against its own
// keyword set. Every record ID in records gets a result.
func (e *Engine) QueryBatch(ctx context.Context, records []models.Record, mappings []models.FieldMapping) map[models.RecordID]*models.QueryResult {
	start := time.Now()

	order := make([]models.RecordID, 0, len(records))
	unique := make([]models.Record, 0, len(records))
	results := make(map[models.RecordID]*models.QueryResult, len(records))
	for _, rec := range records {
		if _, dup := results[rec.ID]; dup {
			e.logger.Warn("Ignoring duplicate record id in batch", zap.String("record_id", string(rec.ID)))
			continue
		}
		order = append(order, rec.ID)
		unique = append(unique, rec)
		results[rec.ID] = &models.QueryResult{SourceRecordID: rec.ID}
	}
	if len(results) == 0 {
		return results
	}
	if len(mappings) == 0 {
		for _, id := range order {
			r := results[id]
			r.Reason = models.ReasonError
			r.Warnings = []string{"no field mappings given"}
			r.Elapsed = time.Since(start)
			r.Finalize()
		}
		return results
	}

	branches := e.prepareBranches(ctx, unique, mappings)
	outcomes := e.executor(len(branches)).run(ctx, branches, e.runBranch)

	e.mergeOutcomes(order, results, unique, mappings, branches, outcomes)

	elapsed := time.Since(start)
	for _, id := range order {
		results[id].Elapsed = elapsed
		results[id].Finalize()
	}

	e.logger.Debug("Batch query finished",
		zap.Int("records", len(order)),
		zap.Int("mappings", len(mappings)),
		zap.Int("branches", len(branches)),
		zap.Duration("elapsed", elapsed))
	return results
}

// prepareBranches groups mappings by target and extracts each record's
// keywords once per mapping.
func (e *Engine) prepareBranches(ctx context.Context, records []models.Record, mappings []models.FieldMapping) []*branch {
	var branches []*branch
	byTarget := make(map[models.TargetKey][]models.FieldMapping)
	for _, m := range mappings {
		key := m.Target()
		if _, ok := byTarget[key]; !ok {
			branches = append(branches, &branch{
				target:  key,
				infos:   make(map[models.RecordID][]keywordInfo),
				reasons: make(map[models.RecordID]models.Reason),
			})
		}
		byTarget[key] = append(byTarget[key], m)
	}

	for _, br := range branches {
		group := byTarget[br.target]

		var explicit *models.FieldType
		for _, m := range group {
			if m.FieldType != nil {
				explicit = m.FieldType
				break
			}
		}
		ft, err := e.resolveFieldType(ctx, br.target.Table, br.target.Field, explicit)
		if err != nil {
			br.err = err
			continue
		}
		br.fieldType = ft
		br.maxResults = e.registry.Config(ft).MaxCandidates

		seen := make(map[models.RecordID]struct{}, len(records))
		for _, m := range group {
			mft := ft
			if m.FieldType != nil {
				mft = models.ParseFieldType(string(*m.FieldType))
			}
			cfg := e.registry.Config(mft)
			thr, warning := threshold(cfg, m.Threshold)
			if warning != "" {
				br.warnings = append(br.warnings, warning)
			}
			br.thresholds = append(br.thresholds, thr)

			for _, rec := range records {
				if _, ok := seen[rec.ID]; !ok {
					seen[rec.ID] = struct{}{}
					br.order = append(br.order, rec.ID)
				}
				br.addRecord(rec, m.SourceField, cfg, thr)
			}
		}
	}
	return branches
}

func (b *branch) addRecord(rec models.Record, sourceField string, cfg *fieldproc.Config, thr float64) {
	value := rec.StringValue(sourceField)
	if strings.TrimSpace(value) == "" {
		b.setReason(rec.ID, models.ReasonNoValue)
		return
	}
	normalized := fieldproc.Normalize(value, cfg)
	keywords := fieldproc.ExtractKeywords(normalized, cfg)
	if len(keywords) == 0 {
		b.setReason(rec.ID, models.ReasonNoKeywords)
		return
	}
	b.infos[rec.ID] = append(b.infos[rec.ID], keywordInfo{
		keywords:   keywords,
		set:        newKeywordSet(keywords),
		normalized: normalized,
		original:   value,
		threshold:  thr,
	})
}

// unionKeywords returns the sorted union of every record's keywords.
func (b *branch) unionKeywords() []string {
	set := make(keywordSet)
	for _, infos := range b.infos {
		for _, info := range infos {
			for kw := range info.set {
				set[kw] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for kw := range set {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// runBranch issues one aggregation for the branch and re-scores each record.
func (e *Engine) runBranch(ctx context.Context, br *branch) branchOutcome {
	out := branchOutcome{
		target:     br.target,
		candidates: make(map[models.RecordID][]models.Candidate),
		reasons:    br.reasons,
		warnings:   br.warnings,
		err:        br.err,
	}
	if br.err != nil {
		return out
	}

	union := br.unionKeywords()
	if len(union) == 0 {
		return out
	}

	table, field := br.target.Table, br.target.Field
	ready, warning, err := e.ensureIndex(ctx, table, field, br.fieldType)
	if err != nil {
		out.err = err
		return out
	}
	if !ready {
		out.warnings = append(out.warnings, warning)
		for id := range br.infos {
			br.setReason(id, models.ReasonNoIndex)
		}
		return out
	}

	matches, err := e.aggregate(ctx, PlanKey{
		Namespace:     models.NamespaceName(table, field),
		Table:         table,
		Field:         field,
		KeywordCount:  len(union),
		MaxCandidates: br.maxResults,
		Mode:          PlanModeUnion,
	}, union)
	if err != nil {
		out.err = err
		return out
	}

	var pool []models.Candidate
	for _, id := range br.order {
		infos := br.infos[id]
		if len(infos) == 0 {
			continue
		}
		lists := make([][]models.Candidate, 0, len(infos))
		for _, info := range infos {
			lists = append(lists, e.scorer.rankMatches(info.set, matches, table, field, info.threshold, br.maxResults))
		}
		ranked := mergeCandidates(lists...)
		if len(ranked) > br.maxResults {
			ranked = ranked[:br.maxResults]
		}
		if len(ranked) == 0 {
			br.setReason(id, models.ReasonBelowThreshold)
			e.logger.Debug("No candidate met the threshold",
				zap.String("record_id", string(id)),
				zap.String("target", br.target.String()),
				zap.String("value", logging.MaskValue(infos[0].original)),
				zap.String("normalized", logging.MaskValue(infos[0].normalized)))
			continue
		}
		out.candidates[id] = ranked
		pool = append(pool, ranked...)
	}

	hydrated, err := e.hydrate(ctx, table, pool)
	if err != nil {
		out.err = err
		out.candidates = map[models.RecordID][]models.Candidate{}
		return out
	}
	resolved := make(map[models.DocRef]models.Record, len(hydrated))
	for _, c := range hydrated {
		resolved[c.DocRef] = c.Record
	}
	for id, list := range out.candidates {
		kept := list[:0]
		for _, c := range list {
			if rec, ok := resolved[c.DocRef]; ok {
				c.Record = rec
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(out.candidates, id)
			br.setReason(id, models.ReasonBelowThreshold)
			continue
		}
		out.candidates[id] = kept
	}
	return out
}

// mergeOutcomes folds branch outcomes into the per-record results.
func (e *Engine) mergeOutcomes(
	order []models.RecordID,
	results map[models.RecordID]*models.QueryResult,
	records []models.Record,
	mappings []models.FieldMapping,
	branches []*branch,
	outcomes []branchOutcome,
) {
	lists := make(map[models.RecordID][][]models.Candidate, len(order))
	keywords := make(map[models.RecordID]keywordSet, len(order))

	for i, out := range outcomes {
		br := branches[i]
		for _, id := range order {
			r := results[id]
			for _, w := range out.warnings {
				r.Warnings = appendUnique(r.Warnings, w)
			}
			if out.err != nil {
				r.Reason = models.StrongerReason(r.Reason, models.ReasonError)
				r.BranchErrors = append(r.BranchErrors, models.BranchError{
					TargetTable: out.target.Table,
					TargetField: out.target.Field,
					Error:       logging.SanitizeError(out.err),
				})
				continue
			}
			r.Reason = models.StrongerReason(r.Reason, out.reasons[id])
			if c := out.candidates[id]; len(c) > 0 {
				lists[id] = append(lists[id], c)
			}
			for _, info := range br.infos[id] {
				if keywords[id] == nil {
					keywords[id] = make(keywordSet)
				}
				for kw := range info.set {
					keywords[id][kw] = struct{}{}
				}
			}
		}
		if out.err != nil {
			e.logger.Error("Batch branch failed",
				zap.String("target", out.target.String()),
				zap.Error(out.err))
		}
	}

	values := make(map[models.RecordID]string, len(records))
	if len(mappings) == 1 {
		for _, rec := range records {
			values[rec.ID] = rec.StringValue(mappings[0].SourceField)
		}
	}

	for _, id := range order {
		r := results[id]
		r.Candidates = mergeCandidates(lists[id]...)
		if len(r.Candidates) > 0 {
			r.Reason = models.ReasonNone
		}
		for kw := range keywords[id] {
			r.Keywords = append(r.Keywords, kw)
		}
		sort.Strings(r.Keywords)

		if len(mappings) == 1 && len(branches) == 1 {
			br := branches[0]
			r.SourceValue = values[id]
			r.TargetTable = br.target.Table
			r.TargetField = br.target.Field
			r.FieldType = br.fieldType
			if len(br.thresholds) > 0 {
				r.Threshold = br.thresholds[0]
			}
		}
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// branchExecutor runs batch branches. Outcomes are returned in branch order.
type branchExecutor interface {
	run(ctx context.Context, branches []*branch, fn func(context.Context, *branch) branchOutcome) []branchOutcome
}

// executor picks the worker pool when there is more than one branch and
// the pool is alive, and sequential execution otherwise.
func (e *Engine) executor(branches int) branchExecutor {
	seq := sequentialExecutor{timeout: e.opts.TaskTimeout}
	if branches > 1 && e.pool.Alive() {
		return poolExecutor{pool: e.pool, fallback: seq, logger: e.logger}
	}
	return seq
}

type sequentialExecutor struct {
	timeout time.Duration
}

func (s sequentialExecutor) run(ctx context.Context, branches []*branch, fn func(context.Context, *branch) branchOutcome) []branchOutcome {
	outcomes := make([]branchOutcome, len(branches))
	for i, br := range branches {
		outcomes[i] = s.runOne(ctx, br, fn)
	}
	return outcomes
}

func (s sequentialExecutor) runOne(ctx context.Context, br *branch, fn func(context.Context, *branch) branchOutcome) branchOutcome {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return fn(ctx, br)
}

type poolExecutor struct {
	pool     *workerpool.Pool
	fallback sequentialExecutor
	logger   *zap.Logger
}

func (p poolExecutor) run(ctx context.Context, branches []*branch, fn func(context.Context, *branch) branchOutcome) []branchOutcome {
	items := make([]workerpool.WorkItem[branchOutcome], len(branches))
	for i, br := range branches {
		br := br
		items[i] = workerpool.WorkItem[branchOutcome]{
			ID: br.target.String(),
			Execute: func(ctx context.Context) (branchOutcome, error) {
				return fn(ctx, br), nil
			},
		}
	}

	done, err := workerpool.Process(ctx, p.pool, items, nil)
	if err != nil {
		p.logger.Warn("Worker pool unavailable, running batch sequentially",
			zap.Int("branches", len(branches)),
			zap.Error(err))
		return p.fallback.run(ctx, branches, fn)
	}

	outcomes := make([]branchOutcome, len(branches))
	for _, r := range done {
		if r.Err != nil {
			outcomes[r.Index] = branchOutcome{
				target: branches[r.Index].target,
				err:    fmt.Errorf("branch %s: %w", branches[r.Index].target, r.Err),
			}
			continue
		}
		outcomes[r.Index] = r.Result
	}
	return outcomes
}

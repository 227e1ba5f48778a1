package query

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

// IndexBuilder builds a missing index on demand.
type IndexBuilder interface {
	BuildFieldIndex(ctx context.Context, table, field string, fieldType *models.FieldType, forceRebuild bool) *models.BuildResult
}

// autoBuilder builds each missing index at most once per engine. Concurrent
// callers for the same (table, field) share one build. Namespaces are not
// used as keys: distinct pairs such as ("a_b", "c") and ("a", "b_c") share
// a namespace name.
type autoBuilder struct {
	builder   IndexBuilder
	group     singleflight.Group
	mu        sync.Mutex
	attempted map[models.TargetKey]*models.BuildResult
	logger    *zap.Logger
}

func newAutoBuilder(builder IndexBuilder, logger *zap.Logger) *autoBuilder {
	return &autoBuilder{
		builder:   builder,
		attempted: make(map[models.TargetKey]*models.BuildResult),
		logger:    logger,
	}
}

func (a *autoBuilder) previous(key models.TargetKey) (*models.BuildResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.attempted[key]
	return r, ok
}

// ensure builds (table, field) unless an attempt was already made. fresh
// reports whether the returned result comes from a build run for this
// call or one it joined. The build runs detached from ctx so that a
// cancelled caller does not cancel a build others wait on.
func (a *autoBuilder) ensure(ctx context.Context, table, field string, fieldType models.FieldType) (result *models.BuildResult, fresh bool, err error) {
	key := models.TargetKey{Table: table, Field: field}
	if r, ok := a.previous(key); ok {
		return r, false, nil
	}

	// NUL cannot appear in a screened identifier.
	ch := a.group.DoChan(table+"\x00"+field, func() (any, error) {
		if r, ok := a.previous(key); ok {
			return r, nil
		}
		a.logger.Info("Index missing, building on demand",
			zap.String("target", key.String()),
			zap.String("namespace", models.NamespaceName(table, field)))
		ft := fieldType
		r := a.builder.BuildFieldIndex(context.WithoutCancel(ctx), table, field, &ft, false)

		// Another process holds the lease and is building; retry later.
		if !errors.Is(r.Err, apperrors.ErrLeaseHeld) {
			a.mu.Lock()
			a.attempted[key] = r
			a.mu.Unlock()
		}
		return r, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*models.BuildResult), true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

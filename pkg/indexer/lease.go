package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
)

// BuildLease coordinates builds of the same namespace across processes.
// Acquire returns apperrors.ErrLeaseHeld when another holder has it.
type BuildLease interface {
	Acquire(ctx context.Context, namespace string) (release func(), err error)
}

// NoopLease grants every request. Rebuilds stay idempotent without it.
type NoopLease struct{}

func (NoopLease) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// releaseScript deletes the lease only if the caller still owns it, so a
// holder whose lease expired cannot drop a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const leaseKeyPrefix = "fuzzy-index:build-lease:"

// RedisLease is a SET NX PX lease with a per-acquire token.
type RedisLease struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLease creates a lease on client. ttl bounds how long a crashed
// holder blocks others.
func NewRedisLease(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLease{
		client: client,
		ttl:    ttl,
		logger: logger.Named("build-lease"),
	}
}

func (l *RedisLease) Acquire(ctx context.Context, namespace string) (func(), error) {
	key := leaseKeyPrefix + namespace
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire build lease %s: %w", namespace, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrLeaseHeld, namespace)
	}

	l.logger.Debug("Acquired build lease", zap.String("namespace", namespace), zap.Duration("ttl", l.ttl))
	return func() {
		// Release must run even when the build context was cancelled.
		if err := releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release build lease", zap.String("namespace", namespace), zap.Error(err))
		}
	}, nil
}

// Package retry retries store calls that fail for transient reasons.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, default 0.1 for +/-10% jitter
	MaxSameErrorType int     // After N consecutive same-type errors, treat as permanent (default: 5)
}

// DefaultConfig returns defaults for store operations:
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// backoff tracks the wait before the next attempt.
type backoff struct {
	cfg   *Config
	delay time.Duration
}

// wait sleeps for the current delay, then grows it. It returns ctx.Err()
// if ctx ends first.
func (b *backoff) wait(ctx context.Context) error {
	d := b.delay
	if f := b.cfg.JitterFactor; f > 0 {
		d += time.Duration(float64(d) * f * (rand.Float64()*2 - 1))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	mult := b.cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	b.delay = time.Duration(float64(b.delay) * mult)
	if b.cfg.MaxDelay > 0 && b.delay > b.cfg.MaxDelay {
		b.delay = b.cfg.MaxDelay
	}
	return nil
}

// RetryableError is implemented by errors that declare their own retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

// retryablePgCodes maps retryable SQLSTATE codes to an error class.
var retryablePgCodes = map[string]string{
	"40001": "serialization",
	"40P01": "deadlock",
	"53300": "too_many_connections",
	"55P03": "lock_not_available",
	"57P01": "admin_shutdown",
	"57P03": "cannot_connect_now",
	"08000": "connection",
	"08003": "connection",
	"08006": "connection",
}

// messageClasses maps message fragments of drivers that carry no code
// (network errors, SQLite) to an error class. Order matters: the first
// match names the class.
var messageClasses = []struct {
	fragment string
	class    string
}{
	{"connection refused", "connection"},
	{"connection reset", "connection"},
	{"conn closed", "connection"},
	{"unexpected eof", "connection"},
	{"no such host", "connection"},
	{"network is unreachable", "connection"},
	{"too many connections", "too_many_connections"},
	{"broken pipe", "broken_pipe"},
	{"i/o timeout", "timeout"},
	{"connection timed out", "timeout"},
	{"temporary failure", "timeout"},
	{"deadlock", "deadlock"},
	{"database is locked", "locked"},
	{"database table is locked", "locked"},
	{"sqlite_busy", "locked"},
}

// transientClass returns the class of a transient error, or "" for a
// permanent one. Context errors are permanent: the caller gave up.
func transientClass(err error) string {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ""
	}

	var r RetryableError
	if errors.As(err, &r) {
		if r.IsRetryable() {
			return "declared"
		}
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePgCodes[pgErr.Code]
	}

	msg := strings.ToLower(err.Error())
	for _, mc := range messageClasses {
		if strings.Contains(msg, mc.fragment) {
			return mc.class
		}
	}
	return ""
}

// IsRetryable determines if an error is transient and worth retrying.
// Checked in order: RetryableError, *pgconn.PgError code, then known
// message fragments.
func IsRetryable(err error) bool {
	return transientClass(err) != ""
}

// DoIfRetryable only retries if the error is transient.
// Permanent errors (bad SQL, missing relation) return immediately.
// After MaxSameErrorType consecutive failures of the same class, escalates to permanent failure.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoIfRetryableWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoIfRetryableWithResult is DoIfRetryable for functions returning a value.
func DoIfRetryableWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zero T
	b := &backoff{cfg: cfg, delay: cfg.InitialDelay}
	var (
		lastClass string
		streak    int
	)

	for attempt := 0; ; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}

		class := transientClass(err)
		if class == "" {
			return zero, err
		}
		if class == lastClass {
			streak++
		} else {
			lastClass, streak = class, 1
		}
		if cfg.MaxSameErrorType > 0 && streak >= cfg.MaxSameErrorType {
			return zero, fmt.Errorf("repeated error (%d times, type=%s): %w", streak, class, err)
		}
		if attempt >= cfg.MaxRetries {
			return zero, fmt.Errorf("after %d attempts: %w", attempt+1, err)
		}

		if werr := b.wait(ctx); werr != nil {
			return zero, werr
		}
	}
}

package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rentflow/internal/domain"

	"github.com/rs/zerolog"
)

const recheckInterval = time.Minute

// FailoverLimiter uses primary until it errors, then serves from fallback and
// retries primary once recheckInterval has passed.
type FailoverLimiter struct {
	primary  domain.Limiter
	fallback domain.Limiter
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLimiter(primary, fallback domain.Limiter, logger *zerolog.Logger) *FailoverLimiter {
	return &FailoverLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverLimiter) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > recheckInterval
}

func (r *FailoverLimiter) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary limiter failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverLimiter) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary limiter recovered")
	}
}

func (r *FailoverLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}

func (r *FailoverLimiter) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.AcquireLease(ctx, key, owner, ttl)
		if err == nil {
			r.markUp()
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.AcquireLease(ctx, key, owner, ttl)
}

// ReleaseLease releases on both sides; the lease may have been taken on either.
func (r *FailoverLimiter) ReleaseLease(ctx context.Context, key, owner string) error {
	if err := r.primary.ReleaseLease(ctx, key, owner); err != nil {
		r.markDown(err)
	}
	return r.fallback.ReleaseLease(ctx, key, owner)
}

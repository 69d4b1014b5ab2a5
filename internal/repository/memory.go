package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process Limiter used without Redis and as the failover target.
type MemoryLimiter struct {
	mu         sync.Mutex
	rateLimits map[string]*rateLimitEntry
	leases     map[string]leaseEntry
	now        func() time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

type leaseEntry struct {
	owner     string
	expiresAt time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		rateLimits: make(map[string]*rateLimitEntry),
		leases:     make(map[string]leaseEntry),
		now:        time.Now,
	}
}

func (r *MemoryLimiter) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}

func (r *MemoryLimiter) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if held, ok := r.leases[key]; ok && now.Before(held.expiresAt) {
		return false, nil
	}
	r.leases[key] = leaseEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemoryLimiter) ReleaseLease(_ context.Context, key, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.leases[key]; ok && held.owner == owner {
		delete(r.leases, key)
	}
	return nil
}

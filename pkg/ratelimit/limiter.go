// Package ratelimit bounds agent mutation throughput: an in-process
// per-(agent,endpoint) limiter backed by golang.org/x/time/rate, and
// an optional Redis-backed distributed limiter for the service-wide
// day-granularity soft cap (pkg/ratelimit/limiter_redis.go).
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy bounds one actor's throughput for one action class: RPM
// tokens refilled per minute, up to Burst tokens banked.
type Policy struct {
	RPM   int
	Burst int
}

// Store abstracts the limiter backend so the HTTP layer and the
// action-log soft-cap check can share one interface regardless of
// whether buckets live in-process or in Redis.
type Store interface {
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

// InMemoryStore keeps one golang.org/x/time/rate.Limiter per actor.
// This is the per-process path used for per-(agent,endpoint)
// limiting; Redis is reserved for the cross-process soft cap
// (limiter_redis.go) since the session engine and HTTP surface run in
// one process.
type InMemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{limiters: make(map[string]*rate.Limiter)}
}

func (s *InMemoryStore) Allow(_ context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[actorID]
	if !ok {
		perSecond := float64(policy.RPM) / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		l = rate.NewLimiter(rate.Limit(perSecond), policy.Burst)
		s.limiters[actorID] = l
	}
	return l.AllowN(nowFunc(), cost), nil
}

// nowFunc is a seam for deterministic tests; production always uses
// wall-clock time.
var nowFunc = time.Now

// Evaluate is the call-site convenience wrapper: fails closed (denies)
// when store is nil, since an unconfigured limiter must never silently
// let every request through.
func Evaluate(ctx context.Context, store Store, actorID string, policy Policy) error {
	if store == nil {
		return fmt.Errorf("ratelimit: no store configured")
	}
	allowed, err := store.Allow(ctx, actorID, policy, 1)
	if err != nil {
		return fmt.Errorf("ratelimit: check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("ratelimit: exceeded for %s", actorID)
	}
	return nil
}

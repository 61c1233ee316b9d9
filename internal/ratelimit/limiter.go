// Package ratelimit enforces per-identity request budgets over fixed
// windows. Billing endpoints, card operations, and webhook ingress each get
// their own tier; counters live in the shared TTL store so limits hold
// across instances when backed by Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/kv"
)

// ErrLimited is returned when an identity has exhausted its window budget.
var ErrLimited = errors.New("ratelimit: limit exceeded")

// Decision reports the outcome of one budget check, mirrored into the
// RateLimit-* response headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the time until the current window ends.
	Reset time.Duration
}

// Limiter is a fixed-window counter for one tier.
type Limiter struct {
	tier    string
	store   kv.Store
	limit   int
	window  time.Duration
	nowFunc func() time.Time
}

// New creates a limiter allowing limit requests per window for each identity.
func New(tier string, store kv.Store, limit int, window time.Duration) *Limiter {
	return &Limiter{
		tier:    tier,
		store:   store,
		limit:   limit,
		window:  window,
		nowFunc: time.Now,
	}
}

// Tier returns the tier name.
func (l *Limiter) Tier() string { return l.tier }

// Allow consumes one unit of the identity's budget and reports the decision.
// The counter increments before business logic runs, so failed attempts
// still consume quota. Returns ErrLimited alongside the decision when the
// budget is exhausted.
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	now := l.nowFunc()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("rate:%s:%s:%d", l.tier, identity, windowStart.Unix())

	count, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: l.limit - int(count),
		Reset:     windowStart.Add(l.window).Sub(now),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !decision.Allowed {
		return decision, ErrLimited
	}
	return decision, nil
}

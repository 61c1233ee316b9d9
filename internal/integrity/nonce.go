package integrity

import (
	"context"
	"time"

	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/kv"
)

const noncePrefix = "nonce"

// NonceGuard tracks recently-seen nonces to block replayed requests.
// A nonce is accepted at most once within the replay window; the backing
// store's TTL bounds the set over time. Accept/reject is atomic: the
// store's SetNX decides, so two concurrent observers of the same nonce
// can never both be accepted.
type NonceGuard struct {
	store   kv.Store
	window  time.Duration
	nowFunc func() time.Time
}

// NewNonceGuard creates a guard retaining nonces for the given window.
func NewNonceGuard(store kv.Store, window time.Duration) *NonceGuard {
	return &NonceGuard{
		store:   store,
		window:  window,
		nowFunc: time.Now,
	}
}

// Observe records the nonce as consumed and reports whether it was accepted.
// A nonce whose timestamp falls outside the replay window is rejected
// without being recorded.
func (g *NonceGuard) Observe(ctx context.Context, nonce string, timestamp time.Time) (bool, error) {
	skew := g.nowFunc().Sub(timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew >= g.window {
		return false, nil
	}
	// A future-dated timestamp stays verifiable until it ages out of the
	// window, which can be up to twice the window from now. The record
	// must outlive the timestamp, never the other way around.
	ttl := timestamp.Add(g.window).Sub(g.nowFunc())
	if ttl < g.window {
		ttl = g.window
	}
	return g.store.SetNX(ctx, noncePrefix+":"+nonce, timestamp.UTC().Format(time.RFC3339), ttl)
}

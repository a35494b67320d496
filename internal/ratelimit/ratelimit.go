// Package ratelimit implements the per-client token bucket that guards the
// pipeline's rate-limiting stage.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter enforces a per-client_id token bucket. Buckets are created
// lazily on first use and never evicted — client_id cardinality is
// bounded by the set of devices actually connected to the broker, not by
// untrusted input, so an unbounded map is acceptable here.
type Limiter struct {
	ratePerSec float64
	window     float64 // seconds; refill period, see config.RateLimitingConfig.WindowSize

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New returns a Limiter allowing ratePerSec events per windowSeconds for
// each distinct client_id, with burst equal to the per-window allowance.
func New(ratePerSec float64, windowSeconds float64) *Limiter {
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	return &Limiter{
		ratePerSec: ratePerSec,
		window:     windowSeconds,
		buckets:    make(map[string]*rate.Limiter),
	}
}

// Allow reports whether clientID may send one more message right now,
// consuming a token if so.
func (l *Limiter) Allow(clientID string) bool {
	return l.bucketFor(clientID).Allow()
}

func (l *Limiter) bucketFor(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[clientID]; ok {
		return b
	}
	perSecond := l.ratePerSec / l.window
	burst := int(l.ratePerSec)
	if burst < 1 {
		burst = 1
	}
	b := rate.NewLimiter(rate.Limit(perSecond), burst)
	l.buckets[clientID] = b
	return b
}

// Reset discards the bucket for clientID, so its next message starts with
// a fresh burst allowance. Used when a client reconnects with a new
// session.
func (l *Limiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, clientID)
}

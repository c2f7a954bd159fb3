// Package ratelimit gates outbound venue calls with a per-venue token bucket.
// Every REST call a connector or data engine makes against a live venue passes
// through the venue's bucket; the sim venue runs unlimited.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucket admits calls at a sustained calls-per-second rate with a burst
// allowance. A nil *TokenBucket admits everything, so callers can thread one
// through unconditionally and only construct it for venues that need gating.
type TokenBucket struct {
	lim *rate.Limiter
}

// NewTokenBucket builds a bucket from (calls_per_second, burst_size). A
// non-positive rate means unlimited; burst is floored at 1.
func NewTokenBucket(callsPerSecond float64, burst int) *TokenBucket {
	if callsPerSecond <= 0 {
		return &TokenBucket{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{lim: rate.NewLimiter(rate.Limit(callsPerSecond), burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (b *TokenBucket) Wait(ctx context.Context) error {
	if b == nil || b.lim == nil {
		return nil
	}
	return b.lim.Wait(ctx)
}

// Allow reports whether a call may proceed immediately, consuming a token if so.
func (b *TokenBucket) Allow() bool {
	if b == nil || b.lim == nil {
		return true
	}
	return b.lim.Allow()
}

// Registry hands out one shared TokenBucket per venue name, all configured with
// the same rate/burst pair.
type Registry struct {
	callsPerSecond float64
	burst          int

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewRegistry builds a registry whose buckets admit callsPerSecond with burst.
func NewRegistry(callsPerSecond float64, burst int) *Registry {
	return &Registry{callsPerSecond: callsPerSecond, burst: burst, buckets: make(map[string]*TokenBucket)}
}

// Venue returns the bucket for name, creating it on first use. Every caller
// naming the same venue shares one bucket, so a venue's limit applies across
// the connector and the data engine together.
func (r *Registry) Venue(name string) *TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[name]
	if !ok {
		b = NewTokenBucket(r.callsPerSecond, r.burst)
		r.buckets[name] = b
	}
	return b
}

// Package ratelimit provides a keyed token-bucket limiter used for per-email
// challenge throttling and per-client request throttling.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Keyed maintains one token bucket per key. Idle buckets are swept after ttl.
type Keyed struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewKeyed returns a keyed limiter allowing limit events per second with the
// given burst per key.
func NewKeyed(limit rate.Limit, burst int) *Keyed {
	k := &Keyed{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
	go k.sweep()
	return k
}

// PerMinute is a convenience constructor for limits expressed per minute.
func PerMinute(n, burst int) *Keyed {
	return NewKeyed(rate.Limit(float64(n)/60.0), burst)
}

// Allow reports whether an event for key may proceed now.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.seen = k.now()
	return b.lim.Allow()
}

func (k *Keyed) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		k.mu.Lock()
		cutoff := k.now().Add(-k.ttl)
		for key, b := range k.buckets {
			if b.seen.Before(cutoff) {
				delete(k.buckets, key)
			}
		}
		k.mu.Unlock()
	}
}

package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a keyed token bucket. Buckets are created on first use with the
// capacity and refill rate the caller passes, so different alert classes can
// share one limiter with their own budgets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket)}
}

// Allow consumes one token for the key if available.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	return l.AllowAt(time.Now(), key, capacity, refillPerSec)
}

// AllowAt is Allow with an explicit clock.
func (l *Limiter) AllowAt(now time.Time, key string, capacity, refillPerSec float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

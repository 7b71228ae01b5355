package util

import (
	"math/rand"
	"time"
)

// Backoff returns the exponential delay for a zero-based attempt number,
// doubling from base and capped at max, with up to 25% random jitter added to
// spread out retry storms.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if max > 0 && d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

package cache

import "time"

// BytesCache is a minimal cache API storing raw bytes with TTL. It fronts
// REST payloads such as kline history, where re-encoding through a typed
// cache would be wasted work.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}

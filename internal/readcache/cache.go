package readcache

import "time"

// Cache is the read-side total cache. Implementations must be safe for
// concurrent use by the HTTP handlers.
type Cache interface {
	Get(key string) (uint64, bool)
	Put(key string, total uint64, ttl time.Duration)
	Invalidate(key string)
	InvalidateAll()
}

// Noop never hits. Wiring it in makes cache-less environments behave like
// every read is a miss, with no special-casing at call sites.
type Noop struct{}

func (Noop) Get(string) (uint64, bool) { return 0, false }

func (Noop) Put(string, uint64, time.Duration) {}

func (Noop) Invalidate(string) {}

func (Noop) InvalidateAll() {}

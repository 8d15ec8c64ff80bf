package objectstore

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/thymos-ai/thymos/errs"
)

// RistrettoCache is an in-memory, bounded read-through object cache. It
// satisfies Backend so it can be installed via Manager.SetCache; it is
// intentionally lossy (admission/eviction may drop entries) since it is
// always rebuildable from the durable backend behind it, matching the
// "object cache... rebuildable from disk at startup" global-state note.
type RistrettoCache struct {
	c *ristretto.Cache
}

// NewRistrettoCache builds a cache sized for roughly maxItems entries.
func NewRistrettoCache(maxItems int64) (*RistrettoCache, error) {
	if maxItems <= 0 {
		maxItems = 100_000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems * 1024, // rough average object size estimate
		BufferItems: 64,
	})
	if err != nil {
		return nil, errs.E("objectstore.NewRistrettoCache", errs.Resource, "construct ristretto cache", err)
	}
	return &RistrettoCache{c: c}, nil
}

func (r *RistrettoCache) Type() string { return "ristretto-cache" }

func (r *RistrettoCache) IsAvailable(ctx context.Context) bool { return r.c != nil }

func (r *RistrettoCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, errs.E("objectstore.RistrettoCache.Get", errs.NotFound, "cache miss for "+key)
	}
	return v.([]byte), nil
}

func (r *RistrettoCache) Put(ctx context.Context, key string, data []byte) error {
	r.c.Set(key, data, int64(len(data)))
	return nil
}

func (r *RistrettoCache) Delete(ctx context.Context, key string) error {
	r.c.Del(key)
	return nil
}

func (r *RistrettoCache) Has(ctx context.Context, key string) (bool, error) {
	_, ok := r.c.Get(key)
	return ok, nil
}

func (r *RistrettoCache) List(ctx context.Context) ([]string, error) {
	// Ristretto does not expose enumeration; callers needing List must
	// consult the durable backend. The cache is a latency optimization
	// only, never a system of record.
	return nil, nil
}

var _ Backend = (*RistrettoCache)(nil)

package persist

import (
	"context"
	"sync"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/metrics"
)

// Cache memoizes templates per metadata path. Returned stores are shared:
// callers must Clone before modifying them.
type Cache struct {
	Persister *Persister
	Metrics   *metrics.Metrics

	stores sync.Map // metadata path -> *zarr.Store
}

// Read returns the cached template for metadataPath, reading it on first use.
// Concurrent first reads of one path may both hit storage; the first stored
// value wins. Failures are not cached.
func (c *Cache) Read(ctx context.Context, metadataPath string) (*zarr.Store, error) {
	if v, ok := c.stores.Load(metadataPath); ok {
		c.Metrics.CacheLookup(true)
		return v.(*zarr.Store), nil
	}
	c.Metrics.CacheLookup(false)
	s, err := c.Persister.Read(ctx, metadataPath)
	if err != nil {
		return nil, err
	}
	v, _ := c.stores.LoadOrStore(metadataPath, s)
	return v.(*zarr.Store), nil
}

// Evict drops metadataPath so the next Read goes to storage.
func (c *Cache) Evict(metadataPath string) {
	c.stores.Delete(metadataPath)
}

// Purge drops every cached template.
func (c *Cache) Purge() {
	c.stores.Range(func(k, _ any) bool {
		c.stores.Delete(k)
		return true
	})
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	n := 0
	c.stores.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

package corpus

import (
	gocache "github.com/patrickmn/go-cache"

	"github.com/hupe1980/threadstream/embedding"
)

// Cache stores computed corpora keyed by corpus identity. Entries are written
// at most once per key and then frozen; implementations must be safe for
// concurrent readers.
type Cache interface {
	Get(key string) ([]embedding.Record, bool)
	Set(key string, records []embedding.Record)
}

// MemoryCache is a process-local Cache. Entries never expire since a corpus
// is immutable once computed; long running processes that cycle many corpora
// should supply their own bounded Cache implementation.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache constructs a MemoryCache whose entries never expire.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the cached corpus for key, if present.
func (m *MemoryCache) Get(key string) ([]embedding.Record, bool) {
	if x, found := m.cache.Get(key); found {
		return x.([]embedding.Record), true
	}
	return nil, false
}

// Set stores the corpus under key.
func (m *MemoryCache) Set(key string, records []embedding.Record) {
	m.cache.Set(key, records, gocache.DefaultExpiration)
}

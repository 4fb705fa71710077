package embedding

import (
	"container/list"
	"context"
	"sync"

	"github.com/hyperjump/utsushi/internal/fileid"
)

// EmbeddingCache is an LRU cache for embeddings keyed by content hash.
type EmbeddingCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
	hits     uint64
	misses   uint64
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).value, true
	}
	c.misses++
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Stats returns the entry count and hit/miss counters.
func (c *EmbeddingCache) Stats() (size int, hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), c.hits, c.misses
}

// CachedEmbedder memoizes an Embedder by image content hash.
type CachedEmbedder struct {
	Embedder
	cache *EmbeddingCache
}

// WithCache wraps e with an LRU cache of the given capacity. A non-positive capacity returns e unchanged.
func WithCache(e Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return e
	}
	return &CachedEmbedder{Embedder: e, cache: NewEmbeddingCache(capacity)}
}

// Embed returns the cached embedding or computes and stores it. Callers get their own copy.
func (c *CachedEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	key := fileid.ContentHash(image)
	if cached, ok := c.cache.Get(key); ok {
		return append([]float32(nil), cached...), nil
	}
	emb, err := c.Embedder.Embed(ctx, image)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]float32(nil), emb...))
	return emb, nil
}

// EmbedBatch calls Embed for each image.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, images [][]byte) ([][]float32, error) {
	return embedEach(ctx, c, images)
}

// Cache exposes the underlying cache.
func (c *CachedEmbedder) Cache() *EmbeddingCache {
	return c.cache
}

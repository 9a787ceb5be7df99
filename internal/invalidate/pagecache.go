package invalidate

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultPageCacheSize = 256
	defaultPageCacheTTL  = time.Minute
)

// Page is a rendered response body with its content type.
type Page struct {
	ContentType string
	Body        []byte
}

// PageCache holds rendered public pages keyed by path. Entries expire after
// the TTL even if no invalidation arrives.
type PageCache struct {
	lru *expirable.LRU[string, Page]
}

// NewPageCache falls back to defaults for non-positive arguments.
func NewPageCache(size int, ttl time.Duration) *PageCache {
	if size <= 0 {
		size = defaultPageCacheSize
	}
	if ttl <= 0 {
		ttl = defaultPageCacheTTL
	}
	return &PageCache{lru: expirable.NewLRU[string, Page](size, nil, ttl)}
}

func (c *PageCache) Get(path string) (Page, bool) { return c.lru.Get(path) }

func (c *PageCache) Set(path string, p Page) { c.lru.Add(path, p) }

func (c *PageCache) Len() int { return c.lru.Len() }

// Invalidate evicts path.
func (c *PageCache) Invalidate(_ context.Context, path string) error {
	c.lru.Remove(path)
	return nil
}

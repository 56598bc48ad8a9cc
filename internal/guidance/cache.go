package guidance

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"designgate/internal/domain"
)

const DefaultCacheSize = 256

// Cache memoizes Resolve over a fixed pool. The pool is copied at
// construction so later changes by the caller cannot make cached results
// stale. Safe for concurrent use.
type Cache struct {
	pool    []domain.GuidanceSource
	entries *lru.Cache[cacheKey, []domain.GuidanceSource]
}

type cacheKey struct {
	questionKey   string
	domainContext string
}

// NewCache builds a cache over pool holding at most size entries. A size of
// zero or less uses DefaultCacheSize.
func NewCache(pool []domain.GuidanceSource, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[cacheKey, []domain.GuidanceSource](size)
	if err != nil {
		return nil, fmt.Errorf("guidance cache: %w", err)
	}
	snapshot := make([]domain.GuidanceSource, len(pool))
	copy(snapshot, pool)
	return &Cache{pool: snapshot, entries: entries}, nil
}

// Resolve returns the same result as the package-level Resolve over the
// cached pool.
func (c *Cache) Resolve(questionKey, domainContext string) []domain.GuidanceSource {
	k := cacheKey{questionKey: questionKey, domainContext: domainContext}
	if hit, ok := c.entries.Get(k); ok {
		return clone(hit)
	}
	res := Resolve(questionKey, domainContext, c.pool)
	c.entries.Add(k, res)
	return clone(res)
}

// Annotate is Annotate over the cached pool.
func (c *Cache) Annotate(questions []domain.Question, domainContext string) []domain.Question {
	return annotateWith(questions, func(key string) []domain.GuidanceSource {
		return c.Resolve(key, domainContext)
	})
}

// Len reports the number of memoized lookups.
func (c *Cache) Len() int { return c.entries.Len() }

// PoolSize reports the number of sources in the cached pool.
func (c *Cache) PoolSize() int { return len(c.pool) }

func clone(in []domain.GuidanceSource) []domain.GuidanceSource {
	out := make([]domain.GuidanceSource, len(in))
	copy(out, in)
	return out
}

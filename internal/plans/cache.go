package plans

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 5 * time.Minute
)

// CachedRepository fronts a Repository with an expiring LRU keyed by plan id.
// Missing plans are not cached.
type CachedRepository struct {
	next  Repository
	cache *expirable.LRU[string, models.Plan]
}

// NewCachedRepository wraps next. Non-positive size or ttl fall back to 256 entries and 5 minutes.
func NewCachedRepository(next Repository, size int, ttl time.Duration) *CachedRepository {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedRepository{
		next:  next,
		cache: expirable.NewLRU[string, models.Plan](size, nil, ttl),
	}
}

// FindByID returns a copy of the cached plan, loading it on a miss.
func (c *CachedRepository) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	if plan, ok := c.cache.Get(id); ok {
		return &plan, nil
	}
	plan, err := c.next.FindByID(ctx, id)
	if err != nil || plan == nil {
		return plan, err
	}
	c.cache.Add(id, *plan)
	out := *plan
	return &out, nil
}

// Invalidate drops one plan from the cache.
func (c *CachedRepository) Invalidate(id string) {
	c.cache.Remove(id)
}

// Len reports the number of cached plans.
func (c *CachedRepository) Len() int {
	return c.cache.Len()
}

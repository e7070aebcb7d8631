package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ghostethereum/ghostethereum/internal/cache"
	"github.com/ghostethereum/ghostethereum/internal/domain/model"
)

const (
	ownerCacheCapacity = 512
	ownerCacheTTL      = 5 * time.Minute
)

// CachedOwnerProfiles wraps an OwnerProfileRepository with a TTL LRU.
// Profiles change rarely relative to removal events, and the TTL bounds how
// long an updated admin key can be served stale. Misses are not cached: a
// vendor may register its profile after its first on-chain removal.
type CachedOwnerProfiles struct {
	inner OwnerProfileRepository
	lru   *cache.LRU[uuid.UUID, model.OwnerProfile]
}

func NewCachedOwnerProfiles(inner OwnerProfileRepository) *CachedOwnerProfiles {
	return &CachedOwnerProfiles{
		inner: inner,
		lru:   cache.NewLRU[uuid.UUID, model.OwnerProfile](ownerCacheCapacity, ownerCacheTTL),
	}
}

func (c *CachedOwnerProfiles) FindByID(ctx context.Context, id uuid.UUID) (*model.OwnerProfile, error) {
	if p, ok := c.lru.Get(id); ok {
		cp := p
		return &cp, nil
	}

	p, err := c.inner.FindByID(ctx, id)
	if err != nil || p == nil {
		return p, err
	}
	c.lru.Set(id, *p)
	return p, nil
}

// Invalidate drops a cached profile, forcing the next lookup to hit the
// database.
func (c *CachedOwnerProfiles) Invalidate(id uuid.UUID) {
	c.lru.Delete(id)
}

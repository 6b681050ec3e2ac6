package decision

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"authserver.org/internal/auth"
)

// IdentityResolver returns the current account flags for a token subject.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID string) (auth.Identity, error)
}

// UserGetter is the slice of the tenant store the resolver needs.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (auth.User, error)
}

// StoreResolver reads identity flags straight from the tenant store.
type StoreResolver struct {
	Users UserGetter
}

func (r StoreResolver) Resolve(ctx context.Context, userID string) (auth.Identity, error) {
	if r.Users == nil {
		return auth.Identity{}, errors.New("decision: user store is required")
	}
	u, err := r.Users.GetUser(ctx, userID)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.IdentityOf(u), nil
}

// CachedResolver memoizes successful lookups for a bounded time. Writers
// that call Invalidate (see auth.WithUserChangeHook) are seen at once; any
// other change to an account is honored within ttl. Failed lookups are never
// cached.
type CachedResolver struct {
	next  IdentityResolver
	cache *lru.LRU[string, auth.Identity]
}

func NewCachedResolver(next IdentityResolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = 1024
	}
	return &CachedResolver{
		next:  next,
		cache: lru.NewLRU[string, auth.Identity](size, nil, ttl),
	}
}

func (c *CachedResolver) Resolve(ctx context.Context, userID string) (auth.Identity, error) {
	if id, ok := c.cache.Get(userID); ok {
		return id, nil
	}
	id, err := c.next.Resolve(ctx, userID)
	if err != nil {
		return auth.Identity{}, err
	}
	c.cache.Add(userID, id)
	return id, nil
}

// Invalidate drops a cached identity, e.g. after the account was changed.
func (c *CachedResolver) Invalidate(userID string) {
	c.cache.Remove(userID)
}

func (c *CachedResolver) Len() int { return c.cache.Len() }

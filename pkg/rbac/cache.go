package rbac

import (
	"context"
	"time"
)

// DefaultCacheTTL is how long a resolved role or permission list stays cached
const DefaultCacheTTL = 10 * time.Minute

// CacheKind separates the two cached views of a user
type CacheKind string

const (
	CacheRoles       CacheKind = "roles"
	CachePermissions CacheKind = "perms"
)

// Cache stores resolved role names and permission strings per user.
//
// Every user has a generation that moves forward on each invalidation. The
// resolver reads the generation before it goes to the store and hands it back
// to Set, which drops the write when the generation has moved in between. A
// value computed from data older than the last invalidation can therefore
// never be stored.
type Cache interface {
	Get(ctx context.Context, kind CacheKind, userID string) ([]string, bool, error)
	Generation(ctx context.Context, userID string) (uint64, error)
	Set(ctx context.Context, kind CacheKind, userID string, values []string, gen uint64) error
	// Invalidate drops both cached views of every given user
	Invalidate(ctx context.Context, userIDs ...string) error
	Purge(ctx context.Context) error
}

// Clock returns the current time
type Clock func() time.Time

// NopCache never stores anything
type NopCache struct{}

func (NopCache) Get(context.Context, CacheKind, string) ([]string, bool, error) {
	return nil, false, nil
}

func (NopCache) Generation(context.Context, string) (uint64, error) { return 0, nil }

func (NopCache) Set(context.Context, CacheKind, string, []string, uint64) error { return nil }

func (NopCache) Invalidate(context.Context, ...string) error { return nil }

func (NopCache) Purge(context.Context) error { return nil }

var _ Cache = NopCache{}

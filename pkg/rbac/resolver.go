package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/accessd/pkg/observability"
	"github.com/platinummonkey/accessd/pkg/permissions"
)

// flightTimeout bounds a shared store load, which outlives any single caller
const flightTimeout = 30 * time.Second

// Resolver computes the effective roles and permissions of a user and keeps
// them in a Cache.
type Resolver struct {
	roles    *Store
	grants   *GrantStore
	registry *permissions.Registry
	cache    Cache
	metrics  *observability.Metrics
	logger   *observability.Logger
	flights  singleflight.Group
}

// NewResolver creates a resolver. A nil cache disables caching.
func NewResolver(roles *Store, grants *GrantStore, registry *permissions.Registry, cache Cache, metrics *observability.Metrics, logger *observability.Logger) *Resolver {
	if cache == nil {
		cache = NopCache{}
	}
	if registry == nil {
		registry = permissions.Default()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Resolver{
		roles:    roles,
		grants:   grants,
		registry: registry,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
}

// Registry returns the permission registry used for filtering
func (r *Resolver) Registry() *permissions.Registry {
	return r.registry
}

// Cache returns the cache the resolver reads through
func (r *Resolver) Cache() Cache {
	return r.cache
}

// PermissionsForUser returns the sorted, de-duplicated union of the user's
// role permissions and direct grants as perm[@scope] strings. Entries naming
// a permission outside the registry are dropped.
func (r *Resolver) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	return r.readThrough(ctx, CachePermissions, userID, r.loadPermissions)
}

// RolesForUser returns the names of the roles a user holds
func (r *Resolver) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	return r.readThrough(ctx, CacheRoles, userID, r.roles.RoleNamesForUser)
}

// Invalidate drops cached state for the given users
func (r *Resolver) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := r.cache.Invalidate(ctx, userIDs...); err != nil {
		return storeErr("invalidate cache", err)
	}
	r.metrics.RecordInvalidations(len(userIDs))
	return nil
}

func (r *Resolver) readThrough(ctx context.Context, kind CacheKind, userID string, load func(context.Context, string) ([]string, error)) ([]string, error) {
	if values, ok, err := r.cache.Get(ctx, kind, userID); err != nil {
		return nil, storeErr("read cache", err)
	} else if ok {
		r.metrics.RecordCacheHit(string(kind))
		return values, nil
	}
	r.metrics.RecordCacheMiss(string(kind))

	gen, err := r.cache.Generation(ctx, userID)
	if err != nil {
		return nil, storeErr("read cache generation", err)
	}

	// callers only share a flight that started at the same generation
	key := fmt.Sprintf("%s|%s|%d", kind, userID, gen)
	ch := r.flights.DoChan(key, func() (any, error) {
		// the flight is shared, so the first caller's cancellation must not end it
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		values, err := load(loadCtx, userID)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(loadCtx, kind, userID, values, gen); err != nil {
			r.logger.WithError(err).WithField("user_id", userID).Warn("failed to populate permission cache")
		}
		return values, nil
	})

	select {
	case <-ctx.Done():
		return nil, storeErr("resolve "+string(kind), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyStrings(res.Val.([]string)), nil
	}
}

func (r *Resolver) loadPermissions(ctx context.Context, userID string) ([]string, error) {
	rolePerms, err := r.roles.RolePermissionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	direct, err := r.grants.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rolePerms)+len(direct))
	add := func(raw string) {
		g, err := permissions.Parse(raw)
		if err != nil || !r.registry.IsPermission(string(g.Permission)) {
			return
		}
		seen[g.String()] = struct{}{}
	}

	for _, p := range rolePerms {
		add(p)
	}
	for _, g := range direct {
		add(permissions.Format(permissions.Permission(g.Permission), g.Scope))
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

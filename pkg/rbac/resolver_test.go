package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_PermissionsForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	editor := f.role(t, "editor", 500, "news:update", "events:update@group:fotball")
	writer := f.role(t, "writer", 600, "news:update", "news:create")
	f.assign(t, "alice", editor.ID)
	f.assign(t, "alice", writer.ID)
	f.grant(t, "alice", "news:update", "news-42")
	f.grant(t, "alice", "news:create", "")

	perms, err := f.resolver.PermissionsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"events:update@group:fotball",
		"news:create",
		"news:update",
		"news:update@news-42",
	}, perms)
}

func TestResolver_UnknownUserIsEmpty(t *testing.T) {
	f := newFixture(t)

	perms, err := f.resolver.PermissionsForUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.NotNil(t, perms)
	assert.Empty(t, perms)

	roles, err := f.resolver.RolesForUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.NotNil(t, roles)
	assert.Empty(t, roles)
}

func TestResolver_DropsUnregisteredPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role := f.role(t, "legacy", 500, "news:update")
	f.assign(t, "bob", role.ID)

	// rows written before a permission was retired from the catalog
	_, err := f.db.Exec(`INSERT INTO role_permissions (role_id, permission) VALUES ($1, 'wiki:edit')`, role.ID)
	require.NoError(t, err)
	_, err = f.db.Exec(`
		INSERT INTO user_permissions (user_id, permission, scope, created_at, updated_at)
		VALUES ('bob', 'wiki:edit', 'page-1', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	require.NoError(t, err)
	require.NoError(t, f.resolver.Invalidate(ctx, "bob"))

	perms, err := f.resolver.PermissionsForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"news:update"}, perms)
}

func TestResolver_ReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role := f.role(t, "editor", 500, "news:update")
	f.assign(t, "carol", role.ID)

	_, err := f.resolver.PermissionsForUser(ctx, "carol")
	require.NoError(t, err)

	cached, ok, err := f.cache.Get(ctx, CachePermissions, "carol")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"news:update"}, cached)

	// a write behind the service's back is not seen until the entry expires
	_, err = f.db.Exec(`DELETE FROM user_roles WHERE user_id = 'carol'`)
	require.NoError(t, err)

	perms, err := f.resolver.PermissionsForUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"news:update"}, perms)

	f.clock.Advance(DefaultCacheTTL)
	perms, err = f.resolver.PermissionsForUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestResolver_RolesForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.role(t, "board", 10)
	b := f.role(t, "alumni", 900)
	f.assign(t, "dave", a.ID)
	f.assign(t, "dave", b.ID)

	roles, err := f.resolver.RolesForUser(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"alumni", "board"}, roles)
}

func TestResolver_SharedLoadSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	load := func(ctx context.Context, userID string) ([]string, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return []string{"news:update"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.resolver.readThrough(ctxA, CachePermissions, "U", load)
		errA <- err
	}()
	<-started

	type result struct {
		values []string
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		values, err := f.resolver.readThrough(context.Background(), CachePermissions, "U", load)
		resB <- result{values, err}
	}()

	// give B time to join the flight A started
	time.Sleep(20 * time.Millisecond)
	cancelA()

	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, []string{"news:update"}, b.values)

	cached, ok, err := f.cache.Get(context.Background(), CachePermissions, "U")
	require.NoError(t, err)
	assert.True(t, ok, "the shared load still populates the cache")
	assert.Equal(t, []string{"news:update"}, cached)
}

package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessd/pkg/groups"
	"github.com/platinummonkey/accessd/pkg/permissions"
)

// setupTestDB returns an in-memory sqlite database with the full schema plus
// the resource tables used by the ownership checkers.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db, DialectSQLite, nil))

	_, err = db.Exec(`
		CREATE TABLE events (id TEXT PRIMARY KEY, organizer_id TEXT);
		CREATE TABLE fines (id TEXT PRIMARY KEY, user_id TEXT NOT NULL);
		CREATE TABLE jobs (id TEXT PRIMARY KEY, created_by TEXT);
	`)
	require.NoError(t, err)

	return db
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	db       *sql.DB
	store    *Store
	grants   *GrantStore
	groups   *groups.Store
	cache    *MemoryCache
	clock    *fakeClock
	resolver *Resolver
	engine   *Engine
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRegistry(t, nil)
}

func newFixtureWithRegistry(t *testing.T, registry *permissions.Registry) *fixture {
	t.Helper()

	db := setupTestDB(t)
	clock := newFakeClock()
	cache, err := NewMemoryCache(100, time.Minute, clock.Now)
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		store:  NewStore(db),
		grants: NewGrantStore(db),
		groups: groups.NewStore(db),
		cache:  cache,
		clock:  clock,
	}
	f.resolver = NewResolver(f.store, f.grants, registry, cache, nil, nil)
	f.engine = NewEngine(f.resolver, f.store, NewGroupDirectory(f.groups), nil, nil)
	f.service = NewService(f.store, f.grants, f.resolver, nil, nil)
	return f
}

// role creates a role through the service so permissions are validated
func (f *fixture) role(t *testing.T, name string, position int, perms ...string) *Role {
	t.Helper()
	r, err := f.service.CreateRole(context.Background(), "", RoleInput{
		Name:        name,
		Position:    &position,
		Permissions: perms,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) assign(t *testing.T, userID string, roleID int64) {
	t.Helper()
	require.NoError(t, f.service.AssignRoleToUser(context.Background(), "", userID, roleID))
}

func (f *fixture) grant(t *testing.T, userID, permission, scope string) {
	t.Helper()
	_, err := f.service.GrantUserPermission(context.Background(), "", userID, permission, scope)
	require.NoError(t, err)
}

func (f *fixture) group(t *testing.T, slug string, mode groups.PermissionMode) {
	t.Helper()
	require.NoError(t, f.groups.CreateGroup(context.Background(), &groups.Group{
		Slug:           slug,
		Name:           slug,
		PermissionMode: mode,
	}))
}

func groupFixture(slug string) *groups.Group {
	return &groups.Group{Slug: slug, Name: slug, PermissionMode: groups.ModeLeaderOnly}
}

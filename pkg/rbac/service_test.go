package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessd/pkg/permissions"
)

func TestService_CreateRoleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input RoleInput
	}{
		{"missing name", RoleInput{Name: "  "}},
		{"unknown permission", RoleInput{Name: "bad", Permissions: []string{"wiki:edit"}}},
		{"double scope", RoleInput{Name: "bad", Permissions: []string{"events:create@@x"}}},
		{"empty scope", RoleInput{Name: "bad", Permissions: []string{"events:create@"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateRole(ctx, "admin", tt.input)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	roles, err := f.service.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles, "nothing written on validation failure")
}

func TestService_CreateRoleDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, "admin", RoleInput{
		Name:        " editor ",
		Permissions: []string{"news:update", "news:create", "news:update@*", "events:update@group:fotball"},
	})
	require.NoError(t, err)
	assert.Equal(t, "editor", role.Name)
	assert.Equal(t, DefaultRolePosition, role.Position)
	assert.Equal(t, []string{"events:update@group:fotball", "news:create", "news:update"}, role.Permissions)

	zero := 0
	top, err := f.service.CreateRole(ctx, "admin", RoleInput{Name: "owner", Position: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0, top.Position)

	_, err = f.service.CreateRole(ctx, "admin", RoleInput{Name: "editor"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestService_UpdateRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role := f.role(t, "editor", 500, "news:update")
	f.assign(t, "alice", role.ID)

	ok, err := f.engine.HasPermission(ctx, "alice", "news:update")
	require.NoError(t, err)
	require.True(t, ok)

	name := "news-editor"
	perms := []string{"news:delete"}
	updated, err := f.service.UpdateRole(ctx, "admin", role.ID, RoleUpdate{Name: &name, Permissions: &perms})
	require.NoError(t, err)
	assert.Equal(t, "news-editor", updated.Name)
	assert.Equal(t, []string{"news:delete"}, updated.Permissions)

	ok, err = f.engine.HasPermission(ctx, "alice", "news:update")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.engine.UserHasRole(ctx, "alice", "news-editor")
	require.NoError(t, err)
	assert.True(t, ok)

	bad := []string{"news:publish"}
	_, err = f.service.UpdateRole(ctx, "admin", role.ID, RoleUpdate{Permissions: &bad})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.UpdateRole(ctx, "admin", 9999, RoleUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_DeleteRoleInvalidatesHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role := f.role(t, "editor", 500, "news:update")
	f.assign(t, "bob", role.ID)

	ok, err := f.engine.HasPermission(ctx, "bob", "news:update")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.service.DeleteRole(ctx, "admin", role.ID))

	ok, err = f.engine.HasPermission(ctx, "bob", "news:update")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, f.service.DeleteRole(ctx, "admin", role.ID), ErrNotFound)
}

func TestService_AssignAndRemoveRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role := f.role(t, "editor", 500, "news:update")

	ok, err := f.engine.HasPermission(ctx, "carol", "news:update")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.service.AssignRoleToUser(ctx, "admin", "carol", role.ID))
	require.NoError(t, f.service.AssignRoleToUser(ctx, "admin", "carol", role.ID))

	ok, err = f.engine.HasPermission(ctx, "carol", "news:update")
	require.NoError(t, err)
	assert.True(t, ok, "assignment is visible immediately")

	roles, err := f.service.ListUserRoles(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, roles, 1)

	require.NoError(t, f.service.RemoveRoleFromUser(ctx, "admin", "carol", role.ID))
	require.NoError(t, f.service.RemoveRoleFromUser(ctx, "admin", "carol", role.ID))

	ok, err = f.engine.HasPermission(ctx, "carol", "news:update")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, f.service.AssignRoleToUser(ctx, "admin", "carol", 9999), ErrNotFound)
	assert.ErrorIs(t, f.service.AssignRoleToUser(ctx, "admin", "", role.ID), ErrValidation)
}

func TestService_GrantAndRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.service.GrantUserPermission(ctx, "admin", "dave", "news:update", "news-42")
	require.NoError(t, err)
	assert.Equal(t, permissions.Grant{Permission: "news:update", Scope: "news-42"}, g)

	g, err = f.service.GrantUserPermission(ctx, "admin", "dave", "news:create", "")
	require.NoError(t, err)
	assert.True(t, g.IsGlobal())

	ok, err := f.engine.HasScopedPermission(ctx, "dave", "news:update", "news-42")
	require.NoError(t, err)
	assert.True(t, ok)

	grants, err := f.service.ListUserGrants(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	require.NotNil(t, grants[0].GrantedBy)
	assert.Equal(t, "admin", *grants[0].GrantedBy)

	require.NoError(t, f.service.RevokeUserPermission(ctx, "admin", "dave", "news:update", "news-42"))
	require.NoError(t, f.service.RevokeUserPermission(ctx, "admin", "dave", "news:update", "news-42"))

	ok, err = f.engine.HasScopedPermission(ctx, "dave", "news:update", "news-42")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.service.GrantUserPermission(ctx, "admin", "dave", "wiki:edit", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.GrantUserPermission(ctx, "admin", "dave", "news:update", "a@b")
	assert.ErrorIs(t, err, ErrValidation)

	assert.NoError(t, f.service.RevokeUserPermission(ctx, "admin", "dave", "wiki:edit", ""), "unknown permissions revoke as a no-op")
	assert.ErrorIs(t, f.service.RevokeUserPermission(ctx, "admin", "dave", "", ""), ErrValidation)
	assert.ErrorIs(t, f.service.RevokeUserPermission(ctx, "admin", "dave", "news:update", "a@b"), ErrValidation)
}

func TestService_RevokeRetiredPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// granted before wiki:edit was retired from the catalog
	_, err := f.db.Exec(`
		INSERT INTO user_permissions (user_id, permission, scope, created_at, updated_at)
		VALUES ('dave', 'wiki:edit', 'page-1', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	require.NoError(t, err)

	grants, err := f.service.ListUserGrants(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, grants, 1)

	require.NoError(t, f.service.RevokeUserPermission(ctx, "admin", "dave", "wiki:edit", "page-1"))

	grants, err = f.service.ListUserGrants(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestService_CheckAssignable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := f.role(t, "admin", 1, "root")
	board := f.role(t, "board", 10, "roles:assign")
	leader := f.role(t, "leader", 100)
	peer := f.role(t, "peer", 10)
	f.assign(t, "root-user", admin.ID)
	f.assign(t, "board-user", board.ID)

	assert.NoError(t, f.service.CheckAssignable(ctx, "root-user", admin.ID))
	assert.NoError(t, f.service.CheckAssignable(ctx, "board-user", leader.ID))
	assert.ErrorIs(t, f.service.CheckAssignable(ctx, "board-user", admin.ID), ErrForbidden)
	assert.ErrorIs(t, f.service.CheckAssignable(ctx, "board-user", peer.ID), ErrForbidden)
	assert.ErrorIs(t, f.service.CheckAssignable(ctx, "nobody", leader.ID), ErrForbidden)
	assert.ErrorIs(t, f.service.CheckAssignable(ctx, "board-user", 9999), ErrNotFound)
}

func TestService_InvalidationFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role := f.role(t, "editor", 500, "news:update")

	failing := &failingCache{Cache: f.cache}
	resolver := NewResolver(f.store, f.grants, nil, failing, nil, nil)
	service := NewService(f.store, f.grants, resolver, nil, nil)

	err := service.AssignRoleToUser(ctx, "admin", "erin", role.ID)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

type failingCache struct {
	Cache
}

func (failingCache) Invalidate(context.Context, ...string) error {
	return assert.AnError
}

func TestSeed_ApplyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed, err := ParseSeed([]byte(`
roles:
  - name: admin
    description: Full access
    position: 10
    permissions: [root]
  - name: editor
    position: 500
    permissions: ["news:update", "events:update@group:fotball"]
assignments:
  - user: "42"
    roles: [admin, editor]
`))
	require.NoError(t, err)

	result, err := f.service.ApplySeed(ctx, "", seed)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 2, Assigned: 2}, result)

	ok, err := f.engine.HasScopedPermission(ctx, "42", "events:update", "group:fotball")
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := ParseSeed([]byte(`
roles:
  - name: admin
    description: Full access
    position: 10
    permissions: [root]
  - name: editor
    position: 400
    permissions: ["news:update"]
`))
	require.NoError(t, err)

	result, err = f.service.ApplySeed(ctx, "", again)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Updated: 1}, result)

	editor, err := f.store.GetRoleByName(ctx, "editor")
	require.NoError(t, err)
	assert.Equal(t, 400, editor.Position)
	assert.Equal(t, []string{"news:update"}, editor.Permissions)
}

func TestSeed_PermissionOrderIsNotAChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed, err := ParseSeed([]byte(`
roles:
  - name: editor
    position: 500
    permissions: ["news:update", "events:update@group:fotball", "news:delete"]
`))
	require.NoError(t, err)

	result, err := f.service.ApplySeed(ctx, "", seed)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 1}, result)

	result, err = f.service.ApplySeed(ctx, "", seed)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{}, result, "same permissions in a different stored order")

	editor, err := f.store.GetRoleByName(ctx, "editor")
	require.NoError(t, err)
	assert.True(t, seedChanges(editor, RoleUpdate{Permissions: &[]string{"news:update"}}))
	assert.True(t, seedChanges(editor, RoleUpdate{Permissions: &[]string{"news:update", "news:delete", "wiki:edit"}}))
	assert.False(t, seedChanges(editor, RoleUpdate{Permissions: &[]string{"news:delete", "news:update", "events:update@group:fotball"}}))
}

func TestSeed_ValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed, err := ParseSeed([]byte(`
roles:
  - name: good
    permissions: ["news:update"]
  - name: bad
    permissions: ["wiki:edit"]
`))
	require.NoError(t, err)

	_, err = f.service.ApplySeed(ctx, "", seed)
	assert.ErrorIs(t, err, ErrValidation)

	roles, err := f.service.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles)

	_, err = ParseSeed([]byte("roles: [unterminated"))
	assert.ErrorIs(t, err, ErrValidation)
}

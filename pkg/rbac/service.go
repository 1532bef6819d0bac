package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/platinummonkey/accessd/pkg/observability"
	"github.com/platinummonkey/accessd/pkg/permissions"
)

// Service is the write side of the access system. Every permission name is
// validated against the registry before anything is written, and every
// mutation invalidates the cached state of the affected users before it
// returns.
type Service struct {
	roles    *Store
	grants   *GrantStore
	resolver *Resolver
	registry *permissions.Registry
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewService creates the administrative service
func NewService(roles *Store, grants *GrantStore, resolver *Resolver, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Service{
		roles:    roles,
		grants:   grants,
		resolver: resolver,
		registry: resolver.Registry(),
		metrics:  metrics,
		logger:   logger,
	}
}

// NormalizePermissions validates scoped permission strings and returns them
// de-duplicated in canonical form, sorted.
func (s *Service) NormalizePermissions(perms []string) ([]string, error) {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, raw := range perms {
		g, err := s.registry.ValidateScoped(strings.TrimSpace(raw))
		if err != nil {
			return nil, validationErr(err)
		}
		canonical := g.String()
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	sort.Strings(out)
	return out, nil
}

// CreateRole validates and stores a new role
func (s *Service) CreateRole(ctx context.Context, actorID string, in RoleInput) (*Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrValidation)
	}
	perms, err := s.NormalizePermissions(in.Permissions)
	if err != nil {
		return nil, err
	}

	role := &Role{
		Name:        name,
		Description: in.Description,
		Position:    DefaultRolePosition,
		Permissions: perms,
	}
	if in.Position != nil {
		role.Position = *in.Position
	}

	if err := s.roles.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	s.metrics.RecordMutation("create_role")
	s.logger.WithFields(map[string]interface{}{
		"actor_id": actorID,
		"role_id":  role.ID,
		"role":     role.Name,
		"position": role.Position,
	}).Info("role created")
	return role, nil
}

// UpdateRole applies a partial update. Holders of the role are invalidated
// since both their role names and permissions may have changed.
func (s *Service) UpdateRole(ctx context.Context, actorID string, roleID int64, update RoleUpdate) (*Role, error) {
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrValidation)
		}
		update.Name = &name
	}
	if update.Permissions != nil {
		perms, err := s.NormalizePermissions(*update.Permissions)
		if err != nil {
			return nil, err
		}
		update.Permissions = &perms
	}

	holders, err := s.roles.UpdateRole(ctx, roleID, update)
	if err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx, holders); err != nil {
		return nil, err
	}

	s.metrics.RecordMutation("update_role")
	s.logger.WithFields(map[string]interface{}{
		"actor_id": actorID,
		"role_id":  roleID,
		"holders":  len(holders),
	}).Info("role updated")
	return s.roles.GetRole(ctx, roleID)
}

// DeleteRole removes a role, its permissions and its assignments
func (s *Service) DeleteRole(ctx context.Context, actorID string, roleID int64) error {
	holders, err := s.roles.DeleteRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.invalidate(ctx, holders); err != nil {
		return err
	}

	s.metrics.RecordMutation("delete_role")
	s.logger.WithFields(map[string]interface{}{
		"actor_id": actorID,
		"role_id":  roleID,
		"holders":  len(holders),
	}).Info("role deleted")
	return nil
}

// AssignPermissionsToRole replaces the permissions of a role and invalidates
// every user holding it before returning.
func (s *Service) AssignPermissionsToRole(ctx context.Context, actorID string, roleID int64, perms []string) (*Role, error) {
	normalized, err := s.NormalizePermissions(perms)
	if err != nil {
		return nil, err
	}

	holders, err := s.roles.ReplaceRolePermissions(ctx, roleID, normalized)
	if err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx, holders); err != nil {
		return nil, err
	}

	s.metrics.RecordMutation("assign_role_permissions")
	s.logger.WithFields(map[string]interface{}{
		"actor_id":    actorID,
		"role_id":     roleID,
		"permissions": normalized,
		"holders":     len(holders),
	}).Info("role permissions replaced")
	return s.roles.GetRole(ctx, roleID)
}

// AssignRoleToUser gives a role to a user; assigning twice is a no-op
func (s *Service) AssignRoleToUser(ctx context.Context, actorID, userID string, roleID int64) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if err := s.roles.AssignRole(ctx, userID, roleID, optional(actorID)); err != nil {
		return err
	}
	if err := s.invalidate(ctx, []string{userID}); err != nil {
		return err
	}

	s.metrics.RecordMutation("assign_role")
	s.logger.WithFields(map[string]interface{}{
		"actor_id": actorID,
		"user_id":  userID,
		"role_id":  roleID,
	}).Info("role assigned")
	return nil
}

// RemoveRoleFromUser takes a role away; removing an unheld role is a no-op
func (s *Service) RemoveRoleFromUser(ctx context.Context, actorID, userID string, roleID int64) error {
	if err := s.roles.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	if err := s.invalidate(ctx, []string{userID}); err != nil {
		return err
	}

	s.metrics.RecordMutation("remove_role")
	s.logger.WithFields(map[string]interface{}{
		"actor_id": actorID,
		"user_id":  userID,
		"role_id":  roleID,
	}).Info("role removed")
	return nil
}

// GrantUserPermission grants permission to a user directly. An empty scope is global.
func (s *Service) GrantUserPermission(ctx context.Context, actorID, userID, permission, scope string) (permissions.Grant, error) {
	if strings.TrimSpace(userID) == "" {
		return permissions.Grant{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	g, err := s.scopedGrant(permission, scope)
	if err != nil {
		return permissions.Grant{}, err
	}

	if err := s.grants.Grant(ctx, userID, string(g.Permission), g.Scope, optional(actorID)); err != nil {
		return permissions.Grant{}, err
	}
	if err := s.invalidate(ctx, []string{userID}); err != nil {
		return permissions.Grant{}, err
	}

	s.metrics.RecordMutation("grant_permission")
	s.logger.WithFields(map[string]interface{}{
		"actor_id":   actorID,
		"user_id":    userID,
		"permission": g.String(),
	}).Info("permission granted")
	return g, nil
}

// RevokeUserPermission removes a direct grant matching (permission, scope)
// exactly. Revoking a grant that was never made is a no-op. The permission is
// not checked against the registry so grants of retired permissions can
// still be removed.
func (s *Service) RevokeUserPermission(ctx context.Context, actorID, userID, permission, scope string) error {
	g, err := parseGrant(permission, scope)
	if err != nil {
		return err
	}

	if err := s.grants.Revoke(ctx, userID, string(g.Permission), g.Scope); err != nil {
		return err
	}
	if err := s.invalidate(ctx, []string{userID}); err != nil {
		return err
	}

	s.metrics.RecordMutation("revoke_permission")
	s.logger.WithFields(map[string]interface{}{
		"actor_id":   actorID,
		"user_id":    userID,
		"permission": g.String(),
	}).Info("permission revoked")
	return nil
}

// CheckAssignable returns ErrForbidden unless the actor may hand out the role:
// root holders may assign anything, everyone else only roles positioned
// strictly below their own highest role.
func (s *Service) CheckAssignable(ctx context.Context, actorID string, roleID int64) error {
	held, err := s.resolver.PermissionsForUser(ctx, actorID)
	if err != nil {
		return err
	}
	if holdsRoot(held) {
		return nil
	}

	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	actorPos, err := s.roles.HighestRolePosition(ctx, actorID)
	if err != nil {
		return err
	}
	if !CanManage(actorPos, &role.Position) {
		return fmt.Errorf("%w: role %q outranks the caller", ErrForbidden, role.Name)
	}
	return nil
}

// ListRoles returns every role ordered by position
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.roles.ListRoles(ctx)
}

// GetRole returns a role with its permissions
func (s *Service) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return s.roles.GetRole(ctx, roleID)
}

// ListUserRoles returns the roles a user holds
func (s *Service) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	return s.roles.UserRoles(ctx, userID)
}

// ListUserGrants returns a user's direct grants
func (s *Service) ListUserGrants(ctx context.Context, userID string) ([]UserPermission, error) {
	return s.grants.ListForUser(ctx, userID)
}

func (s *Service) scopedGrant(permission, scope string) (permissions.Grant, error) {
	permission = strings.TrimSpace(permission)
	if err := s.registry.Validate(permission); err != nil {
		return permissions.Grant{}, validationErr(err)
	}
	return parseGrant(permission, scope)
}

func parseGrant(permission, scope string) (permissions.Grant, error) {
	permission = strings.TrimSpace(permission)
	g, err := permissions.Parse(permissions.Format(permissions.Permission(permission), strings.TrimSpace(scope)))
	if err != nil {
		return permissions.Grant{}, validationErr(err)
	}
	return g, nil
}

func (s *Service) invalidate(ctx context.Context, userIDs []string) error {
	if err := s.resolver.Invalidate(ctx, userIDs...); err != nil {
		s.logger.WithError(err).WithField("users", len(userIDs)).Error("cache invalidation failed after commit")
		return err
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

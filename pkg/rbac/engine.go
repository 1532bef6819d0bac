package rbac

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/accessd/pkg/groups"
	"github.com/platinummonkey/accessd/pkg/observability"
	"github.com/platinummonkey/accessd/pkg/permissions"
)

var engineTracer = otel.Tracer("accessd/rbac/engine")

// AccessRequest describes an ownership-or-permission check
type AccessRequest struct {
	UserID string
	// Permissions are alternatives: holding any one of them is enough
	Permissions []string
	// Scope narrows the permission check, e.g. "group:fotball" or "news-42"
	Scope string
	// ResourceID and Ownership enable the ownership shortcut
	ResourceID string
	Ownership  OwnershipChecker
}

// Engine answers access questions. Unknown or unparsable state is always a
// denial; store and cache failures are returned as errors wrapping
// ErrStoreUnavailable rather than reported as a denial.
type Engine struct {
	resolver *Resolver
	roles    *Store
	groups   GroupDirectory
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewEngine creates an access decision engine
func NewEngine(resolver *Resolver, roles *Store, dir GroupDirectory, metrics *observability.Metrics, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Engine{
		resolver: resolver,
		roles:    roles,
		groups:   dir,
		metrics:  metrics,
		logger:   logger,
	}
}

// Resolver returns the resolver used by the engine
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// HasAccess reports whether the user holds permission globally or, when scope
// is set, for that exact scope. Holders of root pass every check.
func (e *Engine) HasAccess(ctx context.Context, userID, permission, scope string) (bool, error) {
	ctx, span := engineTracer.Start(ctx, "HasAccess",
		trace.WithAttributes(
			attribute.String("permission", permission),
			attribute.String("scope", scope),
		),
	)
	defer span.End()

	start := time.Now()
	held, err := e.resolver.PermissionsForUser(ctx, userID)
	if err != nil {
		return false, e.fail(span, "has_access", err)
	}

	allowed := holdsRoot(held) || holds(held, permission, scope)
	e.record(span, "has_access", allowed, start)
	return allowed, nil
}

// HasPermission checks a global permission
func (e *Engine) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	return e.HasAccess(ctx, userID, permission, "")
}

// HasScopedPermission checks a permission against one scope
func (e *Engine) HasScopedPermission(ctx context.Context, userID, permission, scope string) (bool, error) {
	return e.HasAccess(ctx, userID, permission, scope)
}

// HasAnyPermission reports whether the user holds at least one of perms.
// An empty list never grants access.
func (e *Engine) HasAnyPermission(ctx context.Context, userID string, perms []string) (bool, error) {
	if len(perms) == 0 {
		return false, nil
	}

	ctx, span := engineTracer.Start(ctx, "HasAnyPermission")
	defer span.End()

	start := time.Now()
	held, err := e.resolver.PermissionsForUser(ctx, userID)
	if err != nil {
		return false, e.fail(span, "has_any", err)
	}

	allowed := holdsRoot(held)
	for _, p := range perms {
		if allowed {
			break
		}
		allowed = holds(held, p, "")
	}
	e.record(span, "has_any", allowed, start)
	return allowed, nil
}

// HasAllPermissions reports whether the user holds every one of perms.
// An empty list is vacuously satisfied.
func (e *Engine) HasAllPermissions(ctx context.Context, userID string, perms []string) (bool, error) {
	if len(perms) == 0 {
		return true, nil
	}

	ctx, span := engineTracer.Start(ctx, "HasAllPermissions")
	defer span.End()

	start := time.Now()
	held, err := e.resolver.PermissionsForUser(ctx, userID)
	if err != nil {
		return false, e.fail(span, "has_all", err)
	}

	allowed := true
	if !holdsRoot(held) {
		for _, p := range perms {
			if !holds(held, p, "") {
				allowed = false
				break
			}
		}
	}
	e.record(span, "has_all", allowed, start)
	return allowed, nil
}

// UserHasRole reports whether the user holds the named role
func (e *Engine) UserHasRole(ctx context.Context, userID, role string) (bool, error) {
	return e.UserHasAnyRole(ctx, userID, role)
}

// UserHasAnyRole reports whether the user holds at least one of the named roles
func (e *Engine) UserHasAnyRole(ctx context.Context, userID string, roles ...string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	held, err := e.resolver.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, h := range held {
		for _, r := range roles {
			if h == r {
				return true, nil
			}
		}
	}
	return false, nil
}

// CheckAccess runs the ownership-or-permission check: root first, then
// ownership of the resource, then any of the permissions globally or for the
// request scope. A request without a user fails with ErrUnauthenticated.
func (e *Engine) CheckAccess(ctx context.Context, req AccessRequest) (Decision, error) {
	if req.UserID == "" {
		return denied, ErrUnauthenticated
	}

	ctx, span := engineTracer.Start(ctx, "CheckAccess",
		trace.WithAttributes(
			attribute.StringSlice("permissions", req.Permissions),
			attribute.String("scope", req.Scope),
			attribute.String("resource_id", req.ResourceID),
		),
	)
	defer span.End()

	start := time.Now()
	held, err := e.resolver.PermissionsForUser(ctx, req.UserID)
	if err != nil {
		return denied, e.fail(span, "check_access", err)
	}

	decision := denied
	switch {
	case holdsRoot(held):
		decision = Decision{Allowed: true, Basis: BasisRoot}
	default:
		if req.Ownership != nil && req.ResourceID != "" {
			owner, err := req.Ownership.IsOwner(ctx, req.ResourceID, req.UserID)
			if err != nil {
				return denied, e.fail(span, "check_access", err)
			}
			if owner {
				decision = Decision{Allowed: true, Basis: BasisOwnership}
				break
			}
		}
		for _, p := range req.Permissions {
			if holds(held, p, req.Scope) {
				decision = Decision{Allowed: true, Basis: BasisPermission}
				break
			}
		}
	}

	span.SetAttributes(attribute.String("basis", string(decision.Basis)))
	e.record(span, "check_access", decision.Allowed, start)
	if !decision.Allowed {
		e.logger.WithFields(map[string]interface{}{
			"user_id":     req.UserID,
			"permissions": req.Permissions,
			"scope":       req.Scope,
			"resource_id": req.ResourceID,
		}).Debug("access denied")
	}
	return decision, nil
}

// CanActOnGroupResource decides whether the user may use basePerm on a
// resource owned by the group. A missing group is always denied. Root and
// groups:manage then bypass the group policy. Otherwise the base permission
// must be held globally or for the group, and the group's permission mode
// decides whether membership is enough or leadership is required.
func (e *Engine) CanActOnGroupResource(ctx context.Context, userID, slug, basePerm string) (bool, error) {
	ctx, span := engineTracer.Start(ctx, "CanActOnGroupResource",
		trace.WithAttributes(
			attribute.String("group", slug),
			attribute.String("permission", basePerm),
		),
	)
	defer span.End()

	start := time.Now()
	groupScope := permissions.GroupScope(slug).String()

	group, err := e.groups.GetGroup(ctx, slug)
	if err != nil {
		return false, e.fail(span, "group_resource", err)
	}
	if group == nil {
		e.record(span, "group_resource", false, start)
		return false, nil
	}

	held, err := e.resolver.PermissionsForUser(ctx, userID)
	if err != nil {
		return false, e.fail(span, "group_resource", err)
	}
	if holdsRoot(held) || holds(held, string(permissions.GroupsManage), groupScope) {
		e.record(span, "group_resource", true, start)
		return true, nil
	}
	if !holds(held, basePerm, groupScope) {
		e.record(span, "group_resource", false, start)
		return false, nil
	}

	membership, err := e.groups.GetMembership(ctx, userID, slug)
	if err != nil {
		return false, e.fail(span, "group_resource", err)
	}

	var allowed bool
	switch group.PermissionMode {
	case groups.ModeMember:
		allowed = membership != nil
	default:
		// leader_only, custom and anything unrecognised
		allowed = membership != nil && membership.IsLeader()
	}

	span.SetAttributes(attribute.String("permission_mode", string(group.PermissionMode)))
	e.record(span, "group_resource", allowed, start)
	return allowed, nil
}

func (e *Engine) record(span trace.Span, check string, allowed bool, start time.Time) {
	span.SetAttributes(attribute.Bool("allowed", allowed))
	e.metrics.RecordDecision(check, allowed, time.Since(start))
}

func (e *Engine) fail(span trace.Span, check string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "access check failed")
	e.metrics.RecordDecisionError(check)
	logger := e.logger.WithError(err).WithField("check", check)
	if errors.Is(err, ErrStoreUnavailable) {
		logger.Error("access check failed")
	} else {
		logger.Debug("access check failed")
	}
	return err
}

func holdsRoot(held []string) bool {
	return holds(held, string(permissions.Root), "")
}

// holds reports whether any held perm[@scope] grants permission globally or,
// when scope is set, for that scope
func holds(held []string, permission, scope string) bool {
	required := permissions.Permission(permission)
	for _, h := range held {
		if scope == "" || scope == permissions.Wildcard {
			if g, err := permissions.Parse(h); err == nil && g.Permission == required && g.IsGlobal() {
				return true
			}
			continue
		}
		if permissions.Matches(h, required, scope) {
			return true
		}
	}
	return false
}

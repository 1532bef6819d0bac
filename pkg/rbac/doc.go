// Package rbac provides scoped role-based access control.
//
// # Overview
//
// A user's effective permission set is the union of the permissions attached
// to every role they hold and the permissions granted to them directly. Each
// entry is a scoped permission string:
//
//	news:update                 // global
//	news:update@news-42         // one resource
//	events:create@group:fotball // one group
//
// See package permissions for the syntax and the matching rules.
//
// # Components
//
//	Store      - roles, role permissions and user role assignments
//	GrantStore - direct grants with a (user, permission, scope) key
//	Resolver   - computes effective roles and permissions through a Cache
//	Engine     - answers access questions
//	Service    - validated writes with synchronous cache invalidation
//	Middleware - RequireAuth, RequireAccess and RequireGroupAccess for gorilla/mux
//	Handlers   - the administrative API under /rbac
//
// # Decisions
//
// HasAccess grants when the user holds root, holds the permission globally, or
// holds it for the exact scope asked about. Only the top-level wildcard
// matches more than one scope.
//
//	ok, err := engine.HasScopedPermission(ctx, userID, "news:update", "news-42")
//
// CheckAccess adds ownership: root first, then the ownership checker, then the
// permissions. The returned Decision records which of these admitted the call.
//
//	d, err := engine.CheckAccess(ctx, rbac.AccessRequest{
//		UserID:      userID,
//		Permissions: []string{"events:update"},
//		Scope:       "group:" + slug,
//		ResourceID:  eventID,
//		Ownership:   rbac.EventOrganizerChecker(db),
//	})
//
// CanActOnGroupResource applies the group policy: root or groups:manage
// bypass it, the group must exist, the base permission must be held globally
// or for the group, and the group's permission mode decides whether any member
// or only a leader may act. Unknown modes are treated as leader_only.
//
// # Role hierarchy
//
// Every role has a position; lower numbers carry more authority. A user may
// manage another when their best position is strictly lower than the other's.
//
// # Errors
//
// A denial is a normal false result. Errors are reserved for conditions that
// prevent a decision: ErrUnauthenticated, ErrNotFound from ownership checks,
// and ErrStoreUnavailable for database and cache failures. Writes return
// ErrValidation, ErrNotFound or ErrConflict.
//
// # Caching
//
// Resolved roles and permissions are cached per user with a TTL. Every
// mutation made through Service invalidates the affected users before it
// returns; for role level changes that is every user holding the role, read
// inside the same transaction as the change. A per user generation stops a
// resolution that started before an invalidation from repopulating the cache
// with stale data.
package rbac

package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/accessd/pkg/contextkeys"
	"github.com/platinummonkey/accessd/pkg/httputil"
	"github.com/platinummonkey/accessd/pkg/observability"
	"github.com/platinummonkey/accessd/pkg/permissions"
)

// Handlers provides the administrative HTTP API under /rbac
type Handlers struct {
	service *Service
	engine  *Engine
	mw      *Middleware
	logger  *observability.Logger
}

// NewHandlers creates the admin API handlers
func NewHandlers(service *Service, engine *Engine, mw *Middleware, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handlers{service: service, engine: engine, mw: mw, logger: logger}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/rbac").Subrouter()
	api.Use(h.mw.RequireAuth)

	guard := func(perm permissions.Permission, fn http.HandlerFunc) http.Handler {
		return h.mw.RequireAccess(AccessRule{Permissions: []string{string(perm)}})(fn)
	}

	// Permission catalog
	api.Handle("/permissions", guard(permissions.PermissionsRead, h.ListPermissions)).Methods("GET")

	// Role management
	api.Handle("/roles", guard(permissions.RolesRead, h.ListRoles)).Methods("GET")
	api.Handle("/roles", guard(permissions.RolesCreate, h.CreateRole)).Methods("POST")
	api.Handle("/roles/{id:[0-9]+}", guard(permissions.RolesRead, h.GetRole)).Methods("GET")
	api.Handle("/roles/{id:[0-9]+}", guard(permissions.RolesUpdate, h.UpdateRole)).Methods("PUT")
	api.Handle("/roles/{id:[0-9]+}", guard(permissions.RolesDelete, h.DeleteRole)).Methods("DELETE")
	api.Handle("/roles/{id:[0-9]+}/permissions", guard(permissions.RolesUpdate, h.ReplaceRolePermissions)).Methods("PUT")
	api.Handle("/roles/{id:[0-9]+}/users", guard(permissions.RolesRead, h.ListRoleHolders)).Methods("GET")

	// User role assignments
	api.Handle("/users/{user}/roles", guard(permissions.RolesRead, h.GetUserRoles)).Methods("GET")
	api.Handle("/users/{user}/roles", guard(permissions.RolesAssign, h.AssignRoleToUser)).Methods("POST")
	api.Handle("/users/{user}/roles/{role_id:[0-9]+}", guard(permissions.RolesAssign, h.RemoveRoleFromUser)).Methods("DELETE")

	// Direct grants
	api.Handle("/users/{user}/permissions", guard(permissions.PermissionsRead, h.GetUserPermissions)).Methods("GET")
	api.Handle("/users/{user}/permissions", guard(permissions.PermissionsGrant, h.GrantUserPermission)).Methods("POST")
	api.Handle("/users/{user}/permissions", guard(permissions.PermissionsRevoke, h.RevokeUserPermission)).Methods("DELETE")

	// Decision diagnostics
	api.HandleFunc("/check", h.Check).Methods("POST")
}

func (h *Handlers) actor(r *http.Request) string {
	userID, _ := contextkeys.Principal(r.Context())
	return userID
}

// ListPermissions returns the permission catalog
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"permissions": h.service.registry.All(),
	})
}

// ListRoles returns all roles ordered by position
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, roles)
}

// CreateRole creates a role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), h.actor(r), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, role)
}

// UpdateRole applies a partial role update
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), h.actor(r), id, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, role)
}

// DeleteRole deletes a role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteRole(r.Context(), h.actor(r), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ReplaceRolePermissions swaps the full permission list of a role
func (h *Handlers) ReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.AssignPermissionsToRole(r.Context(), h.actor(r), id, req.Permissions)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, role)
}

// ListRoleHolders returns the users holding a role
func (h *Handlers) ListRoleHolders(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.service.GetRole(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	users, err := h.service.roles.ListRoleHolders(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// GetUserRoles returns the roles of a user
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}

	roles, err := h.service.ListUserRoles(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, roles)
}

// AssignRoleToUser gives a role to a user. Callers without root may only
// hand out roles below their own highest role.
func (h *Handlers) AssignRoleToUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}
	var req struct {
		RoleID int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.CheckAssignable(r.Context(), h.actor(r), req.RoleID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.service.AssignRoleToUser(r.Context(), h.actor(r), userID, req.RoleID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveRoleFromUser takes a role away from a user, with the same rank rule as assignment
func (h *Handlers) RemoveRoleFromUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.service.CheckAssignable(r.Context(), h.actor(r), roleID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.service.RemoveRoleFromUser(r.Context(), h.actor(r), userID, roleID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserPermissions returns the direct grants and the effective permission set of a user
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}

	direct, err := h.service.ListUserGrants(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	effective, err := h.engine.Resolver().PermissionsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"direct":    direct,
		"effective": effective,
	})
}

type grantRequest struct {
	Permission string `json:"permission"`
	Scope      string `json:"scope"`
}

// GrantUserPermission grants a permission directly to a user
func (h *Handlers) GrantUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	g, err := h.service.GrantUserPermission(r.Context(), h.actor(r), userID, req.Permission, req.Scope)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteCreated(w, g)
}

// RevokeUserPermission revokes a direct grant. The permission and scope come
// from the query string.
func (h *Handlers) RevokeUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}
	q := r.URL.Query()

	err := h.service.RevokeUserPermission(r.Context(), h.actor(r), userID, q.Get("permission"), q.Get("scope"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CheckRequest asks for a decision on behalf of a user
type CheckRequest struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
	Scope      string `json:"scope,omitempty"`
	// Group switches to the group resource policy for this group slug
	Group string `json:"group,omitempty"`
}

// Check evaluates a decision. Callers may always check themselves; checking
// another user requires permissions:read.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	actor := h.actor(r)
	if req.UserID == "" {
		req.UserID = actor
	}

	if req.UserID != actor {
		ok, err := h.engine.HasPermission(r.Context(), actor, string(permissions.PermissionsRead))
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if !ok {
			httputil.WriteForbidden(w, "insufficient permissions")
			return
		}
	}

	if req.Group != "" {
		allowed, err := h.engine.CanActOnGroupResource(r.Context(), req.UserID, req.Group, req.Permission)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		basis := BasisGroup
		if !allowed {
			basis = BasisDenied
		}
		httputil.WriteJSON(w, http.StatusOK, Decision{Allowed: allowed, Basis: basis})
		return
	}

	decision, err := h.engine.CheckAccess(r.Context(), AccessRequest{
		UserID:      req.UserID,
		Permissions: []string{req.Permission},
		Scope:       req.Scope,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/accessd/pkg/contextkeys"
	"github.com/platinummonkey/accessd/pkg/httputil"
	"github.com/platinummonkey/accessd/pkg/observability"
	"github.com/platinummonkey/accessd/pkg/permissions"
)

// AccessRule describes what RequireAccess demands of a request
type AccessRule struct {
	// Permissions are alternatives; any one of them admits the request
	Permissions []string
	// Scope resolves the scope to check the permissions against. Nil means global only.
	Scope func(r *http.Request) string
	// Ownership admits owners of the resource named by a route variable
	Ownership *OwnershipRule
}

// OwnershipRule names the route variable holding the resource id and the checker to ask
type OwnershipRule struct {
	Param   string
	Checker OwnershipChecker
}

// Middleware guards HTTP handlers with access decisions
type Middleware struct {
	engine *Engine
	logger *observability.Logger
}

// NewMiddleware creates access middleware backed by engine
func NewMiddleware(engine *Engine, logger *observability.Logger) *Middleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Middleware{engine: engine, logger: logger}
}

// ScopeFromVar builds "<kind>:<route var>" scopes, or the bare variable when kind is empty
func ScopeFromVar(kind, param string) func(r *http.Request) string {
	return func(r *http.Request) string {
		id := mux.Vars(r)[param]
		if id == "" {
			return ""
		}
		return permissions.ResourceScope(kind, id).String()
	}
}

// DecisionFrom returns the decision that admitted the request
func DecisionFrom(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(contextkeys.DecisionKey).(Decision)
	return d, ok
}

// RequireAuth rejects requests without a principal with 401
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := contextkeys.Principal(r.Context()); !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAccess admits the request when the principal is root, owns the
// resource, or holds one of the rule's permissions globally or for the
// resolved scope. The admitting decision is stored in the request context.
func (m *Middleware) RequireAccess(rule AccessRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := contextkeys.Principal(r.Context())

			req := AccessRequest{
				UserID:      userID,
				Permissions: rule.Permissions,
			}
			if rule.Scope != nil {
				req.Scope = rule.Scope(r)
			}
			if rule.Ownership != nil {
				req.ResourceID = mux.Vars(r)[rule.Ownership.Param]
				req.Ownership = rule.Ownership.Checker
			}

			decision, err := m.engine.CheckAccess(r.Context(), req)
			if err != nil {
				m.writeError(w, r, err)
				return
			}
			if !decision.Allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.DecisionKey, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireGroupAccess applies the group resource policy to the group named by
// the route variable param: 404 for an unknown group, 403 when the policy denies.
func (m *Middleware) RequireGroupAccess(perm, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := contextkeys.Principal(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			slug := mux.Vars(r)[param]

			allowed, err := m.engine.CanActOnGroupResource(r.Context(), userID, slug, perm)
			if err != nil {
				m.writeError(w, r, err)
				return
			}
			if !allowed {
				group, err := m.engine.groups.GetGroup(r.Context(), slug)
				if err != nil {
					m.writeError(w, r, err)
					return
				}
				if group == nil {
					httputil.WriteNotFound(w, "group not found")
					return
				}
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, m.logger, err)
}

// writeError maps domain errors to HTTP statuses
func writeError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		httputil.WriteUnauthorized(w, "authentication required")
	case errors.Is(err, ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	default:
		logger.WithError(err).WithFields(map[string]interface{}{
			"path":       r.URL.Path,
			"request_id": contextkeys.RequestID(r.Context()),
		}).Error("request failed")
		httputil.WriteInternalError(w)
	}
}

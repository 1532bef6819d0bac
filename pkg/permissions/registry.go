package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownPermission is returned when a permission name is not in the registry
var ErrUnknownPermission = errors.New("unknown permission")

// Permission is a canonical "scope:action" name or a singleton such as "root"
type Permission string

// Root bypasses every access check
const Root Permission = "root"

// Well-known permissions referenced directly by the engine and the admin API
const (
	GroupsManage      Permission = "groups:manage"
	RolesRead         Permission = "roles:read"
	RolesCreate       Permission = "roles:create"
	RolesUpdate       Permission = "roles:update"
	RolesDelete       Permission = "roles:delete"
	RolesAssign       Permission = "roles:assign"
	PermissionsRead   Permission = "permissions:read"
	PermissionsGrant  Permission = "permissions:grant"
	PermissionsRevoke Permission = "permissions:revoke"
)

// Catalog maps a permission scope to the actions defined for it
type Catalog map[string][]string

// DefaultCatalog is the permission catalog of the platform
var DefaultCatalog = Catalog{
	"events":        {"create", "read", "update", "delete", "manage"},
	"registrations": {"create", "read", "update", "delete", "manage"},
	"fines":         {"create", "read", "update", "delete", "manage"},
	"jobs":          {"create", "update", "delete"},
	"news":          {"create", "update", "delete"},
	"forms":         {"create", "read", "update", "delete"},
	"groups":        {"create", "update", "delete", "manage"},
	"users":         {"read", "update", "delete", "manage"},
	"roles":         {"create", "read", "update", "delete", "assign"},
	"permissions":   {"read", "grant", "revoke"},
}

// Registry is a closed set of permission names. It is built once and never mutated.
type Registry struct {
	all    map[Permission]struct{}
	scopes map[string][]string
	sorted []Permission
}

// NewRegistry flattens a catalog into "scope:action" names and adds the singletons
func NewRegistry(catalog Catalog, singletons ...Permission) *Registry {
	r := &Registry{
		all:    make(map[Permission]struct{}),
		scopes: make(map[string][]string, len(catalog)),
	}

	for scope, actions := range catalog {
		names := make([]string, 0, len(actions))
		for _, action := range actions {
			name := scope + ":" + action
			if _, dup := r.all[Permission(name)]; dup {
				continue
			}
			r.all[Permission(name)] = struct{}{}
			names = append(names, name)
		}
		sort.Strings(names)
		r.scopes[scope] = names
	}

	for _, s := range singletons {
		r.all[s] = struct{}{}
	}

	r.sorted = make([]Permission, 0, len(r.all))
	for p := range r.all {
		r.sorted = append(r.sorted, p)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })

	return r
}

var defaultRegistry = NewRegistry(DefaultCatalog, Root)

// Default returns the registry built from DefaultCatalog plus the root singleton
func Default() *Registry {
	return defaultRegistry
}

// IsPermission reports whether name is a registered permission
func (r *Registry) IsPermission(name string) bool {
	_, ok := r.all[Permission(name)]
	return ok
}

// All returns every registered permission in lexical order
func (r *Registry) All() []Permission {
	out := make([]Permission, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// ForScope returns the "scope:action" names registered under scope
func (r *Registry) ForScope(scope string) []string {
	names := r.scopes[strings.TrimSpace(scope)]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Validate returns ErrUnknownPermission when name is not registered
func (r *Registry) Validate(name string) error {
	if !r.IsPermission(name) {
		return fmt.Errorf("%w: %q", ErrUnknownPermission, name)
	}
	return nil
}

// ValidateScoped parses a scoped permission string and checks the permission part
func (r *Registry) ValidateScoped(raw string) (Grant, error) {
	g, err := Parse(raw)
	if err != nil {
		return Grant{}, err
	}
	if err := r.Validate(string(g.Permission)); err != nil {
		return Grant{}, err
	}
	return g, nil
}

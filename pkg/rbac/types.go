package rbac

import (
	"time"

	"github.com/platinummonkey/accessd/pkg/permissions"
)

// DefaultRolePosition is used when a role is created without a position.
// Lower positions carry more authority.
const DefaultRolePosition = 1000

// Role is a named, positioned bundle of permissions
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Position    int       `json:"position"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleInput describes a role to create
type RoleInput struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Position    *int     `json:"position,omitempty" yaml:"position"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// RoleUpdate is a partial update; nil fields are left unchanged
type RoleUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Position    *int      `json:"position,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

// UserPermission is a permission granted straight to a user
type UserPermission struct {
	UserID     string    `json:"user_id"`
	Permission string    `json:"permission"`
	Scope      string    `json:"scope"`
	GrantedBy  *string   `json:"granted_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Grant returns the (permission, scope) pair of a direct grant
func (p UserPermission) Grant() permissions.Grant {
	return permissions.Grant{Permission: permissions.Permission(p.Permission), Scope: p.Scope}
}

// Basis explains why an access decision came out the way it did
type Basis string

const (
	BasisRoot       Basis = "root"
	BasisOwnership  Basis = "ownership"
	BasisPermission Basis = "permission"
	BasisGroup      Basis = "group"
	BasisDenied     Basis = "denied"
)

// Decision is the outcome of CheckAccess
type Decision struct {
	Allowed bool  `json:"allowed"`
	Basis   Basis `json:"basis"`
}

// ViaOwnership reports whether access was granted because the user owns the resource
func (d Decision) ViaOwnership() bool {
	return d.Allowed && d.Basis == BasisOwnership
}

var denied = Decision{Allowed: false, Basis: BasisDenied}

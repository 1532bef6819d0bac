package permissions

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPermission is returned for scoped permission strings that cannot be parsed
var ErrMalformedPermission = errors.New("malformed scoped permission")

// Wildcard is the global scope
const Wildcard = "*"

const scopeSeparator = "@"

// ScopeToken identifies a single resource instance, e.g. group:fotball.
// Tokens without a resource type (e.g. "news-42") are opaque ids.
type ScopeToken struct {
	ResourceType string
	ResourceID   string
}

// ResourceScope builds a token for a typed resource
func ResourceScope(resourceType, resourceID string) ScopeToken {
	return ScopeToken{ResourceType: resourceType, ResourceID: resourceID}
}

// GroupScope is the token used for group-owned resources
func GroupScope(slug string) ScopeToken {
	return ResourceScope("group", slug)
}

// ParseScope splits a raw scope on its first ':'
func ParseScope(raw string) ScopeToken {
	if raw == Wildcard {
		return ScopeToken{ResourceID: Wildcard}
	}
	if kind, id, ok := strings.Cut(raw, ":"); ok {
		return ScopeToken{ResourceType: kind, ResourceID: id}
	}
	return ScopeToken{ResourceID: raw}
}

// IsZero reports whether the token carries no scope at all
func (s ScopeToken) IsZero() bool {
	return s.ResourceType == "" && s.ResourceID == ""
}

// String formats the token for storage and matching
func (s ScopeToken) String() string {
	if s.ResourceType == "" {
		return s.ResourceID
	}
	return s.ResourceType + ":" + s.ResourceID
}

// Grant is a permission paired with the scope it applies to
type Grant struct {
	Permission Permission `json:"permission"`
	Scope      string     `json:"scope"`
}

// IsGlobal reports whether the grant applies to every scope
func (g Grant) IsGlobal() bool {
	return g.Scope == Wildcard
}

// String formats the grant, omitting the scope when it is the wildcard
func (g Grant) String() string {
	return Format(g.Permission, g.Scope)
}

// Parse splits "permission@scope" into its parts. A string without '@' is global.
func Parse(raw string) (Grant, error) {
	parts := strings.Split(raw, scopeSeparator)
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return Grant{}, fmt.Errorf("%w: empty permission", ErrMalformedPermission)
		}
		return Grant{Permission: Permission(parts[0]), Scope: Wildcard}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return Grant{}, fmt.Errorf("%w: empty segment in %q", ErrMalformedPermission, raw)
		}
		return Grant{Permission: Permission(parts[0]), Scope: parts[1]}, nil
	default:
		return Grant{}, fmt.Errorf("%w: more than one %q in %q", ErrMalformedPermission, scopeSeparator, raw)
	}
}

// Format is the inverse of Parse
func Format(p Permission, scope string) string {
	if scope == "" || scope == Wildcard {
		return string(p)
	}
	return string(p) + scopeSeparator + scope
}

// Matches reports whether a granted scoped permission satisfies (required, scope).
// Scopes are opaque: only the top-level wildcard matches more than one token.
func Matches(granted string, required Permission, scope string) bool {
	g, err := Parse(granted)
	if err != nil {
		return false
	}
	if g.Permission != required {
		return false
	}
	if g.IsGlobal() {
		return true
	}
	return g.Scope == scope
}

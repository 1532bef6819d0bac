package groups

import "time"

// PermissionMode controls who inside a group may act on group-owned resources
type PermissionMode string

const (
	ModeLeaderOnly PermissionMode = "leader_only"
	ModeMember     PermissionMode = "member"
	// ModeCustom is reserved for per-resource configuration and currently behaves as ModeLeaderOnly
	ModeCustom PermissionMode = "custom"
)

// MembershipRole is a user's role inside a group
type MembershipRole string

const (
	RoleMember MembershipRole = "member"
	RoleLeader MembershipRole = "leader"
)

// Group is the subset of a group the access engine needs
type Group struct {
	Slug           string         `json:"slug"`
	Name           string         `json:"name"`
	PermissionMode PermissionMode `json:"permission_mode"`
	FinesActivated bool           `json:"fines_activated"`
	FinesAdminID   *string        `json:"fines_admin_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Membership links a user to a group
type Membership struct {
	UserID    string         `json:"user_id"`
	GroupSlug string         `json:"group_slug"`
	Role      MembershipRole `json:"role"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsLeader reports whether the membership carries leader rights
func (m Membership) IsLeader() bool {
	return m.Role == RoleLeader
}

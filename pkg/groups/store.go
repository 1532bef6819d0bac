package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrGroupNotFound is returned when a group slug does not exist
	ErrGroupNotFound = errors.New("group not found")
	// ErrInvalidRole is returned for membership roles other than member and leader
	ErrInvalidRole = errors.New("invalid membership role")
)

// Store reads and writes groups and memberships
type Store struct {
	db *sql.DB
}

// NewStore creates a new group store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateGroup inserts a group. An empty permission mode defaults to leader_only.
func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	if g.PermissionMode == "" {
		g.PermissionMode = ModeLeaderOnly
	}

	query := `
		INSERT INTO org_groups (slug, name, permission_mode, fines_activated, fines_admin_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		g.Slug,
		g.Name,
		string(g.PermissionMode),
		g.FinesActivated,
		g.FinesAdminID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	g.CreatedAt = now
	g.UpdatedAt = now
	return nil
}

// GetGroup retrieves a group by slug
func (s *Store) GetGroup(ctx context.Context, slug string) (*Group, error) {
	query := `
		SELECT slug, name, permission_mode, fines_activated, fines_admin_id, created_at, updated_at
		FROM org_groups
		WHERE slug = $1
	`

	var g Group
	var mode string
	var finesAdmin sql.NullString

	err := s.db.QueryRowContext(ctx, query, slug).Scan(
		&g.Slug,
		&g.Name,
		&mode,
		&g.FinesActivated,
		&finesAdmin,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	g.PermissionMode = PermissionMode(mode)
	if finesAdmin.Valid {
		id := finesAdmin.String
		g.FinesAdminID = &id
	}

	return &g, nil
}

// SetPermissionMode changes the permission mode of a group
func (s *Store) SetPermissionMode(ctx context.Context, slug string, mode PermissionMode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE org_groups SET permission_mode = $1, updated_at = $2 WHERE slug = $3`,
		string(mode), time.Now().UTC(), slug,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, slug)
	}
	return nil
}

// AddMember upserts a membership with the given role
func (s *Store) AddMember(ctx context.Context, userID, slug string, role MembershipRole) error {
	if role != RoleMember && role != RoleLeader {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	query := `
		INSERT INTO group_memberships (user_id, group_slug, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, group_slug) DO UPDATE SET role = excluded.role
	`

	if _, err := s.db.ExecContext(ctx, query, userID, slug, string(role), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership. Removing a non-member is a no-op.
func (s *Store) RemoveMember(ctx context.Context, userID, slug string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM group_memberships WHERE user_id = $1 AND group_slug = $2`,
		userID, slug,
	)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	return nil
}

// GetMembership returns the membership of userID in slug, or nil when absent
func (s *Store) GetMembership(ctx context.Context, userID, slug string) (*Membership, error) {
	query := `
		SELECT user_id, group_slug, role, created_at
		FROM group_memberships
		WHERE user_id = $1 AND group_slug = $2
	`

	var m Membership
	var role string
	err := s.db.QueryRowContext(ctx, query, userID, slug).Scan(&m.UserID, &m.GroupSlug, &role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group membership: %w", err)
	}

	m.Role = MembershipRole(role)
	return &m, nil
}

// ListMemberships returns every group membership of a user ordered by slug
func (s *Store) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, group_slug, role, created_at
		FROM group_memberships
		WHERE user_id = $1
		ORDER BY group_slug ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group memberships: %w", err)
	}
	defer rows.Close()

	memberships := []Membership{}
	for rows.Next() {
		var m Membership
		var role string
		if err := rows.Scan(&m.UserID, &m.GroupSlug, &role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group membership: %w", err)
		}
		m.Role = MembershipRole(role)
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

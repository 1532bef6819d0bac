package rbac

import (
	"context"
	"database/sql"
	"time"
)

// GrantStore persists permissions granted directly to users
type GrantStore struct {
	db *sql.DB
}

// NewGrantStore creates a new direct grant store
func NewGrantStore(db *sql.DB) *GrantStore {
	return &GrantStore{db: db}
}

// Grant records a direct grant. Granting the same (permission, scope) twice is a no-op.
func (s *GrantStore) Grant(ctx context.Context, userID, permission, scope string, grantedBy *string) error {
	query := `
		INSERT INTO user_permissions (user_id, permission, scope, granted_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, permission, scope) DO NOTHING
	`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, userID, permission, scope, grantedBy, now, now); err != nil {
		return storeErr("grant permission", err)
	}
	return nil
}

// Revoke deletes the grant matching (permission, scope) exactly. Revoking a
// grant that does not exist is a no-op.
func (s *GrantStore) Revoke(ctx context.Context, userID, permission, scope string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission = $2 AND scope = $3`,
		userID, permission, scope,
	)
	if err != nil {
		return storeErr("revoke permission", err)
	}
	return nil
}

// ListForUser returns the direct grants of a user ordered by permission and scope
func (s *GrantStore) ListForUser(ctx context.Context, userID string) ([]UserPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, permission, scope, granted_by, created_at, updated_at
		FROM user_permissions
		WHERE user_id = $1
		ORDER BY permission ASC, scope ASC
	`, userID)
	if err != nil {
		return nil, storeErr("list user permissions", err)
	}
	defer rows.Close()

	grants := []UserPermission{}
	for rows.Next() {
		var g UserPermission
		var grantedBy sql.NullString
		if err := rows.Scan(&g.UserID, &g.Permission, &g.Scope, &grantedBy, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, storeErr("scan user permission", err)
		}
		if grantedBy.Valid {
			by := grantedBy.String
			g.GrantedBy = &by
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list user permissions", err)
	}
	return grants, nil
}

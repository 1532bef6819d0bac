package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store handles role persistence: roles, role permissions and user role assignments.
// Permission strings are expected to be validated and normalised by the caller.
type Store struct {
	db *sql.DB
}

// NewStore creates a new role store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const roleColumns = `id, name, description, position, created_at, updated_at`

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var description sql.NullString
	err := row.Scan(
		&role.ID,
		&role.Name,
		&description,
		&role.Position,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	role.Description = description.String
	role.Permissions = []string{}
	return &role, nil
}

// CreateRole inserts a role together with its permissions
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin create role", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO roles (name, description, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx, query,
		role.Name,
		role.Description,
		role.Position,
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
		}
		return storeErr("create role", err)
	}

	if err := insertRolePermissions(ctx, tx, role.ID, role.Permissions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit create role", err)
	}

	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if err != nil {
		return nil, storeErr("get role", err)
	}

	if role.Permissions, err = s.rolePermissions(ctx, s.db, roleID); err != nil {
		return nil, err
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, storeErr("get role by name", err)
	}

	if role.Permissions, err = s.rolePermissions(ctx, s.db, role.ID); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by position, then name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY position ASC, name ASC`)
	if err != nil {
		return nil, storeErr("list roles", err)
	}
	defer rows.Close()

	roles := []Role{}
	index := make(map[int64]int)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storeErr("scan role", err)
		}
		index[role.ID] = len(roles)
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list roles", err)
	}

	permRows, err := s.db.QueryContext(ctx, `SELECT role_id, permission FROM role_permissions ORDER BY role_id, permission`)
	if err != nil {
		return nil, storeErr("list role permissions", err)
	}
	defer permRows.Close()

	for permRows.Next() {
		var roleID int64
		var perm string
		if err := permRows.Scan(&roleID, &perm); err != nil {
			return nil, storeErr("scan role permission", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, perm)
		}
	}
	if err := permRows.Err(); err != nil {
		return nil, storeErr("list role permissions", err)
	}

	return roles, nil
}

// UpdateRole applies a partial update. When Permissions is set the role's
// permissions are replaced in the same transaction. The users holding the
// role at the time of the update are returned.
func (s *Store) UpdateRole(ctx context.Context, roleID int64, update RoleUpdate) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin update role", err)
	}
	defer tx.Rollback()

	role, err := scanRole(tx.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if err != nil {
		return nil, storeErr("get role", err)
	}

	if update.Name != nil {
		role.Name = *update.Name
	}
	if update.Description != nil {
		role.Description = *update.Description
	}
	if update.Position != nil {
		role.Position = *update.Position
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE roles SET name = $1, description = $2, position = $3, updated_at = $4 WHERE id = $5`,
		role.Name, role.Description, role.Position, time.Now().UTC(), roleID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
		}
		return nil, storeErr("update role", err)
	}

	if update.Permissions != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return nil, storeErr("clear role permissions", err)
		}
		if err := insertRolePermissions(ctx, tx, roleID, *update.Permissions); err != nil {
			return nil, err
		}
	}

	holders, err := s.roleHolders(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit update role", err)
	}
	return holders, nil
}

// DeleteRole removes a role and everything attached to it. The users that
// held the role are returned so their cached permissions can be dropped.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin delete role", err)
	}
	defer tx.Rollback()

	holders, err := s.roleHolders(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}

	// explicit deletes so drivers without foreign key enforcement behave the same
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
		return nil, storeErr("delete role assignments", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return nil, storeErr("delete role permissions", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return nil, storeErr("delete role", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, storeErr("delete role", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit delete role", err)
	}
	return holders, nil
}

// ReplaceRolePermissions swaps the full permission list of a role in one
// transaction and returns the users holding the role, read inside that transaction.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID int64, perms []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin replace role permissions", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM roles WHERE id = $1`, roleID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if err != nil {
		return nil, storeErr("get role", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return nil, storeErr("clear role permissions", err)
	}
	if err := insertRolePermissions(ctx, tx, roleID, perms); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE roles SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), roleID); err != nil {
		return nil, storeErr("touch role", err)
	}

	holders, err := s.roleHolders(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit replace role permissions", err)
	}
	return holders, nil
}

// AssignRole gives a role to a user. Assigning a role twice is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID string, roleID int64, grantedBy *string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM roles WHERE id = $1`, roleID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if err != nil {
		return storeErr("get role", err)
	}

	query := `
		INSERT INTO user_roles (user_id, role_id, granted_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, roleID, grantedBy, time.Now().UTC()); err != nil {
		return storeErr("assign role", err)
	}
	return nil
}

// RemoveRole takes a role away from a user. Removing a role the user does not hold is a no-op.
func (s *Store) RemoveRole(ctx context.Context, userID string, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return storeErr("remove role", err)
	}
	return nil
}

// ListRoleHolders returns the ids of every user holding the role
func (s *Store) ListRoleHolders(ctx context.Context, roleID int64) ([]string, error) {
	return s.roleHolders(ctx, s.db, roleID)
}

// UserRoles returns the role assignments of a user ordered by role position
func (s *Store) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.position, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.position ASC, r.name ASC
	`, userID)
	if err != nil {
		return nil, storeErr("list user roles", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storeErr("scan user role", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list user roles", err)
	}
	return roles, nil
}

// RoleNamesForUser returns the names of the roles a user holds
func (s *Store) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	return queryStrings(ctx, s.db, "role names for user", `
		SELECT r.name
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name ASC
	`, userID)
}

// RolePermissionsForUser joins user, role and role permission rows
func (s *Store) RolePermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	return queryStrings(ctx, s.db, "role permissions for user", `
		SELECT DISTINCT rp.permission
		FROM role_permissions rp
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY rp.permission ASC
	`, userID)
}

// HighestRolePosition returns the smallest position across the user's roles,
// or nil when the user holds no roles.
func (s *Store) HighestRolePosition(ctx context.Context, userID string) (*int, error) {
	var pos sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(r.position)
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
	`, userID).Scan(&pos)
	if err != nil {
		return nil, storeErr("highest role position", err)
	}
	if !pos.Valid {
		return nil, nil
	}
	p := int(pos.Int64)
	return &p, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) rolePermissions(ctx context.Context, q querier, roleID int64) ([]string, error) {
	return queryStrings(ctx, q, "role permissions",
		`SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission ASC`, roleID)
}

func (s *Store) roleHolders(ctx context.Context, q querier, roleID int64) ([]string, error) {
	return queryStrings(ctx, q, "role holders",
		`SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id ASC`, roleID)
}

func insertRolePermissions(ctx context.Context, tx *sql.Tx, roleID int64, perms []string) error {
	for _, perm := range perms {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roleID, perm,
		)
		if err != nil {
			return storeErr("insert role permission", err)
		}
	}
	return nil
}

func queryStrings(ctx context.Context, q querier, op, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

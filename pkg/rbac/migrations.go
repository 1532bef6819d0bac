package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/accessd/pkg/observability"
)

// Dialect selects the SQL flavour of a migration. Values match the
// database/sql driver names.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

func (m Migration) sql(d Dialect) string {
	if d == DialectSQLite {
		return m.SQLite
	}
	return m.Postgres
}

// Migrations returns all schema migrations in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles and role_permissions tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					position INTEGER NOT NULL DEFAULT 1000,
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_roles_position ON roles(position);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission VARCHAR(255) NOT NULL,
					PRIMARY KEY (role_id, permission)
				);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					position INTEGER NOT NULL DEFAULT 1000,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_roles_position ON roles(position);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission TEXT NOT NULL,
					PRIMARY KEY (role_id, permission)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create user_roles table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id VARCHAR(255) NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_by VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL,
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id TEXT NOT NULL,
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_by TEXT,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create user_permissions table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id VARCHAR(255) NOT NULL,
					permission VARCHAR(255) NOT NULL,
					scope VARCHAR(255) NOT NULL DEFAULT '*',
					granted_by VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					PRIMARY KEY (user_id, permission, scope)
				);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id TEXT NOT NULL,
					permission TEXT NOT NULL,
					scope TEXT NOT NULL DEFAULT '*',
					granted_by TEXT,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, permission, scope)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create org_groups and group_memberships tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS org_groups (
					slug VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					permission_mode VARCHAR(32) NOT NULL DEFAULT 'leader_only',
					fines_activated BOOLEAN NOT NULL DEFAULT FALSE,
					fines_admin_id VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL
				);

				CREATE TABLE IF NOT EXISTS group_memberships (
					user_id VARCHAR(255) NOT NULL,
					group_slug VARCHAR(255) NOT NULL REFERENCES org_groups(slug) ON DELETE CASCADE,
					role VARCHAR(32) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL,
					PRIMARY KEY (user_id, group_slug)
				);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS org_groups (
					slug TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					permission_mode TEXT NOT NULL DEFAULT 'leader_only',
					fines_activated INTEGER NOT NULL DEFAULT 0,
					fines_admin_id TEXT,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS group_memberships (
					user_id TEXT NOT NULL,
					group_slug TEXT NOT NULL REFERENCES org_groups(slug) ON DELETE CASCADE,
					role TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, group_slug)
				);
			`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own transaction,
// and records them in schema_migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.sql(dialect)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			migration.Version, migration.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("migration completed")
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

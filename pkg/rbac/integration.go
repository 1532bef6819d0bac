package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/accessd/pkg/groups"
	"github.com/platinummonkey/accessd/pkg/observability"
	"github.com/platinummonkey/accessd/pkg/permissions"
)

// Config holds RBAC configuration
type Config struct {
	// Cache is read through by the resolver. Nil disables caching.
	Cache Cache
	// Registry defaults to permissions.Default()
	Registry *permissions.Registry
	// Dialect selects the migration flavour
	Dialect Dialect
}

// Manager wires every RBAC component over one database
type Manager struct {
	db         *sql.DB
	config     Config
	store      *Store
	grants     *GrantStore
	groups     *groups.Store
	resolver   *Resolver
	engine     *Engine
	service    *Service
	middleware *Middleware
	handlers   *Handlers
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, config Config, metrics *observability.Metrics, logger *observability.Logger) *Manager {
	if config.Dialect == "" {
		config.Dialect = DialectPostgres
	}

	store := NewStore(db)
	grants := NewGrantStore(db)
	groupStore := groups.NewStore(db)
	resolver := NewResolver(store, grants, config.Registry, config.Cache, metrics, logger)
	engine := NewEngine(resolver, store, NewGroupDirectory(groupStore), metrics, logger)
	service := NewService(store, grants, resolver, metrics, logger)
	middleware := NewMiddleware(engine, logger)

	return &Manager{
		db:         db,
		config:     config,
		store:      store,
		grants:     grants,
		groups:     groupStore,
		resolver:   resolver,
		engine:     engine,
		service:    service,
		middleware: middleware,
		handlers:   NewHandlers(service, engine, middleware, logger),
	}
}

// Initialize runs pending migrations and applies the seed when one is given
func (m *Manager) Initialize(ctx context.Context, seed *Seed, logger *observability.Logger) error {
	if err := RunMigrations(ctx, m.db, m.config.Dialect, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if seed != nil {
		if _, err := m.service.ApplySeed(ctx, "", seed); err != nil {
			return fmt.Errorf("failed to apply role seed: %w", err)
		}
	}
	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Store returns the role store
func (m *Manager) Store() *Store { return m.store }

// Grants returns the direct grant store
func (m *Manager) Grants() *GrantStore { return m.grants }

// Groups returns the group store
func (m *Manager) Groups() *groups.Store { return m.groups }

// Engine returns the access decision engine
func (m *Manager) Engine() *Engine { return m.engine }

// Service returns the administrative service
func (m *Manager) Service() *Service { return m.service }

// Middleware returns the HTTP access middleware
func (m *Manager) Middleware() *Middleware { return m.middleware }

// Stats summarises the size of the RBAC data set
type Stats struct {
	Roles       int `json:"roles"`
	Assignments int `json:"assignments"`
	Grants      int `json:"grants"`
}

// GetStats counts roles, assignments and direct grants
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM roles", &stats.Roles},
		{"SELECT COUNT(*) FROM user_roles", &stats.Assignments},
		{"SELECT COUNT(*) FROM user_permissions", &stats.Grants},
	}
	for _, c := range counts {
		if err := m.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, storeErr("count", err)
		}
	}
	return &stats, nil
}

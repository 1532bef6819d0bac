package rbac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is a declarative set of roles and role assignments, usually loaded
// from YAML at startup:
//
//	roles:
//	  - name: admin
//	    position: 10
//	    permissions: [root]
//	  - name: editor
//	    position: 500
//	    permissions: ["news:update", "events:update@group:fotball"]
//	assignments:
//	  - user: "42"
//	    roles: [admin]
type Seed struct {
	Roles       []RoleInput      `yaml:"roles"`
	Assignments []SeedAssignment `yaml:"assignments"`
}

// SeedAssignment gives roles to a user
type SeedAssignment struct {
	User  string   `yaml:"user"`
	Roles []string `yaml:"roles"`
}

// SeedResult summarises what ApplySeed changed
type SeedResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Assigned int `json:"assigned"`
}

// ParseSeed decodes a YAML seed document
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: invalid seed: %w", ErrValidation, err)
	}
	return &seed, nil
}

// LoadSeed reads and decodes a YAML seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ApplySeed creates missing roles, brings existing ones in line with the seed
// and performs the assignments. Applying the same seed twice changes nothing
// the second time. All permission names are validated before the first write.
func (s *Service) ApplySeed(ctx context.Context, actorID string, seed *Seed) (SeedResult, error) {
	var result SeedResult

	names := make(map[string]struct{}, len(seed.Roles))
	for i, in := range seed.Roles {
		if in.Name == "" {
			return result, fmt.Errorf("%w: seed role %d has no name", ErrValidation, i)
		}
		if _, dup := names[in.Name]; dup {
			return result, fmt.Errorf("%w: seed role %q listed twice", ErrValidation, in.Name)
		}
		names[in.Name] = struct{}{}

		perms, err := s.NormalizePermissions(in.Permissions)
		if err != nil {
			return result, fmt.Errorf("seed role %q: %w", in.Name, err)
		}
		seed.Roles[i].Permissions = perms
	}

	for _, in := range seed.Roles {
		existing, err := s.roles.GetRoleByName(ctx, in.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			if _, err := s.CreateRole(ctx, actorID, in); err != nil {
				return result, err
			}
			result.Created++
		case err != nil:
			return result, err
		default:
			perms := in.Permissions
			update := RoleUpdate{Description: &in.Description, Permissions: &perms}
			if in.Position != nil {
				update.Position = in.Position
			}
			if !seedChanges(existing, update) {
				continue
			}
			if _, err := s.UpdateRole(ctx, actorID, existing.ID, update); err != nil {
				return result, err
			}
			result.Updated++
		}
	}

	for _, a := range seed.Assignments {
		for _, name := range a.Roles {
			role, err := s.roles.GetRoleByName(ctx, name)
			if err != nil {
				return result, fmt.Errorf("seed assignment for %q: %w", a.User, err)
			}
			if err := s.AssignRoleToUser(ctx, actorID, a.User, role.ID); err != nil {
				return result, err
			}
			result.Assigned++
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"created":  result.Created,
		"updated":  result.Updated,
		"assigned": result.Assigned,
	}).Info("role seed applied")
	return result, nil
}

func seedChanges(role *Role, update RoleUpdate) bool {
	if update.Description != nil && *update.Description != role.Description {
		return true
	}
	if update.Position != nil && *update.Position != role.Position {
		return true
	}
	if update.Permissions != nil && !samePermissions(*update.Permissions, role.Permissions) {
		return true
	}
	return false
}

// samePermissions compares as sets; stored order depends on the database collation
func samePermissions(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, p := range a {
		set[strings.TrimSpace(p)] = true
	}
	seen := make(map[string]bool, len(b))
	for _, p := range b {
		if !set[p] {
			return false
		}
		seen[p] = true
	}
	return len(seen) == len(set)
}

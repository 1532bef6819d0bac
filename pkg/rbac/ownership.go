package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// OwnershipChecker decides whether a user owns a resource. Implementations
// return an error wrapping ErrNotFound when the resource does not exist.
type OwnershipChecker interface {
	IsOwner(ctx context.Context, resourceID, userID string) (bool, error)
}

// OwnershipFunc adapts a function to OwnershipChecker
type OwnershipFunc func(ctx context.Context, resourceID, userID string) (bool, error)

// IsOwner calls f
func (f OwnershipFunc) IsOwner(ctx context.Context, resourceID, userID string) (bool, error) {
	return f(ctx, resourceID, userID)
}

// ColumnChecker compares an owner column of a table row with the user id.
// Table and column names come from code, never from requests.
type ColumnChecker struct {
	db       *sql.DB
	resource string
	query    string
}

// NewColumnChecker builds a checker reading ownerColumn from table where idColumn matches
func NewColumnChecker(db *sql.DB, table, idColumn, ownerColumn string) *ColumnChecker {
	return &ColumnChecker{
		db:       db,
		resource: table,
		query:    fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, ownerColumn, table, idColumn),
	}
}

// EventOrganizerChecker treats the organizer of an event as its owner
func EventOrganizerChecker(db *sql.DB) *ColumnChecker {
	return NewColumnChecker(db, "events", "id", "organizer_id")
}

// FineRecipientChecker treats the user a fine was issued to as its owner
func FineRecipientChecker(db *sql.DB) *ColumnChecker {
	return NewColumnChecker(db, "fines", "id", "user_id")
}

// JobCreatorChecker treats the creator of a job listing as its owner
func JobCreatorChecker(db *sql.DB) *ColumnChecker {
	return NewColumnChecker(db, "jobs", "id", "created_by")
}

// IsOwner implements OwnershipChecker
func (c *ColumnChecker) IsOwner(ctx context.Context, resourceID, userID string) (bool, error) {
	var owner sql.NullString
	err := c.db.QueryRowContext(ctx, c.query, resourceID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s %s", ErrNotFound, c.resource, resourceID)
	}
	if err != nil {
		return false, storeErr("check "+c.resource+" owner", err)
	}
	return owner.Valid && owner.String == userID, nil
}

// GroupLeaderChecker treats the leaders of a group as its owners. The
// resource id is the group slug.
func GroupLeaderChecker(dir GroupDirectory) OwnershipChecker {
	return OwnershipFunc(func(ctx context.Context, slug, userID string) (bool, error) {
		group, err := dir.GetGroup(ctx, slug)
		if err != nil {
			return false, err
		}
		if group == nil {
			return false, fmt.Errorf("%w: group %s", ErrNotFound, slug)
		}
		m, err := dir.GetMembership(ctx, userID, slug)
		if err != nil {
			return false, err
		}
		return m != nil && m.IsLeader(), nil
	})
}

// GroupFinesAdminChecker treats the fines administrator of a group as the owner
// of its fines. Groups without fines activated have no owner.
func GroupFinesAdminChecker(dir GroupDirectory) OwnershipChecker {
	return OwnershipFunc(func(ctx context.Context, slug, userID string) (bool, error) {
		group, err := dir.GetGroup(ctx, slug)
		if err != nil {
			return false, err
		}
		if group == nil {
			return false, fmt.Errorf("%w: group %s", ErrNotFound, slug)
		}
		if !group.FinesActivated || group.FinesAdminID == nil {
			return false, nil
		}
		return *group.FinesAdminID == userID, nil
	})
}

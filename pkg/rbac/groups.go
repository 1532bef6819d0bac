package rbac

import (
	"context"
	"errors"

	"github.com/platinummonkey/accessd/pkg/groups"
)

// GroupDirectory is what the engine needs to know about groups. GetGroup
// returns (nil, nil) for an unknown slug and GetMembership returns (nil, nil)
// for a non-member.
type GroupDirectory interface {
	GetGroup(ctx context.Context, slug string) (*groups.Group, error)
	GetMembership(ctx context.Context, userID, slug string) (*groups.Membership, error)
}

// storeDirectory adapts groups.Store to GroupDirectory
type storeDirectory struct {
	store *groups.Store
}

// NewGroupDirectory wraps a group store
func NewGroupDirectory(store *groups.Store) GroupDirectory {
	return &storeDirectory{store: store}
}

func (d *storeDirectory) GetGroup(ctx context.Context, slug string) (*groups.Group, error) {
	g, err := d.store.GetGroup(ctx, slug)
	if err != nil {
		if errors.Is(err, groups.ErrGroupNotFound) {
			return nil, nil
		}
		return nil, storeErr("get group", err)
	}
	return g, nil
}

func (d *storeDirectory) GetMembership(ctx context.Context, userID, slug string) (*groups.Membership, error) {
	m, err := d.store.GetMembership(ctx, userID, slug)
	if err != nil {
		return nil, storeErr("get membership", err)
	}
	return m, nil
}

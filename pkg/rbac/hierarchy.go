package rbac

import "context"

// CanManage reports whether a user at managerPos may act on a user at
// targetPos. Lower positions carry more authority and the comparison is
// strict, so equals never manage each other and a missing position never
// manages nor is managed.
func CanManage(managerPos, targetPos *int) bool {
	if managerPos == nil || targetPos == nil {
		return false
	}
	return *managerPos < *targetPos
}

// HighestRolePosition returns the most authoritative (lowest) position across
// the user's roles, or nil when the user holds none.
func (e *Engine) HighestRolePosition(ctx context.Context, userID string) (*int, error) {
	return e.roles.HighestRolePosition(ctx, userID)
}

// UserCanManageUser compares the highest role positions of two users
func (e *Engine) UserCanManageUser(ctx context.Context, managerID, targetID string) (bool, error) {
	managerPos, err := e.roles.HighestRolePosition(ctx, managerID)
	if err != nil {
		return false, err
	}
	if managerPos == nil {
		return false, nil
	}
	targetPos, err := e.roles.HighestRolePosition(ctx, targetID)
	if err != nil {
		return false, err
	}
	return CanManage(managerPos, targetPos), nil
}

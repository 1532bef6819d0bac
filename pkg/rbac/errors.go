package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrValidation covers unknown permission names and malformed scoped permissions
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a role, user or resource does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint such as the role name is violated
	ErrConflict = errors.New("conflict")
	// ErrUnauthenticated is returned when no principal is present
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is the boundary form of a denied access decision
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable wraps database and cache failures so callers can tell
	// "denied" apart from "could not decide"
	ErrStoreUnavailable = errors.New("store unavailable")
)

func validationErr(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// isUniqueViolation recognises unique constraint failures from postgres and sqlite
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("resource conflict")
	ErrUpstream        = errors.New("upstream failure")
	ErrTimeout         = errors.New("upstream timeout")

	// ErrAdminFloor matches denials caused by the Administration admin floor.
	ErrAdminFloor = errors.New("administration admin floor reached")

	// ErrInvalidToken indicates the bearer token failed validation.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
)

// DenyError carries the rule that rejected an action and its user-facing reason.
type DenyError struct {
	Rule   int
	Reason string
}

func (e *DenyError) Error() string { return e.Reason }

// Is makes every DenyError match ErrForbidden, and admin-floor denials match ErrAdminFloor.
func (e *DenyError) Is(target error) bool {
	return target == ErrForbidden || (target == ErrAdminFloor && e.Rule == RuleAdminFloor)
}

// Deny builds a DenyError for rule with reason.
func Deny(rule int, reason string) *DenyError {
	return &DenyError{Rule: rule, Reason: reason}
}

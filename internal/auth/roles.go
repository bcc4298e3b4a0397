package auth

import (
	"fmt"
	"strings"
)

// Role is the per-service role a user can hold.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// ParseRole normalises and validates a role string.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: role must be admin or user", ErrInvalidInput)
	}
	return r, nil
}

// Membership is an actor's standing in the Administration service.
type Membership string

const (
	MembershipNone  Membership = "none"
	MembershipAdmin Membership = "admin"
	MembershipUser  Membership = "user"
)

// MembershipOf converts a role lookup into a membership value.
func MembershipOf(role Role, found bool) Membership {
	if !found {
		return MembershipNone
	}
	switch role {
	case RoleAdmin:
		return MembershipAdmin
	case RoleUser:
		return MembershipUser
	default:
		return MembershipNone
	}
}

// Role returns the role behind the membership, if any.
func (m Membership) Role() (Role, bool) {
	switch m {
	case MembershipAdmin:
		return RoleAdmin, true
	case MembershipUser:
		return RoleUser, true
	default:
		return "", false
	}
}

// AdministrationService is the default name of the privileged service.
const AdministrationService = "Administration"

// MinAdministrationAdmins is the floor of admins the Administration service keeps.
const MinAdministrationAdmins = 2

// BanDuration describes a requested ban change.
type BanDuration struct {
	Banned bool
	// Days bounds the ban; zero or less means indefinite.
	Days int
}

// Indefinite reports whether the ban never expires.
func (d BanDuration) Indefinite() bool { return d.Banned && d.Days <= 0 }

// ProviderValue renders the duration in the identity provider's ban format.
func (d BanDuration) ProviderValue() string {
	switch {
	case !d.Banned:
		return "0"
	case d.Days > 0:
		return fmt.Sprintf("%dh", d.Days*24)
	default:
		return "none"
	}
}

// String renders the duration for audit details.
func (d BanDuration) String() string {
	if d.Days > 0 {
		return fmt.Sprintf("%d days", d.Days)
	}
	return "Indefinite"
}

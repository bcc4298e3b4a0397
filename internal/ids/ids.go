package ids

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier for requests and log correlation.
func New() string {
	return ulid.Make().String()
}

// ValidAccountID reports whether s is a canonical account identifier.
// Accounts and services are keyed by UUIDs owned by the identity provider and the database.
func ValidAccountID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

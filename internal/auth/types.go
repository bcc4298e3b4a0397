package auth

import (
	"encoding/json"
	"time"
)

// Account is an identity-provider owned user record.
type Account struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	FullName         string         `json:"full_name,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	Ban              BanState       `json:"-"`
}

// Verified reports whether the account confirmed its email address.
func (a Account) Verified() bool {
	return a.EmailConfirmedAt != nil && !a.EmailConfirmedAt.IsZero()
}

// BanKind enumerates the ban states an account can be in.
type BanKind int

const (
	BanNone BanKind = iota
	BanUntil
	BanIndefinite
)

// BanState describes whether and until when an account is banned.
type BanState struct {
	Kind  BanKind
	Until time.Time
}

// Active reports whether the ban is in effect at now.
func (b BanState) Active(now time.Time) bool {
	switch b.Kind {
	case BanIndefinite:
		return true
	case BanUntil:
		return b.Until.After(now)
	default:
		return false
	}
}

// MarshalJSON renders the ban as the provider does: null, "none" or a timestamp.
func (b BanState) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BanIndefinite:
		return json.Marshal("none")
	case BanUntil:
		return json.Marshal(b.Until.UTC().Format(time.RFC3339))
	default:
		return []byte("null"), nil
	}
}

// Service is a named capability domain users can hold roles in.
type Service struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ServiceRef is the compact service shape embedded into role rows.
type ServiceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ServiceRoleRow assigns a role to a user within one service.
type ServiceRoleRow struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	ServiceID string     `json:"service_id"`
	Role      Role       `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	Service   ServiceRef `json:"service"`
}

// AuditEntry is an immutable record of a privileged mutation.
type AuditEntry struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	ActorID     string          `json:"actor_id,omitempty"`
	ActorEmail  string          `json:"actor_email,omitempty"`
	Action      string          `json:"action"`
	TargetID    string          `json:"target_id,omitempty"`
	TargetEmail string          `json:"target_email,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

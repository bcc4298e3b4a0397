package identity

import (
	"context"

	"gatehouse.org/internal/auth"
)

// Provider is the identity-provider contract the admin API consumes.
type Provider interface {
	// ValidateToken resolves a bearer token to the account it was issued for.
	ValidateToken(ctx context.Context, token string) (auth.Account, error)
	GetAccount(ctx context.Context, id string) (auth.Account, error)
	ListAccounts(ctx context.Context, page, perPage int) (AccountPage, error)
	CreateAccount(ctx context.Context, email string, metadata map[string]any) (auth.Account, error)
	InviteAccount(ctx context.Context, email string, metadata map[string]any) (auth.Account, error)
	UpdateAccount(ctx context.Context, id string, metadata map[string]any) (auth.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	SetBan(ctx context.Context, id string, d auth.BanDuration) (auth.Account, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// AccountPage is one page of a provider account listing.
type AccountPage struct {
	Accounts []auth.Account
	// Total is the provider-reported total, or -1 when unknown.
	Total int
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

// indefiniteAfter treats bans ending this far in the future as indefinite.
const indefiniteAfter = 50 * 365 * 24 * time.Hour

// Options configures a GoTrue client.
type Options struct {
	// BaseURL is the provider root, e.g. https://project.supabase.co.
	// A trailing /auth/v1 is accepted and not repeated.
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	RetryCount int
	// Verifier enables local token verification. When nil tokens are
	// checked against the provider's /user endpoint.
	Verifier *auth.TokenVerifier
	Now      func() time.Time
}

// GoTrue talks to a GoTrue-compatible identity provider over its admin REST API.
type GoTrue struct {
	client   *resty.Client
	verifier *auth.TokenVerifier
	now      func() time.Time
}

const apiPrefix = "/auth/v1"

var _ Provider = (*GoTrue)(nil)

// NewGoTrue builds a client for opts.BaseURL authenticated with the service key.
func NewGoTrue(opts Options) (*GoTrue, error) {
	base := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"), apiPrefix)
	if base == "" {
		return nil, errors.New("identity base URL is required")
	}
	if strings.TrimSpace(opts.ServiceKey) == "" {
		return nil, errors.New("identity service key is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	client := resty.New().
		SetBaseURL(base+apiPrefix).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("apikey", opts.ServiceKey).
		SetAuthToken(opts.ServiceKey).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second)
	client.AddRetryCondition(retryCondition)
	return &GoTrue{client: client, verifier: opts.Verifier, now: now}, nil
}

// retryCondition retries idempotent reads on transport failures and 5xx answers.
func retryCondition(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
	}
	return r.StatusCode() >= http.StatusInternalServerError
}

type userPayload struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	UserMetadata     map[string]any `json:"user_metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at"`
	BannedUntil      *string        `json:"banned_until"`
}

type usersPayload struct {
	Users []userPayload `json:"users"`
}

type errorPayload struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errorPayload) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (g *GoTrue) toAccount(p userPayload) auth.Account {
	acc := auth.Account{
		ID:               p.ID,
		Email:            p.Email,
		Metadata:         p.UserMetadata,
		CreatedAt:        p.CreatedAt,
		EmailConfirmedAt: p.EmailConfirmedAt,
		LastSignInAt:     p.LastSignInAt,
	}
	if name, ok := p.UserMetadata["full_name"].(string); ok {
		acc.FullName = name
	}
	acc.Ban = g.parseBan(p.BannedUntil)
	return acc
}

func (g *GoTrue) parseBan(raw *string) auth.BanState {
	if raw == nil {
		return auth.BanState{}
	}
	v := strings.TrimSpace(*raw)
	switch v {
	case "":
		return auth.BanState{}
	case "none":
		return auth.BanState{Kind: auth.BanIndefinite}
	}
	until, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return auth.BanState{Kind: auth.BanIndefinite}
	}
	if until.Sub(g.now()) > indefiniteAfter {
		return auth.BanState{Kind: auth.BanIndefinite, Until: until}
	}
	return auth.BanState{Kind: auth.BanUntil, Until: until}
}

func (g *GoTrue) ValidateToken(ctx context.Context, token string) (auth.Account, error) {
	if g.verifier != nil {
		claims, err := g.verifier.Verify(token)
		if err != nil {
			return auth.Account{}, err
		}
		return auth.Account{ID: claims.Subject, Email: claims.Email}, nil
	}
	var out userPayload
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		SetError(&errorPayload{}).
		Get("/user")
	if err == nil && isStatus(resp, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound) {
		return auth.Account{}, auth.ErrInvalidToken
	}
	if err := g.check(ctx, "validate token", resp, err); err != nil {
		return auth.Account{}, err
	}
	if out.ID == "" {
		return auth.Account{}, auth.ErrInvalidToken
	}
	return g.toAccount(out), nil
}

func (g *GoTrue) GetAccount(ctx context.Context, id string) (auth.Account, error) {
	var out userPayload
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&errorPayload{}).
		Get("/admin/users/{id}")
	if err := g.check(ctx, "get account", resp, err); err != nil {
		return auth.Account{}, err
	}
	return g.toAccount(out), nil
}

func (g *GoTrue) ListAccounts(ctx context.Context, page, perPage int) (AccountPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	var out usersPayload
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("page", strconv.Itoa(page)).
		SetQueryParam("per_page", strconv.Itoa(perPage)).
		SetResult(&out).
		SetError(&errorPayload{}).
		Get("/admin/users")
	if err := g.check(ctx, "list accounts", resp, err); err != nil {
		return AccountPage{}, err
	}
	result := AccountPage{Accounts: make([]auth.Account, 0, len(out.Users)), Total: -1}
	if total, err := strconv.Atoi(resp.Header().Get("X-Total-Count")); err == nil {
		result.Total = total
	}
	for _, u := range out.Users {
		result.Accounts = append(result.Accounts, g.toAccount(u))
	}
	return result, nil
}

func (g *GoTrue) CreateAccount(ctx context.Context, email string, metadata map[string]any) (auth.Account, error) {
	var out userPayload
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"email": email, "user_metadata": metadata}).
		SetResult(&out).
		SetError(&errorPayload{}).
		Post("/admin/users")
	if err := g.check(ctx, "create account", resp, err); err != nil {
		return auth.Account{}, err
	}
	return g.toAccount(out), nil
}

func (g *GoTrue) InviteAccount(ctx context.Context, email string, metadata map[string]any) (auth.Account, error) {
	var out userPayload
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"email": email, "data": metadata}).
		SetResult(&out).
		SetError(&errorPayload{}).
		Post("/invite")
	if err := g.check(ctx, "invite account", resp, err); err != nil {
		return auth.Account{}, err
	}
	return g.toAccount(out), nil
}

func (g *GoTrue) UpdateAccount(ctx context.Context, id string, metadata map[string]any) (auth.Account, error) {
	return g.updateUser(ctx, "update account", id, map[string]any{"user_metadata": metadata})
}

func (g *GoTrue) SetBan(ctx context.Context, id string, d auth.BanDuration) (auth.Account, error) {
	return g.updateUser(ctx, "set ban", id, map[string]any{"ban_duration": d.ProviderValue()})
}

func (g *GoTrue) updateUser(ctx context.Context, op, id string, body map[string]any) (auth.Account, error) {
	var out userPayload
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(body).
		SetResult(&out).
		SetError(&errorPayload{}).
		Put("/admin/users/{id}")
	if err := g.check(ctx, op, resp, err); err != nil {
		return auth.Account{}, err
	}
	return g.toAccount(out), nil
}

func (g *GoTrue) DeleteAccount(ctx context.Context, id string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetError(&errorPayload{}).
		Delete("/admin/users/{id}")
	return g.check(ctx, "delete account", resp, err)
}

func (g *GoTrue) SendPasswordReset(ctx context.Context, email string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email}).
		SetError(&errorPayload{}).
		Post("/recover")
	return g.check(ctx, "send password reset", resp, err)
}

// check folds transport failures and provider error answers into sentinel errors.
func (g *GoTrue) check(ctx context.Context, op string, resp *resty.Response, err error) error {
	if err != nil {
		obs.ObserveUpstreamError("identity")
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: identity %s: %v", auth.ErrTimeout, op, err)
		}
		return fmt.Errorf("%w: identity %s: %v", auth.ErrUpstream, op, err)
	}
	if resp == nil || !resp.IsError() {
		return nil
	}
	msg := ""
	if e, ok := resp.Error().(*errorPayload); ok && e != nil {
		msg = e.text()
		if e.ErrorCode == "email_exists" || e.ErrorCode == "user_already_exists" {
			return fmt.Errorf("%w: %s", auth.ErrConflict, msg)
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", auth.ErrNotFound, msg)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", auth.ErrConflict, msg)
	case code == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "already"):
		return fmt.Errorf("%w: %s", auth.ErrConflict, msg)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, msg)
	default:
		obs.ObserveUpstreamError("identity")
		obs.Ctx(ctx).Error().Str("op", op).Int("status", code).Str("provider_error", msg).Msg("identity provider error")
		return fmt.Errorf("%w: identity %s: status %d: %s", auth.ErrUpstream, op, code, msg)
	}
}

func isStatus(resp *resty.Response, codes ...int) bool {
	if resp == nil {
		return false
	}
	for _, c := range codes {
		if resp.StatusCode() == c {
			return true
		}
	}
	return false
}

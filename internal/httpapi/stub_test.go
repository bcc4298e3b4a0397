package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
)

const (
	adminID  = "0f8f7a3e-0000-4000-8000-0000000000a1"
	memberID = "0f8f7a3e-0000-4000-8000-0000000000b1"
	guestID  = "0f8f7a3e-0000-4000-8000-0000000000c1"
	targetID = "0f8f7a3e-0000-4000-8000-0000000000d1"
	crmID    = "5b0e7c55-0000-4000-8000-000000000002"
)

type stubBackend struct {
	listUsersFn     func(context.Context, admin.UserQuery) (admin.UserPage, error)
	createAccountFn func(context.Context, auth.Actor, admin.CreateAccountInput) (auth.Account, error)
	updateAccountFn func(context.Context, auth.Actor, string, admin.UpdateAccountInput) (auth.Account, error)
	deleteAccountFn func(context.Context, auth.Actor, string) error
	setBanFn        func(context.Context, auth.Actor, string, auth.BanDuration) (auth.Account, error)
	resetPasswordFn func(context.Context, auth.Actor, string) error
	userRolesFn     func(context.Context, string) ([]auth.ServiceRoleRow, error)
	grantFn         func(context.Context, auth.Actor, admin.GrantInput) (auth.ServiceRoleRow, error)
	updateRoleFn    func(context.Context, auth.Actor, string, string, auth.Role) (auth.ServiceRoleRow, error)
	revokeFn        func(context.Context, auth.Actor, string, string) error
	listServicesFn  func(context.Context) ([]auth.Service, error)
	listLogsFn      func(context.Context, auth.Actor, admin.LogQuery) (admin.LogPage, error)
	resolveActorFn  func(context.Context, string) (auth.ActorContext, error)
}

// tokens maps the bearer tokens tests use to resolved callers.
var tokens = map[string]auth.ActorContext{
	"admin-token":  {AccountID: adminID, Email: "alice@example.com", Membership: auth.MembershipAdmin},
	"member-token": {AccountID: memberID, Email: "dave@example.com", Membership: auth.MembershipUser},
	"guest-token":  {AccountID: guestID, Email: "erin@example.com", Membership: auth.MembershipNone},
}

func (s *stubBackend) ResolveActor(ctx context.Context, token string) (auth.ActorContext, error) {
	if s.resolveActorFn != nil {
		return s.resolveActorFn(ctx, token)
	}
	actor, ok := tokens[token]
	if !ok {
		return auth.ActorContext{}, auth.ErrInvalidToken
	}
	return actor, nil
}

func (s *stubBackend) ListUsers(ctx context.Context, q admin.UserQuery) (admin.UserPage, error) {
	if s.listUsersFn != nil {
		return s.listUsersFn(ctx, q)
	}
	return admin.UserPage{Users: []admin.User{}}, nil
}

func (s *stubBackend) CreateAccount(ctx context.Context, actor auth.Actor, in admin.CreateAccountInput) (auth.Account, error) {
	if s.createAccountFn != nil {
		return s.createAccountFn(ctx, actor, in)
	}
	return auth.Account{}, nil
}

func (s *stubBackend) UpdateAccount(ctx context.Context, actor auth.Actor, id string, in admin.UpdateAccountInput) (auth.Account, error) {
	if s.updateAccountFn != nil {
		return s.updateAccountFn(ctx, actor, id, in)
	}
	return auth.Account{ID: id}, nil
}

func (s *stubBackend) DeleteAccount(ctx context.Context, actor auth.Actor, id string) error {
	if s.deleteAccountFn != nil {
		return s.deleteAccountFn(ctx, actor, id)
	}
	return nil
}

func (s *stubBackend) SetBan(ctx context.Context, actor auth.Actor, id string, d auth.BanDuration) (auth.Account, error) {
	if s.setBanFn != nil {
		return s.setBanFn(ctx, actor, id, d)
	}
	return auth.Account{ID: id}, nil
}

func (s *stubBackend) ResetPassword(ctx context.Context, actor auth.Actor, id string) error {
	if s.resetPasswordFn != nil {
		return s.resetPasswordFn(ctx, actor, id)
	}
	return nil
}

func (s *stubBackend) UserServiceRoles(ctx context.Context, userID string) ([]auth.ServiceRoleRow, error) {
	if s.userRolesFn != nil {
		return s.userRolesFn(ctx, userID)
	}
	return []auth.ServiceRoleRow{}, nil
}

func (s *stubBackend) GrantServiceRole(ctx context.Context, actor auth.Actor, in admin.GrantInput) (auth.ServiceRoleRow, error) {
	if s.grantFn != nil {
		return s.grantFn(ctx, actor, in)
	}
	return auth.ServiceRoleRow{UserID: in.UserID, ServiceID: in.ServiceID, Role: in.Role}, nil
}

func (s *stubBackend) UpdateServiceRole(ctx context.Context, actor auth.Actor, userID, serviceID string, role auth.Role) (auth.ServiceRoleRow, error) {
	if s.updateRoleFn != nil {
		return s.updateRoleFn(ctx, actor, userID, serviceID, role)
	}
	return auth.ServiceRoleRow{UserID: userID, ServiceID: serviceID, Role: role}, nil
}

func (s *stubBackend) RevokeServiceRole(ctx context.Context, actor auth.Actor, userID, serviceID string) error {
	if s.revokeFn != nil {
		return s.revokeFn(ctx, actor, userID, serviceID)
	}
	return nil
}

func (s *stubBackend) ListServices(ctx context.Context) ([]auth.Service, error) {
	if s.listServicesFn != nil {
		return s.listServicesFn(ctx)
	}
	return []auth.Service{}, nil
}

func (s *stubBackend) ListLogs(ctx context.Context, actor auth.Actor, q admin.LogQuery) (admin.LogPage, error) {
	if s.listLogsFn != nil {
		return s.listLogsFn(ctx, actor, q)
	}
	return admin.LogPage{Logs: []auth.AuditEntry{}}, nil
}

type stubProbe struct{ err error }

func (p stubProbe) Ping(context.Context) error { return p.err }

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T, backend Backend) *apiClient {
	t.Helper()
	return newTestAPIWith(t, backend, stubProbe{}, Options{Version: "test", RatePerSec: 1000, RateBurst: 1000})
}

func newTestAPIWith(t *testing.T, backend Backend, probe ReadyProbe, opts Options) *apiClient {
	t.Helper()
	api, err := New(backend, probe, opts)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, status int, msg string) map[string]any {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if msg != "" && body["error"] != msg {
		t.Fatalf("expected error %q, got %v", msg, body["error"])
	}
	return body
}

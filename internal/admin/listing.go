package admin

import (
	"context"
	"fmt"
	"strings"

	"gatehouse.org/internal/auth"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100

	providerPageSize = 1000
	maxProviderPages = 50
)

// Page is a 1-based offset page request.
type Page struct {
	Page  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

func (p Page) offset() int { return (p.Page - 1) * p.Limit }

func totalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// User status filters.
const (
	StatusVerified    = "verified"
	StatusNotVerified = "not-verified"
	StatusBanned      = "banned"
)

// RoleNone selects accounts without any service role.
const RoleNone = "none"

// UserQuery filters the user listing. Empty fields match everything.
type UserQuery struct {
	Page
	Search    string
	Role      string
	ServiceID string
	Status    string
}

// User is an account together with every role it holds.
type User struct {
	auth.Account
	BannedUntil  auth.BanState         `json:"banned_until"`
	ServiceRoles []auth.ServiceRoleRow `json:"service_roles"`
}

// UserPage is one page of the user listing.
type UserPage struct {
	Users       []User `json:"users"`
	Total       int    `json:"total"`
	TotalPages  int    `json:"totalPages"`
	CurrentPage int    `json:"currentPage"`
}

// LogQuery filters the audit log listing.
type LogQuery struct {
	Page
	Search string
	Action string
}

// LogPage is one page of the audit log, newest first.
type LogPage struct {
	Logs        []auth.AuditEntry `json:"logs"`
	Total       int               `json:"total"`
	TotalPages  int               `json:"totalPages"`
	CurrentPage int               `json:"currentPage"`
}

// ListUsers pages through provider accounts, filters them in memory against
// the query and attaches each user's service roles.
func (s *Service) ListUsers(ctx context.Context, q UserQuery) (page UserPage, err error) {
	q.Page = q.Page.normalize()
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	accounts, err := s.allAccounts(ctx)
	if err != nil {
		return UserPage{}, err
	}
	keep, err := s.roleFilter(ctx, q)
	if err != nil {
		return UserPage{}, err
	}

	now := s.now()
	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]auth.Account, 0, len(accounts))
	for _, acc := range accounts {
		if keep != nil && !keep(acc.ID) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(acc.Email), search) &&
			!strings.Contains(strings.ToLower(acc.FullName), search) {
			continue
		}
		switch q.Status {
		case StatusVerified:
			if !acc.Verified() {
				continue
			}
		case StatusNotVerified:
			if acc.Verified() {
				continue
			}
		case StatusBanned:
			if !acc.Ban.Active(now) {
				continue
			}
		}
		matched = append(matched, acc)
	}

	page = UserPage{
		Users:       []User{},
		Total:       len(matched),
		TotalPages:  totalPages(len(matched), q.Limit),
		CurrentPage: q.Page.Page,
	}
	start := q.offset()
	if start >= len(matched) {
		return page, nil
	}
	end := min(start+q.Limit, len(matched))
	window := matched[start:end]

	ids := make([]string, 0, len(window))
	for _, acc := range window {
		ids = append(ids, acc.ID)
	}
	rows, err := s.store.ListServiceRoles(ctx, auth.ServiceRoleFilter{UserIDs: ids})
	if err != nil {
		return UserPage{}, fmt.Errorf("list service roles: %w", err)
	}
	byUser := make(map[string][]auth.ServiceRoleRow, len(window))
	for _, row := range rows {
		byUser[row.UserID] = append(byUser[row.UserID], row)
	}
	for _, acc := range window {
		roles := byUser[acc.ID]
		if roles == nil {
			roles = []auth.ServiceRoleRow{}
		}
		page.Users = append(page.Users, User{Account: acc, BannedUntil: acc.Ban, ServiceRoles: roles})
	}
	return page, nil
}

func (s *Service) allAccounts(ctx context.Context) ([]auth.Account, error) {
	var out []auth.Account
	for p := 1; p <= maxProviderPages; p++ {
		res, err := s.provider.ListAccounts(ctx, p, providerPageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Accounts...)
		if len(res.Accounts) < providerPageSize || (res.Total >= 0 && len(out) >= res.Total) {
			break
		}
	}
	return out, nil
}

// roleFilter returns a membership predicate for the role and service filters,
// or nil when neither is set.
func (s *Service) roleFilter(ctx context.Context, q UserQuery) (func(string) bool, error) {
	if q.Role == "" && q.ServiceID == "" {
		return nil, nil
	}
	if q.Role == RoleNone {
		assigned, err := s.store.AssignedUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list assigned users: %w", err)
		}
		set := toSet(assigned)
		return func(id string) bool {
			_, ok := set[id]
			return !ok
		}, nil
	}
	filter := auth.ServiceRoleFilter{ServiceID: q.ServiceID}
	if q.Role != "" {
		role, err := auth.ParseRole(q.Role)
		if err != nil {
			return nil, err
		}
		filter.Role = role
	}
	rows, err := s.store.ListServiceRoles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list service roles: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UserID)
	}
	set := toSet(ids)
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ListServices returns every service ordered by name.
func (s *Service) ListServices(ctx context.Context) (services []auth.Service, err error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	services, err = s.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	if services == nil {
		services = []auth.Service{}
	}
	return services, nil
}

// ListLogs pages through the audit log. Only admins may read it.
func (s *Service) ListLogs(ctx context.Context, actor auth.Actor, q LogQuery) (page LogPage, err error) {
	if err := s.decide(ctx, actor, auth.ActionViewLogs, auth.Target{}, auth.InvariantState{}); err != nil {
		return LogPage{}, err
	}
	q.Page = q.Page.normalize()
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	logs, total, err := s.store.ListAudit(ctx, auth.AuditFilter{
		Search: strings.TrimSpace(q.Search),
		Action: strings.TrimSpace(q.Action),
		Limit:  q.Limit,
		Offset: q.offset(),
	})
	if err != nil {
		return LogPage{}, err
	}
	if logs == nil {
		logs = []auth.AuditEntry{}
	}
	return LogPage{
		Logs:        logs,
		Total:       total,
		TotalPages:  totalPages(total, q.Limit),
		CurrentPage: q.Page.Page,
	}, nil
}

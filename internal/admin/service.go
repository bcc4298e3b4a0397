package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

var (
	ErrUserNotFound        = fmt.Errorf("%w: User not found", auth.ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("%w: Service not found", auth.ErrNotFound)
	ErrServiceRoleNotFound = fmt.Errorf("%w: Service role not found", auth.ErrNotFound)
	ErrRoleExists          = fmt.Errorf("%w: User already has a role in this service", auth.ErrConflict)
	ErrEmailTaken          = fmt.Errorf("%w: A user with this email address has already been registered", auth.ErrConflict)
)

// Store is the relational persistence the admin service needs.
type Store interface {
	ListServices(ctx context.Context) ([]auth.Service, error)
	GetService(ctx context.Context, id string) (auth.Service, error)
	ServiceByName(ctx context.Context, name string) (auth.Service, error)

	ListServiceRoles(ctx context.Context, filter auth.ServiceRoleFilter) ([]auth.ServiceRoleRow, error)
	AssignedUserIDs(ctx context.Context) ([]string, error)
	GetServiceRole(ctx context.Context, userID, serviceID string) (auth.ServiceRoleRow, error)
	ServiceRoleByName(ctx context.Context, userID, serviceName string) (auth.ServiceRoleRow, error)
	CountAdmins(ctx context.Context, serviceID string) (int, error)
	InsertServiceRole(ctx context.Context, userID, serviceID string, role auth.Role) (auth.ServiceRoleRow, error)
	UpdateServiceRole(ctx context.Context, userID, serviceID string, role auth.Role, guard auth.FloorGuard) (auth.ServiceRoleRow, error)
	DeleteServiceRole(ctx context.Context, userID, serviceID string, guard auth.FloorGuard) (auth.ServiceRoleRow, error)
	DeleteUserRoles(ctx context.Context, userID string, guard auth.FloorGuard, commit func(context.Context) error) error

	ListAudit(ctx context.Context, filter auth.AuditFilter) ([]auth.AuditEntry, int, error)
}

// Auditor records privileged mutations. Record never fails from the caller's view.
type Auditor interface {
	Record(ctx context.Context, actor auth.Actor, tag audit.Tag, target *audit.Target, details audit.Details)
}

// Options configures Service.
type Options struct {
	// AdministrationService names the service whose roles gate the admin API.
	AdministrationService string
	// Timeout bounds every operation, upstream calls included.
	Timeout time.Duration
	Now     func() time.Time
}

// Service orchestrates every admin operation: resolve facts, authorize,
// mutate, then audit.
type Service struct {
	store    Store
	provider identity.Provider
	auditor  Auditor
	adminSvc string
	timeout  time.Duration
	now      func() time.Time
}

// New wires a Service.
func New(store Store, provider identity.Provider, auditor Auditor, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("admin store is required")
	}
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if auditor == nil {
		return nil, errors.New("audit logger is required")
	}
	name := strings.TrimSpace(opts.AdministrationService)
	if name == "" {
		name = auth.AdministrationService
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		provider: provider,
		auditor:  auditor,
		adminSvc: name,
		timeout:  opts.Timeout,
		now:      now,
	}, nil
}

// AdministrationService returns the name of the gating service.
func (s *Service) AdministrationService() string { return s.adminSvc }

// ResolveActor validates token and looks up the caller's Administration role.
// Callers without a role resolve to MembershipNone rather than an error.
func (s *Service) ResolveActor(ctx context.Context, token string) (actor auth.ActorContext, err error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	account, err := s.provider.ValidateToken(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrNotFound) {
			return auth.ActorContext{}, auth.ErrInvalidToken
		}
		return auth.ActorContext{}, err
	}
	membership, err := s.membership(ctx, account.ID)
	if err != nil {
		return auth.ActorContext{}, err
	}
	return auth.ActorContext{
		AccountID:  account.ID,
		Email:      account.Email,
		Membership: membership,
	}, nil
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// timeoutErr turns a bare deadline into auth.ErrTimeout.
func timeoutErr(err *error) {
	if *err == nil || errors.Is(*err, auth.ErrTimeout) {
		return
	}
	if errors.Is(*err, context.DeadlineExceeded) {
		*err = fmt.Errorf("%w: %v", auth.ErrTimeout, *err)
	}
}

// membership returns the role accountID holds in the Administration service.
func (s *Service) membership(ctx context.Context, accountID string) (auth.Membership, error) {
	row, err := s.store.ServiceRoleByName(ctx, accountID, s.adminSvc)
	if errors.Is(err, auth.ErrNotFound) {
		return auth.MembershipNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve administration role: %w", err)
	}
	return auth.MembershipOf(row.Role, true), nil
}

func (s *Service) decide(ctx context.Context, actor auth.Actor, action auth.Action, target auth.Target, state auth.InvariantState) error {
	d := auth.Authorize(actor, action, target, state)
	obs.ObserveDecision(string(action), d.Allowed())
	if !d.Allowed() {
		obs.Ctx(ctx).Info().
			Str("actor_id", actor.ID).
			Str("action", string(action)).
			Str("target_id", target.AccountID).
			Int("rule", d.Deny.Rule).
			Msg("action denied")
	}
	return d.Err()
}

func (s *Service) account(ctx context.Context, id string) (auth.Account, error) {
	acc, err := s.provider.GetAccount(ctx, id)
	if errors.Is(err, auth.ErrNotFound) {
		return auth.Account{}, ErrUserNotFound
	}
	return acc, err
}

// service resolves ref as a service id, or as a service name when ref is not a UUID.
func (s *Service) service(ctx context.Context, ref string) (auth.Service, error) {
	var (
		svc auth.Service
		err error
	)
	if ids.ValidAccountID(ref) {
		svc, err = s.store.GetService(ctx, ref)
	} else {
		svc, err = s.store.ServiceByName(ctx, strings.TrimSpace(ref))
	}
	if errors.Is(err, auth.ErrNotFound) {
		return auth.Service{}, ErrServiceNotFound
	}
	return svc, err
}

// adminCount reads the live admin count only when the target is an admin,
// the one case where the floor rule can apply.
func (s *Service) adminCount(ctx context.Context, serviceID string, current auth.Membership) (auth.InvariantState, error) {
	if current != auth.MembershipAdmin || serviceID == "" {
		return auth.InvariantState{}, nil
	}
	n, err := s.store.CountAdmins(ctx, serviceID)
	if err != nil {
		return auth.InvariantState{}, fmt.Errorf("count administration admins: %w", err)
	}
	return auth.InvariantState{AdminCount: n}, nil
}

func floorGuard(serviceID string, action auth.Action) auth.FloorGuard {
	return auth.FloorGuard{ServiceID: serviceID, Min: auth.MinAdministrationAdmins, Action: action}
}

func auditTarget(acc auth.Account, id string) *audit.Target {
	if acc.ID != "" {
		id = acc.ID
	}
	return &audit.Target{ID: id, Email: acc.Email}
}

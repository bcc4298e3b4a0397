package admin

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

// GrantInput assigns Role to UserID in ServiceID. ServiceID may also be a service name.
type GrantInput struct {
	UserID    string
	ServiceID string
	Role      auth.Role
}

// roleTarget is everything a role mutation needs to know about its target.
type roleTarget struct {
	account auth.Account
	service auth.Service
}

func (t roleTarget) administration(name string) bool { return t.service.Name == name }

// loadRoleTarget fetches the target account and service concurrently.
// A missing account is tolerated when optional is set so orphaned rows stay removable.
func (s *Service) loadRoleTarget(ctx context.Context, userID, serviceID string, optional bool) (roleTarget, error) {
	var t roleTarget
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acc, err := s.account(gctx, userID)
		if optional && errors.Is(err, ErrUserNotFound) {
			return nil
		}
		t.account = acc
		return err
	})
	g.Go(func() error {
		svc, err := s.service(gctx, serviceID)
		t.service = svc
		return err
	})
	if err := g.Wait(); err != nil {
		return roleTarget{}, err
	}
	return t, nil
}

// GrantServiceRole creates a role row. An existing row for the pair is a conflict.
func (s *Service) GrantServiceRole(ctx context.Context, actor auth.Actor, in GrantInput) (row auth.ServiceRoleRow, err error) {
	if !in.Role.Valid() {
		return auth.ServiceRoleRow{}, fmt.Errorf("%w: role must be admin or user", auth.ErrInvalidInput)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	t, err := s.loadRoleTarget(ctx, in.UserID, in.ServiceID, false)
	if err != nil {
		return auth.ServiceRoleRow{}, err
	}
	in.ServiceID = t.service.ID
	target := auth.Target{
		AccountID:      in.UserID,
		Administration: t.administration(s.adminSvc),
		RequestedRole:  in.Role,
	}
	if target.Administration {
		if target.CurrentRole, err = s.membership(ctx, in.UserID); err != nil {
			return auth.ServiceRoleRow{}, err
		}
	}
	if err := s.decide(ctx, actor, auth.ActionGrantServiceRole, target, auth.InvariantState{}); err != nil {
		return auth.ServiceRoleRow{}, err
	}

	row, err = s.store.InsertServiceRole(ctx, in.UserID, in.ServiceID, in.Role)
	switch {
	case errors.Is(err, auth.ErrConflict):
		return auth.ServiceRoleRow{}, ErrRoleExists
	case err != nil:
		return auth.ServiceRoleRow{}, err
	}

	s.auditor.Record(ctx, actor, audit.TagServiceAddUser, auditTarget(t.account, in.UserID), audit.ServiceRoleDetails{
		Service: t.service.Name,
		Role:    string(in.Role),
	})
	return row, nil
}

// RevokeServiceRole removes the role row of userID in serviceID.
func (s *Service) RevokeServiceRole(ctx context.Context, actor auth.Actor, userID, serviceID string) (err error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	t, err := s.loadRoleTarget(ctx, userID, serviceID, true)
	if err != nil {
		return err
	}
	serviceID = t.service.ID
	current, err := s.currentRow(ctx, userID, serviceID)
	if err != nil {
		return err
	}
	target := auth.Target{AccountID: userID, Administration: t.administration(s.adminSvc)}
	var guard auth.FloorGuard
	state := auth.InvariantState{}
	if target.Administration {
		target.CurrentRole = auth.MembershipOf(current.Role, true)
		if state, err = s.adminCount(ctx, serviceID, target.CurrentRole); err != nil {
			return err
		}
		guard = floorGuard(serviceID, auth.ActionRevokeServiceRole)
	}
	if err := s.decide(ctx, actor, auth.ActionRevokeServiceRole, target, state); err != nil {
		return err
	}

	if _, err := s.store.DeleteServiceRole(ctx, userID, serviceID, guard); err != nil {
		if errors.Is(err, auth.ErrNotFound) && !errors.Is(err, auth.ErrForbidden) {
			return ErrServiceRoleNotFound
		}
		return err
	}

	s.auditor.Record(ctx, actor, audit.TagServiceRemoveUser, auditTarget(t.account, userID), audit.ServiceRoleDetails{
		Service: t.service.Name,
	})
	return nil
}

// UpdateServiceRole changes the role userID holds in serviceID.
func (s *Service) UpdateServiceRole(ctx context.Context, actor auth.Actor, userID, serviceID string, role auth.Role) (row auth.ServiceRoleRow, err error) {
	if !role.Valid() {
		return auth.ServiceRoleRow{}, fmt.Errorf("%w: role must be admin or user", auth.ErrInvalidInput)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	t, err := s.loadRoleTarget(ctx, userID, serviceID, true)
	if err != nil {
		return auth.ServiceRoleRow{}, err
	}
	serviceID = t.service.ID
	current, err := s.currentRow(ctx, userID, serviceID)
	if err != nil {
		return auth.ServiceRoleRow{}, err
	}
	target := auth.Target{
		AccountID:      userID,
		Administration: t.administration(s.adminSvc),
		RequestedRole:  role,
	}
	var guard auth.FloorGuard
	state := auth.InvariantState{}
	if target.Administration {
		target.CurrentRole = auth.MembershipOf(current.Role, true)
		if state, err = s.adminCount(ctx, serviceID, target.CurrentRole); err != nil {
			return auth.ServiceRoleRow{}, err
		}
		if role == auth.RoleUser {
			guard = floorGuard(serviceID, auth.ActionUpdateServiceRole)
		}
	}
	if err := s.decide(ctx, actor, auth.ActionUpdateServiceRole, target, state); err != nil {
		return auth.ServiceRoleRow{}, err
	}

	row, err = s.store.UpdateServiceRole(ctx, userID, serviceID, role, guard)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) && !errors.Is(err, auth.ErrForbidden) {
			return auth.ServiceRoleRow{}, ErrServiceRoleNotFound
		}
		return auth.ServiceRoleRow{}, err
	}

	s.auditor.Record(ctx, actor, audit.TagServiceUpdateRole, auditTarget(t.account, userID), audit.ServiceRoleDetails{
		Service: t.service.Name,
		Role:    string(role),
	})
	return row, nil
}

// UserServiceRoles lists every role row userID holds, each with its service.
func (s *Service) UserServiceRoles(ctx context.Context, userID string) (rows []auth.ServiceRoleRow, err error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	rows, err = s.store.ListServiceRoles(ctx, auth.ServiceRoleFilter{UserIDs: []string{userID}})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []auth.ServiceRoleRow{}
	}
	return rows, nil
}

func (s *Service) currentRow(ctx context.Context, userID, serviceID string) (auth.ServiceRoleRow, error) {
	row, err := s.store.GetServiceRole(ctx, userID, serviceID)
	if errors.Is(err, auth.ErrNotFound) {
		return auth.ServiceRoleRow{}, ErrServiceRoleNotFound
	}
	return row, err
}

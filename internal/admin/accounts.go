package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

// CreateAccountInput creates or invites an account.
type CreateAccountInput struct {
	Username string
	Email    string
	// Invite sends the provider's invitation mail instead of creating a confirmed account.
	Invite bool
}

// UpdateAccountInput edits an account profile.
type UpdateAccountInput struct {
	FullName string
}

// CreateAccount provisions a new account through the identity provider.
func (s *Service) CreateAccount(ctx context.Context, actor auth.Actor, in CreateAccountInput) (acc auth.Account, err error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if in.Email == "" || in.Username == "" {
		return auth.Account{}, fmt.Errorf("%w: email and username are required", auth.ErrInvalidInput)
	}
	if err := s.decide(ctx, actor, auth.ActionCreateAccount, auth.Target{}, auth.InvariantState{}); err != nil {
		return auth.Account{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	metadata := map[string]any{"username": in.Username, "full_name": in.Username}
	if in.Invite {
		acc, err = s.provider.InviteAccount(ctx, in.Email, metadata)
	} else {
		acc, err = s.provider.CreateAccount(ctx, in.Email, metadata)
	}
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return auth.Account{}, ErrEmailTaken
		}
		return auth.Account{}, err
	}

	s.auditor.Record(ctx, actor, audit.TagUserCreate, auditTarget(acc, ""), audit.AccountDetails{
		Username: in.Username,
		Invited:  in.Invite,
	})
	return acc, nil
}

// UpdateAccount edits the profile of account id.
func (s *Service) UpdateAccount(ctx context.Context, actor auth.Actor, id string, in UpdateAccountInput) (acc auth.Account, err error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		return auth.Account{}, fmt.Errorf("%w: full_name is required", auth.ErrInvalidInput)
	}
	if err := s.decide(ctx, actor, auth.ActionUpdateAccount, auth.Target{AccountID: id}, auth.InvariantState{}); err != nil {
		return auth.Account{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	acc, err = s.provider.UpdateAccount(ctx, id, map[string]any{"full_name": in.FullName})
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.Account{}, ErrUserNotFound
		}
		return auth.Account{}, err
	}

	s.auditor.Record(ctx, actor, audit.TagUserUpdate, auditTarget(acc, id), audit.ProfileDetails{
		FullName: in.FullName,
		Fields:   []string{"full_name"},
	})
	return acc, nil
}

// accountTarget is the target account plus the facts ban and delete rules need.
type accountTarget struct {
	account    auth.Account
	membership auth.Membership
	adminSvcID string
}

// loadAccountTarget fetches the account, its Administration role and the
// Administration service id concurrently.
func (s *Service) loadAccountTarget(ctx context.Context, id string) (accountTarget, error) {
	var t accountTarget
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acc, err := s.account(gctx, id)
		t.account = acc
		return err
	})
	g.Go(func() error {
		m, err := s.membership(gctx, id)
		t.membership = m
		return err
	})
	g.Go(func() error {
		svc, err := s.store.ServiceByName(gctx, s.adminSvc)
		if errors.Is(err, auth.ErrNotFound) {
			return nil
		}
		t.adminSvcID = svc.ID
		return err
	})
	if err := g.Wait(); err != nil {
		return accountTarget{}, err
	}
	return t, nil
}

// DeleteAccount removes account id together with its role rows. The rows are
// removed in the same transaction that calls the provider, so a failed
// provider deletion leaves them in place.
func (s *Service) DeleteAccount(ctx context.Context, actor auth.Actor, id string) (err error) {
	if id == actor.ID {
		return s.decide(ctx, actor, auth.ActionDeleteAccount, auth.Target{AccountID: id}, auth.InvariantState{})
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	t, err := s.loadAccountTarget(ctx, id)
	if err != nil {
		return err
	}
	state, err := s.adminCount(ctx, t.adminSvcID, t.membership)
	if err != nil {
		return err
	}
	target := auth.Target{AccountID: id, CurrentRole: t.membership}
	if err := s.decide(ctx, actor, auth.ActionDeleteAccount, target, state); err != nil {
		return err
	}

	var guard auth.FloorGuard
	if t.adminSvcID != "" {
		guard = floorGuard(t.adminSvcID, auth.ActionDeleteAccount)
	}
	err = s.store.DeleteUserRoles(ctx, id, guard, func(ctx context.Context) error {
		return s.provider.DeleteAccount(ctx, id)
	})
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) && !errors.Is(err, auth.ErrForbidden) {
			return ErrUserNotFound
		}
		return err
	}

	s.auditor.Record(ctx, actor, audit.TagUserDelete, auditTarget(t.account, id), nil)
	return nil
}

// ResetPassword mails a password recovery link to account id.
func (s *Service) ResetPassword(ctx context.Context, actor auth.Actor, id string) (err error) {
	if err := s.decide(ctx, actor, auth.ActionResetPassword, auth.Target{AccountID: id}, auth.InvariantState{}); err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	acc, err := s.account(ctx, id)
	if err != nil {
		return err
	}
	if acc.Email == "" {
		return fmt.Errorf("%w: account has no email address", auth.ErrInvalidInput)
	}
	if err := s.provider.SendPasswordReset(ctx, acc.Email); err != nil {
		return err
	}

	s.auditor.Record(ctx, actor, audit.TagUserResetPassword, auditTarget(acc, id), nil)
	return nil
}

// SetBan bans or unbans account id. Unbanning goes through the same rules.
func (s *Service) SetBan(ctx context.Context, actor auth.Actor, id string, d auth.BanDuration) (acc auth.Account, err error) {
	if id == actor.ID {
		return auth.Account{}, s.decide(ctx, actor, auth.ActionBanAccount, auth.Target{AccountID: id}, auth.InvariantState{})
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	defer timeoutErr(&err)

	t, err := s.loadAccountTarget(ctx, id)
	if err != nil {
		return auth.Account{}, err
	}
	target := auth.Target{AccountID: id, CurrentRole: t.membership}
	if err := s.decide(ctx, actor, auth.ActionBanAccount, target, auth.InvariantState{}); err != nil {
		return auth.Account{}, err
	}

	acc, err = s.provider.SetBan(ctx, id, d)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.Account{}, ErrUserNotFound
		}
		return auth.Account{}, err
	}
	if acc.ID == "" {
		acc = t.account
	}

	if d.Banned {
		s.auditor.Record(ctx, actor, audit.TagUserBan, auditTarget(t.account, id), audit.BanDetails{Duration: d.String()})
	} else {
		s.auditor.Record(ctx, actor, audit.TagUserUnban, auditTarget(t.account, id), nil)
	}
	return acc, nil
}

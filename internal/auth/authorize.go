package auth

// Action identifies a privileged operation subject to authorization.
type Action string

const (
	ActionGrantServiceRole  Action = "grant-service-role"
	ActionRevokeServiceRole Action = "revoke-service-role"
	ActionUpdateServiceRole Action = "update-service-role"
	ActionCreateAccount     Action = "create-account"
	ActionUpdateAccount     Action = "update-account"
	ActionDeleteAccount     Action = "delete-account"
	ActionResetPassword     Action = "reset-password"
	ActionBanAccount        Action = "ban-account"
	ActionViewLogs          Action = "view-logs"
)

// Actions lists every action in a stable order.
var Actions = []Action{
	ActionGrantServiceRole,
	ActionRevokeServiceRole,
	ActionUpdateServiceRole,
	ActionCreateAccount,
	ActionUpdateAccount,
	ActionDeleteAccount,
	ActionResetPassword,
	ActionBanAccount,
	ActionViewLogs,
}

func (a Action) roleAssignment() bool {
	return a == ActionGrantServiceRole || a == ActionRevokeServiceRole || a == ActionUpdateServiceRole
}

// Target describes the account an action is aimed at.
//
// Administration is set when a role-assignment action concerns the
// Administration service. CurrentRole is the target's current role in
// Administration and is consulted by ban, delete and role actions alike.
// RequestedRole is the role a grant or update asks for.
type Target struct {
	AccountID      string
	Administration bool
	CurrentRole    Membership
	RequestedRole  Role
}

// InvariantState carries the live facts rule evaluation depends on.
type InvariantState struct {
	AdminCount int
}

// Decision is the outcome of Authorize. A nil Deny means allowed.
type Decision struct {
	Deny *DenyError
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.Deny == nil }

// Err returns the denial as an error, or nil when allowed.
func (d Decision) Err() error {
	if d.Deny == nil {
		return nil
	}
	return d.Deny
}

// Rule numbers in evaluation order.
const (
	RuleSelfTarget = iota + 1
	RuleSelfDemotion
	RuleSelfPromotion
	RuleAdministrationRoles
	RuleBanAdministrationMember
	RuleBanPeerAdmin
	RuleAdminFloor
	RuleAdminRequired
)

const (
	reasonSelfBan       = "You cannot ban your own account."
	reasonSelfDelete    = "You cannot delete your own account."
	reasonSelfDemotion  = "Forbidden: Admins cannot demote their own account."
	reasonSelfPromotion = "Forbidden: You cannot make yourself an admin."
	reasonManageRoles   = "Forbidden: You do not have permission to manage roles in the Administration service."
	reasonBanMember     = "Forbidden: You do not have permission to ban members of the Administration service."
	reasonBanPeerAdmin  = "Admins cannot ban other admins."
	reasonFloorRemove   = "Cannot remove admin. A minimum of 2 admins for the Administration service is required."
	reasonFloorDemote   = "Cannot demote admin. A minimum of 2 admins for the Administration service is required."
	reasonFloorDelete   = "Cannot delete admin. A minimum of 2 admins for the Administration service is required."
	reasonEditUsers     = "Forbidden: You do not have permission to edit users."
	reasonDeleteUsers   = "Forbidden: You do not have permission to delete users."
	reasonViewLogs      = "Forbidden: Admin access required to view audit logs."
)

// Authorize evaluates the rule set for actor performing action on target.
// Rules are checked in order and the first match decides. It performs no I/O.
func Authorize(actor Actor, action Action, target Target, state InvariantState) Decision {
	self := target.AccountID != "" && target.AccountID == actor.ID

	if self {
		switch action {
		case ActionBanAccount:
			return deny(RuleSelfTarget, reasonSelfBan)
		case ActionDeleteAccount:
			return deny(RuleSelfTarget, reasonSelfDelete)
		}
	}

	adminRoles := action.roleAssignment() && target.Administration
	if adminRoles && self {
		if actor.Role == RoleAdmin && action == ActionUpdateServiceRole && target.RequestedRole == RoleUser {
			return deny(RuleSelfDemotion, reasonSelfDemotion)
		}
		if actor.Role == RoleUser && target.RequestedRole == RoleAdmin &&
			(action == ActionGrantServiceRole || action == ActionUpdateServiceRole) {
			return deny(RuleSelfPromotion, reasonSelfPromotion)
		}
	}

	if adminRoles && actor.Role != RoleAdmin {
		return deny(RuleAdministrationRoles, reasonManageRoles)
	}

	if action == ActionBanAccount {
		if actor.Role != RoleAdmin && target.CurrentRole != MembershipNone && target.CurrentRole != "" {
			return deny(RuleBanAdministrationMember, reasonBanMember)
		}
		if actor.Role == RoleAdmin && target.CurrentRole == MembershipAdmin {
			return deny(RuleBanPeerAdmin, reasonBanPeerAdmin)
		}
	}

	if target.CurrentRole == MembershipAdmin && state.AdminCount <= MinAdministrationAdmins {
		switch {
		case adminRoles && action == ActionRevokeServiceRole:
			return deny(RuleAdminFloor, reasonFloorRemove)
		case adminRoles && action == ActionUpdateServiceRole && target.RequestedRole == RoleUser:
			return deny(RuleAdminFloor, reasonFloorDemote)
		case action == ActionDeleteAccount:
			return deny(RuleAdminFloor, reasonFloorDelete)
		}
	}

	if actor.Role != RoleAdmin {
		switch action {
		case ActionUpdateAccount:
			return deny(RuleAdminRequired, reasonEditUsers)
		case ActionDeleteAccount:
			return deny(RuleAdminRequired, reasonDeleteUsers)
		case ActionViewLogs:
			return deny(RuleAdminRequired, reasonViewLogs)
		}
	}

	return Decision{}
}

// FloorReason returns the admin-floor denial for action. Stores that detect
// the floor under lock use it so the caller sees the same message.
func FloorReason(action Action) *DenyError {
	switch action {
	case ActionRevokeServiceRole:
		return Deny(RuleAdminFloor, reasonFloorRemove)
	case ActionDeleteAccount:
		return Deny(RuleAdminFloor, reasonFloorDelete)
	default:
		return Deny(RuleAdminFloor, reasonFloorDemote)
	}
}

func deny(rule int, reason string) Decision {
	return Decision{Deny: Deny(rule, reason)}
}

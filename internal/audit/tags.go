package audit

// Tag is the dot-namespaced action recorded with each entry.
type Tag string

const (
	TagServiceAddUser    Tag = "service.add_user"
	TagServiceRemoveUser Tag = "service.remove_user"
	TagServiceUpdateRole Tag = "service.update_role"
	TagUserCreate        Tag = "user.create"
	TagUserUpdate        Tag = "user.update"
	TagUserDelete        Tag = "user.delete"
	TagUserResetPassword Tag = "user.reset_password"
	TagUserBan           Tag = "user.ban"
	TagUserUnban         Tag = "user.unban"
)

// Tags lists every action tag the admin API records.
var Tags = []Tag{
	TagServiceAddUser,
	TagServiceRemoveUser,
	TagServiceUpdateRole,
	TagUserCreate,
	TagUserUpdate,
	TagUserDelete,
	TagUserResetPassword,
	TagUserBan,
	TagUserUnban,
}

// Details is the action-specific payload stored with an entry.
type Details interface {
	details()
}

// ServiceRoleDetails accompanies service.add_user, service.remove_user and service.update_role.
type ServiceRoleDetails struct {
	Service string `json:"service"`
	Role    string `json:"role,omitempty"`
}

// BanDetails accompanies user.ban.
type BanDetails struct {
	Duration string `json:"duration"`
}

// ProfileDetails accompanies user.update.
type ProfileDetails struct {
	FullName string   `json:"full_name"`
	Fields   []string `json:"fields"`
}

// AccountDetails accompanies user.create.
type AccountDetails struct {
	Username string `json:"username,omitempty"`
	Invited  bool   `json:"invited"`
}

func (ServiceRoleDetails) details() {}
func (BanDetails) details()         {}
func (ProfileDetails) details()     {}
func (AccountDetails) details()     {}

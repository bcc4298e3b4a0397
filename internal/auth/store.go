package auth

// FloorGuard asks a store to enforce the Administration admin floor atomically
// with a role mutation. A zero guard disables the check.
type FloorGuard struct {
	ServiceID string
	Min       int
	Action    Action
}

// Enabled reports whether the guard should run.
func (g FloorGuard) Enabled() bool { return g.ServiceID != "" && g.Min > 0 }

// Violation returns the error a store reports when the floor would break.
func (g FloorGuard) Violation() error {
	return FloorReason(g.Action)
}

// ServiceRoleFilter narrows a service-role listing. Empty fields match everything.
type ServiceRoleFilter struct {
	UserIDs   []string
	ServiceID string
	Role      Role
}

// AuditFilter narrows an audit log listing.
type AuditFilter struct {
	Search string
	Action string
	Limit  int
	Offset int
}

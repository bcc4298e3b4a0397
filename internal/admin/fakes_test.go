package admin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/identity"
)

const (
	adminSvcID = "5b0e7c55-0000-4000-8000-000000000001"
	crmSvcID   = "5b0e7c55-0000-4000-8000-000000000002"

	actorID  = "0f8f7a3e-0000-4000-8000-0000000000a1"
	peerID   = "0f8f7a3e-0000-4000-8000-0000000000a2"
	thirdID  = "0f8f7a3e-0000-4000-8000-0000000000a3"
	memberID = "0f8f7a3e-0000-4000-8000-0000000000b1"
	guestID  = "0f8f7a3e-0000-4000-8000-0000000000c1"
)

type roleKey struct{ user, service string }

// memStore keeps service roles in memory and enforces the floor guard the way
// the Postgres store does.
type memStore struct {
	mu       sync.Mutex
	services map[string]auth.Service
	roles    map[roleKey]auth.ServiceRoleRow
	audit    []auth.AuditEntry
	seq      int

	staleCount int
	appendErr  error
}

func newMemStore() *memStore {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &memStore{
		services: map[string]auth.Service{
			adminSvcID: {ID: adminSvcID, Name: auth.AdministrationService, CreatedAt: created},
			crmSvcID:   {ID: crmSvcID, Name: "CRM", CreatedAt: created},
		},
		roles: make(map[roleKey]auth.ServiceRoleRow),
	}
}

func (m *memStore) put(userID, serviceID string, role auth.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(userID, serviceID, role)
}

func (m *memStore) putLocked(userID, serviceID string, role auth.Role) auth.ServiceRoleRow {
	m.seq++
	svc := m.services[serviceID]
	row := auth.ServiceRoleRow{
		ID:        fmt.Sprintf("row-%d", m.seq),
		UserID:    userID,
		ServiceID: serviceID,
		Role:      role,
		CreatedAt: time.Date(2024, 2, 1, 0, 0, m.seq, 0, time.UTC),
		Service:   auth.ServiceRef{ID: svc.ID, Name: svc.Name},
	}
	m.roles[roleKey{userID, serviceID}] = row
	return row
}

func (m *memStore) role(userID, serviceID string) (auth.Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.roles[roleKey{userID, serviceID}]
	return row.Role, ok
}

func (m *memStore) ListServices(context.Context) ([]auth.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]auth.Service, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetService(_ context.Context, id string) (auth.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	if !ok {
		return auth.Service{}, auth.ErrNotFound
	}
	return svc, nil
}

func (m *memStore) ServiceByName(_ context.Context, name string) (auth.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return auth.Service{}, auth.ErrNotFound
}

func (m *memStore) ListServiceRoles(_ context.Context, filter auth.ServiceRoleFilter) ([]auth.ServiceRoleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users map[string]bool
	if filter.UserIDs != nil {
		users = make(map[string]bool, len(filter.UserIDs))
		for _, id := range filter.UserIDs {
			users[id] = true
		}
	}
	var out []auth.ServiceRoleRow
	for _, row := range m.roles {
		if users != nil && !users[row.UserID] {
			continue
		}
		if filter.ServiceID != "" && row.ServiceID != filter.ServiceID {
			continue
		}
		if filter.Role != "" && row.Role != filter.Role {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) AssignedUserIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for k := range m.roles {
		if !seen[k.user] {
			seen[k.user] = true
			out = append(out, k.user)
		}
	}
	return out, nil
}

func (m *memStore) GetServiceRole(_ context.Context, userID, serviceID string) (auth.ServiceRoleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.roles[roleKey{userID, serviceID}]
	if !ok {
		return auth.ServiceRoleRow{}, auth.ErrNotFound
	}
	return row, nil
}

func (m *memStore) ServiceRoleByName(_ context.Context, userID, serviceName string) (auth.ServiceRoleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.roles {
		if row.UserID == userID && row.Service.Name == serviceName {
			return row, nil
		}
	}
	return auth.ServiceRoleRow{}, auth.ErrNotFound
}

func (m *memStore) CountAdmins(_ context.Context, serviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleCount > 0 {
		return m.staleCount, nil
	}
	return m.countLocked(serviceID), nil
}

func (m *memStore) countLocked(serviceID string) int {
	n := 0
	for _, row := range m.roles {
		if row.ServiceID == serviceID && row.Role == auth.RoleAdmin {
			n++
		}
	}
	return n
}

func (m *memStore) checkFloorLocked(guard auth.FloorGuard, userID string) error {
	row, ok := m.roles[roleKey{userID, guard.ServiceID}]
	if !ok {
		return auth.ErrNotFound
	}
	if row.Role == auth.RoleAdmin && m.countLocked(guard.ServiceID) <= guard.Min {
		return guard.Violation()
	}
	return nil
}

func (m *memStore) InsertServiceRole(_ context.Context, userID, serviceID string, role auth.Role) (auth.ServiceRoleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[serviceID]; !ok {
		return auth.ServiceRoleRow{}, auth.ErrNotFound
	}
	if _, ok := m.roles[roleKey{userID, serviceID}]; ok {
		return auth.ServiceRoleRow{}, fmt.Errorf("%w: duplicate key", auth.ErrConflict)
	}
	return m.putLocked(userID, serviceID, role), nil
}

func (m *memStore) UpdateServiceRole(_ context.Context, userID, serviceID string, role auth.Role, guard auth.FloorGuard) (auth.ServiceRoleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guard.Enabled() {
		if err := m.checkFloorLocked(guard, userID); err != nil {
			return auth.ServiceRoleRow{}, err
		}
	}
	row, ok := m.roles[roleKey{userID, serviceID}]
	if !ok {
		return auth.ServiceRoleRow{}, auth.ErrNotFound
	}
	row.Role = role
	m.roles[roleKey{userID, serviceID}] = row
	return row, nil
}

func (m *memStore) DeleteServiceRole(_ context.Context, userID, serviceID string, guard auth.FloorGuard) (auth.ServiceRoleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guard.Enabled() {
		if err := m.checkFloorLocked(guard, userID); err != nil {
			return auth.ServiceRoleRow{}, err
		}
	}
	row, ok := m.roles[roleKey{userID, serviceID}]
	if !ok {
		return auth.ServiceRoleRow{}, auth.ErrNotFound
	}
	delete(m.roles, roleKey{userID, serviceID})
	return row, nil
}

func (m *memStore) DeleteUserRoles(ctx context.Context, userID string, guard auth.FloorGuard, commit func(context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guard.Enabled() {
		if err := m.checkFloorLocked(guard, userID); err != nil && err != auth.ErrNotFound {
			return err
		}
	}
	removed := map[roleKey]auth.ServiceRoleRow{}
	for k, row := range m.roles {
		if k.user == userID {
			removed[k] = row
			delete(m.roles, k)
		}
	}
	if commit == nil {
		return nil
	}
	if err := commit(ctx); err != nil {
		for k, row := range removed {
			m.roles[k] = row
		}
		return err
	}
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, entry auth.AuditEntry) (auth.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return auth.AuditEntry{}, m.appendErr
	}
	m.seq++
	entry.ID = fmt.Sprintf("log-%d", m.seq)
	entry.CreatedAt = time.Date(2024, 3, 1, 0, 0, m.seq, 0, time.UTC)
	m.audit = append(m.audit, entry)
	return entry, nil
}

func (m *memStore) ListAudit(_ context.Context, filter auth.AuditFilter) ([]auth.AuditEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if filter.Action != "" && m.audit[i].Action != filter.Action {
			continue
		}
		out = append(out, m.audit[i])
	}
	total := len(out)
	if filter.Offset >= len(out) {
		return []auth.AuditEntry{}, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

// fakeProvider is an in-memory identity provider.
type fakeProvider struct {
	mu       sync.Mutex
	accounts map[string]auth.Account
	order    []string
	tokens   map[string]string

	deleteErr error
	block     bool
	calls     []string
	bans      map[string]auth.BanDuration
	resets    []string
}

var _ identity.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts: make(map[string]auth.Account),
		tokens:   make(map[string]string),
		bans:     make(map[string]auth.BanDuration),
	}
}

func (p *fakeProvider) add(acc auth.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[acc.ID]; !ok {
		p.order = append(p.order, acc.ID)
	}
	p.accounts[acc.ID] = acc
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) called(call string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (p *fakeProvider) wait(ctx context.Context) error {
	if !p.block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakeProvider) ValidateToken(ctx context.Context, token string) (auth.Account, error) {
	p.mu.Lock()
	id, ok := p.tokens[token]
	acc := p.accounts[id]
	p.mu.Unlock()
	if !ok {
		return auth.Account{}, auth.ErrInvalidToken
	}
	return acc, nil
}

func (p *fakeProvider) GetAccount(ctx context.Context, id string) (auth.Account, error) {
	if err := p.wait(ctx); err != nil {
		return auth.Account{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return auth.Account{}, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	return acc, nil
}

func (p *fakeProvider) ListAccounts(_ context.Context, page, perPage int) (identity.AccountPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := (page - 1) * perPage
	out := []auth.Account{}
	for i := start; i < len(p.order) && i < start+perPage; i++ {
		out = append(out, p.accounts[p.order[i]])
	}
	return identity.AccountPage{Accounts: out, Total: len(p.order)}, nil
}

func (p *fakeProvider) create(email string, metadata map[string]any, invited bool) (auth.Account, error) {
	p.mu.Lock()
	for _, acc := range p.accounts {
		if acc.Email == email {
			p.mu.Unlock()
			return auth.Account{}, fmt.Errorf("%w: email_exists", auth.ErrConflict)
		}
	}
	p.mu.Unlock()
	acc := auth.Account{
		ID:        fmt.Sprintf("0f8f7a3e-0000-4000-8000-%012d", len(p.order)+100),
		Email:     email,
		Metadata:  metadata,
		CreatedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	if name, ok := metadata["full_name"].(string); ok {
		acc.FullName = name
	}
	if invited {
		p.record("invite:" + email)
	} else {
		p.record("create:" + email)
	}
	p.add(acc)
	return acc, nil
}

func (p *fakeProvider) CreateAccount(_ context.Context, email string, metadata map[string]any) (auth.Account, error) {
	return p.create(email, metadata, false)
}

func (p *fakeProvider) InviteAccount(_ context.Context, email string, metadata map[string]any) (auth.Account, error) {
	return p.create(email, metadata, true)
}

func (p *fakeProvider) UpdateAccount(_ context.Context, id string, metadata map[string]any) (auth.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	if name, ok := metadata["full_name"].(string); ok {
		acc.FullName = name
	}
	p.accounts[id] = acc
	return acc, nil
}

func (p *fakeProvider) DeleteAccount(_ context.Context, id string) error {
	p.record("delete:" + id)
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.accounts, id)
	return nil
}

func (p *fakeProvider) SetBan(_ context.Context, id string, d auth.BanDuration) (auth.Account, error) {
	p.record("ban:" + id)
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	p.bans[id] = d
	return acc, nil
}

func (p *fakeProvider) SendPasswordReset(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, email)
	return nil
}

type recorded struct {
	actor   auth.Actor
	tag     audit.Tag
	target  *audit.Target
	details audit.Details
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []recorded
}

func (r *recordingAuditor) Record(_ context.Context, actor auth.Actor, tag audit.Tag, target *audit.Target, details audit.Details) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{actor: actor, tag: tag, target: target, details: details})
}

func (r *recordingAuditor) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.entries...)
}

package auth

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store used by the package tests. WithinTx
// snapshots every table and restores it when fn fails.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	churches    map[string]Church
	members     map[string]Member
	creds       map[string]Credential
	sessions    map[string]SessionRecord
	settings    map[string]string
	globalRoles map[string][]string
	assignments []ServiceRoleAssignment
	rolePerms   map[string][]string
	resets      map[string]ResetTicket

	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		churches:    map[string]Church{},
		members:     map[string]Member{},
		creds:       map[string]Credential{},
		sessions:    map[string]SessionRecord{},
		settings:    map[string]string{},
		globalRoles: map[string][]string{},
		rolePerms:   map[string][]string{},
		resets:      map[string]ResetTicket{},
		failOn:      map[string]error{},
	}
}

func (m *memStore) fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

func (m *memStore) check(op string) error {
	if err, ok := m.failOn["*"]; ok {
		return err
	}
	return m.failOn[op]
}

type memSnapshot struct {
	churches    map[string]Church
	members     map[string]Member
	creds       map[string]Credential
	sessions    map[string]SessionRecord
	resets      map[string]ResetTicket
	assignments []ServiceRoleAssignment
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	if err := m.check("begin"); err != nil {
		m.mu.Unlock()
		return err
	}
	snap := memSnapshot{
		churches:    cloneMap(m.churches),
		members:     cloneMap(m.members),
		creds:       cloneMap(m.creds),
		sessions:    cloneMap(m.sessions),
		resets:      cloneMap(m.resets),
		assignments: append([]ServiceRoleAssignment(nil), m.assignments...),
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.churches, m.members, m.creds = snap.churches, snap.members, snap.creds
		m.sessions, m.resets, m.assignments = snap.sessions, snap.resets, snap.assignments
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) FindCredentialByEmail(_ context.Context, email string) (CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("FindCredentialByEmail"); err != nil {
		return CredentialRecord{}, err
	}
	for _, c := range m.creds {
		if c.Email != email || !c.IsActive {
			continue
		}
		mem, ok := m.members[c.MemberID]
		if !ok || mem.Status == MemberDeleted {
			continue
		}
		ch := m.churches[mem.ChurchID]
		return CredentialRecord{
			UserID:         c.ID,
			MemberID:       c.MemberID,
			Email:          c.Email,
			PasswordHash:   c.PasswordHash,
			FailedAttempts: c.FailedAttempts,
			LockedUntil:    c.LockedUntil,
			ChurchID:       mem.ChurchID,
			ChurchSlug:     ch.Slug,
			IsActive:       c.IsActive,
			MemberStatus:   mem.Status,
		}, nil
	}
	return CredentialRecord{}, ErrNotFound
}

func (m *memStore) RecordLoginFailure(_ context.Context, userID string, attempts int, lockedUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("RecordLoginFailure"); err != nil {
		return err
	}
	c, ok := m.creds[userID]
	if !ok {
		return ErrNotFound
	}
	c.FailedAttempts = attempts
	c.LockedUntil = lockedUntil
	m.creds[userID] = c
	return nil
}

func (m *memStore) ResetLoginFailures(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ResetLoginFailures"); err != nil {
		return err
	}
	c, ok := m.creds[userID]
	if !ok {
		return ErrNotFound
	}
	c.FailedAttempts = 0
	c.LockedUntil = time.Time{}
	m.creds[userID] = c
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdatePassword"); err != nil {
		return err
	}
	c, ok := m.creds[userID]
	if !ok {
		return ErrNotFound
	}
	c.PasswordHash = hash
	m.creds[userID] = c
	return nil
}

func (m *memStore) CreateSession(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateSession"); err != nil {
		return err
	}
	if _, ok := m.sessions[rec.Token]; ok {
		return ErrConflict
	}
	m.sessions[rec.Token] = rec
	return nil
}

func (m *memStore) FindActiveSession(_ context.Context, token string) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("FindActiveSession"); err != nil {
		return SessionRecord{}, err
	}
	rec, ok := m.sessions[token]
	if !ok || rec.Revoked {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) RevokeSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("RevokeSession"); err != nil {
		return err
	}
	rec, ok := m.sessions[token]
	if !ok {
		return nil
	}
	rec.Revoked = true
	m.sessions[token] = rec
	return nil
}

func (m *memStore) RevokeUserSessions(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("RevokeUserSessions"); err != nil {
		return 0, err
	}
	var n int64
	for token, rec := range m.sessions {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			m.sessions[token] = rec
			n++
		}
	}
	return n, nil
}

func (m *memStore) GlobalRoles(_ context.Context, memberID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("GlobalRoles"); err != nil {
		return nil, err
	}
	return append([]string(nil), m.globalRoles[memberID]...), nil
}

func (m *memStore) ServiceAssignments(_ context.Context, memberID, churchID, serviceKey string) ([]ServiceRoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ServiceAssignments"); err != nil {
		return nil, err
	}
	var out []ServiceRoleAssignment
	for _, a := range m.assignments {
		if a.MemberID == memberID && a.ChurchID == churchID && a.ServiceKey == serviceKey {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) RolePermissions(_ context.Context, roleID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("RolePermissions"); err != nil {
		return nil, err
	}
	return append([]string(nil), m.rolePerms[roleID]...), nil
}

func (m *memStore) AllPermissions(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("AllPermissions"); err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	for _, perms := range m.rolePerms {
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) GlobalSettings(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("GlobalSettings"); err != nil {
		return nil, err
	}
	return cloneMap(m.settings), nil
}

func (m *memStore) ReplaceResetTicket(_ context.Context, ticket ResetTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ReplaceResetTicket"); err != nil {
		return err
	}
	for token, t := range m.resets {
		if t.Email == ticket.Email {
			delete(m.resets, token)
		}
	}
	m.resets[ticket.Token] = ticket
	return nil
}

func (m *memStore) FindResetTicket(_ context.Context, token string) (ResetTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("FindResetTicket"); err != nil {
		return ResetTicket{}, err
	}
	t, ok := m.resets[token]
	if !ok {
		return ResetTicket{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) DeleteResetTicket(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("DeleteResetTicket"); err != nil {
		return err
	}
	delete(m.resets, token)
	return nil
}

func (m *memStore) FindMember(_ context.Context, memberID string) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("FindMember"); err != nil {
		return Member{}, err
	}
	mem, ok := m.members[memberID]
	if !ok {
		return Member{}, ErrNotFound
	}
	return mem, nil
}

func (m *memStore) FindMemberByEmail(_ context.Context, email string) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("FindMemberByEmail"); err != nil {
		return Member{}, err
	}
	for _, mem := range m.members {
		if mem.Email == email && mem.Status != MemberDeleted {
			return mem, nil
		}
	}
	return Member{}, ErrNotFound
}

func (m *memStore) FindMemberByInviteToken(_ context.Context, token string) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("FindMemberByInviteToken"); err != nil {
		return Member{}, err
	}
	for _, mem := range m.members {
		if mem.InviteToken != "" && mem.InviteToken == token {
			return mem, nil
		}
	}
	return Member{}, ErrNotFound
}

func (m *memStore) CreateMember(_ context.Context, mem *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateMember"); err != nil {
		return err
	}
	if _, ok := m.members[mem.ID]; ok {
		return ErrConflict
	}
	m.members[mem.ID] = *mem
	return nil
}

func (m *memStore) SetMemberStatus(_ context.Context, memberID string, status MemberStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("SetMemberStatus"); err != nil {
		return err
	}
	mem, ok := m.members[memberID]
	if !ok {
		return ErrNotFound
	}
	mem.Status = status
	m.members[memberID] = mem
	return nil
}

func (m *memStore) ClearInvitation(_ context.Context, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ClearInvitation"); err != nil {
		return err
	}
	mem, ok := m.members[memberID]
	if !ok {
		return ErrNotFound
	}
	mem.InviteToken = ""
	mem.InviteExpiresAt = time.Time{}
	m.members[memberID] = mem
	return nil
}

func (m *memStore) CreateCredential(_ context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateCredential"); err != nil {
		return err
	}
	for _, existing := range m.creds {
		if existing.Email == c.Email {
			return ErrConflict
		}
	}
	m.creds[c.ID] = *c
	return nil
}

func (m *memStore) FindCredentialByMember(_ context.Context, memberID string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("FindCredentialByMember"); err != nil {
		return Credential{}, err
	}
	for _, c := range m.creds {
		if c.MemberID == memberID {
			return c, nil
		}
	}
	return Credential{}, ErrNotFound
}

func (m *memStore) ActivateCredential(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ActivateCredential"); err != nil {
		return err
	}
	c, ok := m.creds[userID]
	if !ok {
		return ErrNotFound
	}
	c.PasswordHash = hash
	c.IsActive = true
	m.creds[userID] = c
	return nil
}

func (m *memStore) SetCredentialsActive(_ context.Context, memberID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("SetCredentialsActive"); err != nil {
		return err
	}
	for id, c := range m.creds {
		if c.MemberID == memberID {
			c.IsActive = active
			m.creds[id] = c
		}
	}
	return nil
}

func (m *memStore) ChurchAdmins(_ context.Context, churchID string) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ChurchAdmins"); err != nil {
		return nil, err
	}
	var out []Member
	for _, a := range m.assignments {
		if a.ChurchID != churchID || !a.Enabled {
			continue
		}
		for _, p := range m.rolePerms[a.RoleID] {
			if p == PermMembersApprove {
				if mem, ok := m.members[a.MemberID]; ok {
					out = append(out, mem)
				}
				break
			}
		}
	}
	return out, nil
}

// test helpers

func (m *memStore) credential(t *testing.T, userID string) Credential {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		t.Fatalf("credential %s not found", userID)
	}
	return c
}

func (m *memStore) credentialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds)
}

func (m *memStore) member(t *testing.T, memberID string) Member {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberID]
	if !ok {
		t.Fatalf("member %s not found", memberID)
	}
	return mem
}

func (m *memStore) resetTickets() []ResetTicket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ResetTicket, 0, len(m.resets))
	for _, t := range m.resets {
		out = append(out, t)
	}
	return out
}

// seedUser adds a church, an active member and an active password credential.
func (m *memStore) seedUser(t *testing.T, p *Passwords, userID, memberID, email, password string) {
	t.Helper()
	hash, err := p.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.churches["church-1"] = Church{ID: "church-1", Name: "Grace", Slug: "grace", IsActive: true}
	m.members[memberID] = Member{ID: memberID, ChurchID: "church-1", Name: "Member " + memberID, Email: email, Status: MemberActive}
	m.creds[userID] = Credential{ID: userID, MemberID: memberID, Email: email, PasswordHash: hash, AuthMethod: AuthMethodPassword, IsActive: true}
}

func (m *memStore) grant(memberID, churchID, service, roleID string, level int, enabled bool, perms ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, ServiceRoleAssignment{
		MemberID: memberID, ChurchID: churchID, ServiceKey: service,
		RoleID: roleID, RoleName: roleID, RoleLevel: level, Enabled: enabled,
	})
	if len(perms) > 0 {
		m.rolePerms[roleID] = perms
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatalf("no notification sent")
	}
	return n.sent[len(n.sent)-1]
}

const testSecret = "test-secret-0123456789abcdef"

func testSettings() StaticSettings {
	return StaticSettings{
		Secret:           []byte(testSecret),
		SessionTimeout:   24 * time.Hour,
		MaxLoginAttempts: 5,
		LockoutDuration:  1800 * time.Second,
	}
}

func testPasswords(t *testing.T) *Passwords {
	t.Helper()
	p, err := NewPasswords(4)
	if err != nil {
		t.Fatalf("NewPasswords: %v", err)
	}
	return p
}

func newTestService(t *testing.T, store *memStore, clock *fakeClock, opts ...ServiceOption) *Service {
	t.Helper()
	base := []ServiceOption{
		WithClock(clock.Now),
		WithSettingsProvider(testSettings()),
		WithBcryptCost(4),
	}
	svc, err := NewService(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

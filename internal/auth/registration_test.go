package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedAdmin(t *testing.T, store *memStore) {
	t.Helper()
	store.seedUser(t, testPasswords(t), "user-admin", "member-admin", "admin@x.com", "admin-password")
	store.grant("member-admin", "church-1", ServicePeople, "role-admin", 1, true, PermMembersApprove)
}

func TestRegisterCreatesPendingMember(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := newTestService(t, store, newFakeClock(), WithNotifier(notifier))
	seedAdmin(t, store)

	m, err := svc.Register(context.Background(), RegistrationRequest{ChurchID: "church-1", Name: " Ruth ", Email: "Ruth@X.com", Password: "ruths-password"})
	require.NoError(t, err)
	require.Equal(t, MemberPending, m.Status)
	require.Equal(t, "Ruth", m.Name)
	require.Equal(t, "ruth@x.com", m.Email)

	cred, err := store.FindCredentialByMember(context.Background(), m.ID)
	require.NoError(t, err)
	require.False(t, cred.IsActive)
	require.Equal(t, AuthMethodPassword, cred.AuthMethod)

	res, err := svc.Login(context.Background(), "ruth@x.com", "ruths-password", ClientMeta{})
	require.NoError(t, err)
	require.Equal(t, LoginInvalidCredentials, res.Status, "inactive credential must not log in")

	msg := notifier.last(t)
	require.Equal(t, NotifyRegistrationPending, msg.Kind)
	require.Equal(t, []string{"admin@x.com"}, msg.To)
	require.Equal(t, m.ID, msg.Data["member_id"])
}

func TestPendingRegistrantIsInvisibleToLoginPaths(t *testing.T) {
	g := &fakeGoogle{aud: "client-abc", email: "ruth@x.com", verified: true}
	srv := g.server(t)
	store := newMemStore()
	svc := newTestService(t, store, newFakeClock(), WithOAuthProvider(g.provider(srv), "client-abc"))
	seedAdmin(t, store)

	m, err := svc.Register(context.Background(), RegistrationRequest{ChurchID: "church-1", Name: "Ruth", Email: "ruth@x.com", Password: "ruths-password"})
	require.NoError(t, err)
	cred, err := store.FindCredentialByMember(context.Background(), m.ID)
	require.NoError(t, err)

	res, err := svc.Login(context.Background(), "ruth@x.com", "wrong-password", ClientMeta{})
	require.NoError(t, err)
	require.Equal(t, LoginInvalidCredentials, res.Status)
	require.Zero(t, store.credential(t, cred.ID).FailedAttempts, "no counter for a credential login cannot see")

	res, err = svc.ExchangeFederatedCode(context.Background(), "code-1", "", ClientMeta{})
	require.NoError(t, err)
	require.Equal(t, LoginNotRegistered, res.Status)
	require.Empty(t, res.Session.Token)

	require.ErrorIs(t, svc.RequestPasswordReset(context.Background(), "ruth@x.com"), ErrEmailNotRegistered)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, newFakeClock())
	store.seedUser(t, testPasswords(t), "user-1", "member-1", "a@x.com", "correct-horse")

	_, err := svc.Register(context.Background(), RegistrationRequest{ChurchID: "church-1", Name: "A", Email: "a@x.com", Password: "another-pass"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t, newMemStore(), newFakeClock())
	for _, req := range []RegistrationRequest{
		{Name: "A", Email: "a@x.com", Password: "long-enough"},
		{ChurchID: "c", Email: "a@x.com", Password: "long-enough"},
		{ChurchID: "c", Name: "A", Email: "nope", Password: "long-enough"},
		{ChurchID: "c", Name: "A", Email: "a@x.com", Password: "short"},
	} {
		_, err := svc.Register(context.Background(), req)
		require.ErrorIs(t, err, ErrInvalidInput, "%+v", req)
	}
}

func TestRegisterRollsBackPartialWrites(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, newFakeClock())
	store.fail("CreateCredential", errors.New("constraint check failed"))

	_, err := svc.Register(context.Background(), RegistrationRequest{ChurchID: "church-1", Name: "Ruth", Email: "ruth@x.com", Password: "ruths-password"})
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = store.FindMemberByEmail(context.Background(), "ruth@x.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterSurvivesNotificationFailure(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	svc := newTestService(t, store, newFakeClock(), WithNotifier(notifier))
	seedAdmin(t, store)

	m, err := svc.Register(context.Background(), RegistrationRequest{ChurchID: "church-1", Name: "Ruth", Email: "ruth@x.com", Password: "ruths-password"})
	require.NoError(t, err)
	require.Equal(t, MemberPending, store.member(t, m.ID).Status)
}

func seedInvite(store *memStore, expires time.Time) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.churches["church-1"] = Church{ID: "church-1", Slug: "grace", IsActive: true}
	store.members["member-inv"] = Member{
		ID: "member-inv", ChurchID: "church-1", Name: "Invited", Email: "inv@x.com",
		Status: MemberPending, InviteToken: "invite-token", InviteExpiresAt: expires,
	}
}

func TestAcceptInvitationLeavesMemberPending(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	svc := newTestService(t, store, clock)
	seedInvite(store, clock.Now().Add(48*time.Hour))

	m, err := svc.AcceptInvitation(context.Background(), "invite-token", "invited-password")
	require.NoError(t, err)
	require.Equal(t, MemberPending, m.Status)
	require.Empty(t, m.InviteToken)

	stored := store.member(t, "member-inv")
	require.Equal(t, MemberPending, stored.Status)
	require.Empty(t, stored.InviteToken)

	cred, err := store.FindCredentialByMember(context.Background(), "member-inv")
	require.NoError(t, err)
	require.True(t, cred.IsActive)

	res, err := svc.Login(context.Background(), "inv@x.com", "invited-password", ClientMeta{})
	require.NoError(t, err)
	require.Equal(t, LoginOK, res.Status)

	_, err = svc.AcceptInvitation(context.Background(), "invite-token", "invited-password")
	require.ErrorIs(t, err, ErrInvalidInvitation)
}

func TestAcceptInvitationActivatesExistingCredential(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	svc := newTestService(t, store, clock)
	seedInvite(store, clock.Now().Add(time.Hour))
	require.NoError(t, store.CreateCredential(context.Background(), &Credential{ID: "user-inv", MemberID: "member-inv", Email: "inv@x.com", AuthMethod: AuthMethodPassword}))

	_, err := svc.AcceptInvitation(context.Background(), "invite-token", "invited-password")
	require.NoError(t, err)
	require.Equal(t, 1, store.credentialCount())
	cred := store.credential(t, "user-inv")
	require.True(t, cred.IsActive)
	require.NotEmpty(t, cred.PasswordHash)
}

func TestAcceptInvitationRejectsExpired(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	svc := newTestService(t, store, clock)
	seedInvite(store, clock.Now().Add(time.Hour))
	clock.Advance(time.Hour)

	_, err := svc.AcceptInvitation(context.Background(), "invite-token", "invited-password")
	require.ErrorIs(t, err, ErrInvalidInvitation)
	require.Zero(t, store.credentialCount())

	_, err = svc.AcceptInvitation(context.Background(), "unknown", "invited-password")
	require.ErrorIs(t, err, ErrInvalidInvitation)
}

func TestAcceptInvitationRollsBack(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	svc := newTestService(t, store, clock)
	seedInvite(store, clock.Now().Add(time.Hour))
	store.fail("ClearInvitation", errors.New("deadlock detected"))

	_, err := svc.AcceptInvitation(context.Background(), "invite-token", "invited-password")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Zero(t, store.credentialCount())
	require.Equal(t, "invite-token", store.member(t, "member-inv").InviteToken)
}

func TestApproveMemberRequiresPermission(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, newFakeClock())
	seedAdmin(t, store)
	store.seedUser(t, testPasswords(t), "user-2", "member-2", "b@x.com", "b-password")

	m, err := svc.Register(context.Background(), RegistrationRequest{ChurchID: "church-1", Name: "Ruth", Email: "ruth@x.com", Password: "ruths-password"})
	require.NoError(t, err)

	_, err = svc.ApproveMember(context.Background(), "member-2", m.ID)
	require.ErrorIs(t, err, ErrForbidden)
	require.Equal(t, MemberPending, store.member(t, m.ID).Status)

	approved, err := svc.ApproveMember(context.Background(), "member-admin", m.ID)
	require.NoError(t, err)
	require.Equal(t, MemberActive, approved.Status)
	require.Equal(t, MemberActive, store.member(t, m.ID).Status)

	res, err := svc.Login(context.Background(), "ruth@x.com", "ruths-password", ClientMeta{})
	require.NoError(t, err)
	require.Equal(t, LoginOK, res.Status)
}

func TestApproveMemberWithoutChurchNeedsSuperAdmin(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, newFakeClock())
	seedAdmin(t, store)
	store.mu.Lock()
	store.members["member-loose"] = Member{ID: "member-loose", Name: "Loose", Email: "loose@x.com", Status: MemberPending}
	store.globalRoles["member-root"] = []string{RoleSuperAdmin}
	store.mu.Unlock()

	_, err := svc.ApproveMember(context.Background(), "member-admin", "member-loose")
	require.ErrorIs(t, err, ErrForbidden)

	m, err := svc.ApproveMember(context.Background(), "member-root", "member-loose")
	require.NoError(t, err)
	require.Equal(t, MemberActive, m.Status)
}

func TestApproveMemberUnknown(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, newFakeClock())

	_, err := svc.ApproveMember(context.Background(), "member-admin", "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.ApproveMember(context.Background(), "", "missing")
	require.ErrorIs(t, err, ErrInvalidInput)
}

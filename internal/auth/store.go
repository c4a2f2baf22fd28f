package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	CredentialStore
	SessionStore
	AssignmentStore
	SettingsStore
	ResetTicketStore
	MemberStore

	// WithinTx runs fn against a transaction-bound Store. Any error returned
	// by fn rolls back every write made through it.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// CredentialStore looks up and mutates login credentials.
type CredentialStore interface {
	// FindCredentialByEmail returns the active credential for email, or
	// ErrNotFound. Inactive credentials and deleted members are never returned.
	FindCredentialByEmail(ctx context.Context, email string) (CredentialRecord, error)
	// RecordLoginFailure stores absolute counter and lock values computed by the caller.
	RecordLoginFailure(ctx context.Context, userID string, attempts int, lockedUntil time.Time) error
	ResetLoginFailures(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// SessionStore persists issued tokens.
type SessionStore interface {
	CreateSession(ctx context.Context, rec SessionRecord) error
	// FindActiveSession returns the non-revoked row for token, or ErrNotFound.
	FindActiveSession(ctx context.Context, token string) (SessionRecord, error)
	RevokeSession(ctx context.Context, token string) error
	RevokeUserSessions(ctx context.Context, userID string) (int64, error)
}

// AssignmentStore reads role and permission assignments.
type AssignmentStore interface {
	GlobalRoles(ctx context.Context, memberID string) ([]string, error)
	ServiceAssignments(ctx context.Context, memberID, churchID, serviceKey string) ([]ServiceRoleAssignment, error)
	RolePermissions(ctx context.Context, roleID string) ([]string, error)
	AllPermissions(ctx context.Context) ([]string, error)
}

// SettingsStore reads global (church-less) settings as raw key/value pairs.
type SettingsStore interface {
	GlobalSettings(ctx context.Context) (map[string]string, error)
}

// ResetTicketStore manages password reset tickets.
type ResetTicketStore interface {
	// ReplaceResetTicket deletes every ticket for ticket.Email and stores ticket.
	ReplaceResetTicket(ctx context.Context, ticket ResetTicket) error
	FindResetTicket(ctx context.Context, token string) (ResetTicket, error)
	DeleteResetTicket(ctx context.Context, token string) error
}

// MemberStore manages member identities and their credentials.
type MemberStore interface {
	FindMember(ctx context.Context, memberID string) (Member, error)
	FindMemberByEmail(ctx context.Context, email string) (Member, error)
	FindMemberByInviteToken(ctx context.Context, token string) (Member, error)
	CreateMember(ctx context.Context, m *Member) error
	SetMemberStatus(ctx context.Context, memberID string, status MemberStatus) error
	ClearInvitation(ctx context.Context, memberID string) error

	CreateCredential(ctx context.Context, c *Credential) error
	FindCredentialByMember(ctx context.Context, memberID string) (Credential, error)
	// ActivateCredential sets a password hash and marks the credential active.
	ActivateCredential(ctx context.Context, userID, passwordHash string) error
	SetCredentialsActive(ctx context.Context, memberID string, active bool) error

	ChurchAdmins(ctx context.Context, churchID string) ([]Member, error)
}

// Notifier dispatches outbound notifications (email).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// EventLogger records audit events.
type EventLogger interface {
	LogEvent(ctx context.Context, event string, fields map[string]any) error
}

// MetricsRecorder receives auth outcome counts.
type MetricsRecorder interface {
	LoginAttempt(outcome string)
	TokenVerification(result string)
	SessionsRevoked(n int64)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

type nopEvents struct{}

func (nopEvents) LogEvent(context.Context, string, map[string]any) error { return nil }

type nopMetrics struct{}

func (nopMetrics) LoginAttempt(string)      {}
func (nopMetrics) TokenVerification(string) {}
func (nopMetrics) SessionsRevoked(int64)    {}

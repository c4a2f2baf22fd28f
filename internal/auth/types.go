package auth

import "time"

// AuthMethod is how a credential proves identity.
type AuthMethod string

const (
	AuthMethodPassword  AuthMethod = "password"
	AuthMethodFederated AuthMethod = "federated"
)

// MemberStatus is the lifecycle state of a member identity.
type MemberStatus string

const (
	MemberPending MemberStatus = "pending"
	MemberActive  MemberStatus = "active"
	MemberDeleted MemberStatus = "deleted"
)

// Church is a tenant.
type Church struct {
	ID       string
	Name     string
	Slug     string
	IsActive bool
}

// Member is the identity a credential belongs to. ChurchID is empty until the
// member is assigned to a church.
type Member struct {
	ID              string
	ChurchID        string
	Name            string
	Email           string
	Status          MemberStatus
	InviteToken     string
	InviteExpiresAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Credential is a login credential owned by exactly one member.
type Credential struct {
	ID             string
	MemberID       string
	Email          string
	PasswordHash   string
	AuthMethod     AuthMethod
	FailedAttempts int
	LockedUntil    time.Time
	IsActive       bool
	CreatedAt      time.Time
}

// CredentialRecord is an active credential joined to its member and church.
type CredentialRecord struct {
	UserID         string
	MemberID       string
	Email          string
	PasswordHash   string
	FailedAttempts int
	LockedUntil    time.Time
	ChurchID       string
	ChurchSlug     string
	IsActive       bool
	MemberStatus   MemberStatus
}

// ClientMeta carries request metadata recorded with a session.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// SessionRecord is a registry row for an issued token.
type SessionRecord struct {
	ID           string
	UserID       string
	Token        string
	RefreshToken string
	IPAddress    string
	UserAgent    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
}

// Session is what a successful login hands back to the caller.
type Session struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	Claims       Claims
}

// ServiceRoleAssignment grants a member a role inside one service of one church.
// Lower RoleLevel means more privilege.
type ServiceRoleAssignment struct {
	MemberID   string
	ChurchID   string
	ServiceKey string
	RoleID     string
	RoleName   string
	RoleLevel  int
	Enabled    bool
}

// ResetTicket is a single-use password reset token.
type ResetTicket struct {
	Email     string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Notification is a message handed to the notification collaborator.
type Notification struct {
	Kind    string
	To      []string
	Subject string
	Data    map[string]string
}

const (
	NotifyPasswordReset       = "password_reset"
	NotifyRegistrationPending = "registration_pending"
)

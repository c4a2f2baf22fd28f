package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LoginStatus tags the outcome of a login attempt.
type LoginStatus int

const (
	LoginOK LoginStatus = iota
	LoginInvalidCredentials
	LoginLocked
	LoginNotRegistered
)

func (s LoginStatus) String() string {
	switch s {
	case LoginOK:
		return "success"
	case LoginInvalidCredentials:
		return "invalid_credentials"
	case LoginLocked:
		return "locked"
	case LoginNotRegistered:
		return "not_registered"
	default:
		return "unknown"
	}
}

// LoginResult is the outcome of a login. Session is set only for LoginOK,
// LockedUntil only for LoginLocked and Email only for LoginNotRegistered.
type LoginResult struct {
	Status      LoginStatus
	Session     Session
	LockedUntil time.Time
	Email       string
}

// Audit event names.
const (
	EventLoginSuccess        = "auth.login.success"
	EventLoginFailure        = "auth.login.failure"
	EventLoginLocked         = "auth.login.locked"
	EventLogout              = "auth.logout"
	EventLogoutAll           = "auth.logout_all"
	EventResetRequested      = "auth.password_reset.requested"
	EventResetCompleted      = "auth.password_reset.completed"
	EventFederatedFailure    = "auth.federated.failure"
	EventRegistrationCreated = "auth.registration.created"
	EventInvitationAccepted  = "auth.invitation.accepted"
	EventMemberApproved      = "auth.member.approved"
)

// Service is the session API: login, token validation, logout, recovery,
// federated login, registration and authorization checks. Every public method
// translates infrastructure faults into ErrUnavailable after logging them.
type Service struct {
	store Store
	now   func() time.Time

	logger   *zap.Logger
	notifier Notifier
	events   EventLogger
	metrics  MetricsRecorder

	settings       SettingsProvider
	fallbackSecret string
	resetBaseURL   string
	bcryptCost     int
	provider       OAuthProvider
	clientID       string

	passwords    *Passwords
	guard        *LoginGuard
	sessions     *SessionRegistry
	tokens       *TokenIssuer
	resolver     *PermissionResolver
	bridge       *FederatedBridge
	recovery     *RecoveryFlow
	registration *RegistrationWorkflow
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger sets the logger used for infrastructure faults.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithNotifier sets the outbound notification channel.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithEventLogger sets the audit sink.
func WithEventLogger(e EventLogger) ServiceOption {
	return func(s *Service) error {
		if e != nil {
			s.events = e
		}
		return nil
	}
}

// WithMetrics sets the outcome counters.
func WithMetrics(m MetricsRecorder) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.metrics = m
		}
		return nil
	}
}

// WithOAuthProvider enables federated login. clientID is the expected token
// audience.
func WithOAuthProvider(p OAuthProvider, clientID string) ServiceOption {
	return func(s *Service) error {
		if p == nil {
			return nil
		}
		clientID = strings.TrimSpace(clientID)
		if clientID == "" {
			return errors.New("auth: oauth client id is required")
		}
		s.provider = p
		s.clientID = clientID
		return nil
	}
}

// WithFallbackSecret sets the signing secret used when the settings store
// has none.
func WithFallbackSecret(secret string) ServiceOption {
	return func(s *Service) error {
		s.fallbackSecret = strings.TrimSpace(secret)
		return nil
	}
}

// WithResetBaseURL sets the public base URL used in reset links.
func WithResetBaseURL(u string) ServiceOption {
	return func(s *Service) error {
		s.resetBaseURL = strings.TrimSpace(u)
		return nil
	}
}

// WithSettingsProvider replaces the store-backed settings cache.
func WithSettingsProvider(p SettingsProvider) ServiceOption {
	return func(s *Service) error {
		if p != nil {
			s.settings = p
		}
		return nil
	}
}

// WithBcryptCost overrides the bcrypt work factor.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		s.bcryptCost = cost
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:    store,
		now:      time.Now,
		logger:   zap.NewNop(),
		notifier: nopNotifier{},
		events:   nopEvents{},
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.settings == nil {
		svc.settings = NewSettingsCache(store, svc.fallbackSecret)
	}
	passwords, err := NewPasswords(svc.bcryptCost)
	if err != nil {
		return nil, err
	}
	svc.passwords = passwords
	svc.guard = NewLoginGuard(store, svc.settings, svc.now)
	svc.sessions = NewSessionRegistry(store, svc.now)
	svc.tokens = NewTokenIssuer(svc.settings, svc.sessions, svc.now)
	svc.resolver = NewPermissionResolver(store)
	svc.bridge = NewFederatedBridge(svc.provider, svc.clientID, store, svc.guard, svc.tokens)
	svc.recovery = NewRecoveryFlow(store, passwords, svc.notifier, svc.resetBaseURL, svc.now)
	svc.registration = NewRegistrationWorkflow(store, passwords, svc.resolver, svc.notifier, svc.logger, svc.now)
	return svc, nil
}

// FederatedEnabled reports whether an OAuth provider is configured.
func (s *Service) FederatedEnabled() bool { return s.provider != nil }

// InvalidateSettings drops cached security settings so the next call reloads
// them from the store.
func (s *Service) InvalidateSettings() {
	if c, ok := s.settings.(*SettingsCache); ok {
		c.Invalidate()
	}
}

// Login authenticates email and password. Unknown email and wrong password
// produce the same LoginInvalidCredentials result; a locked credential yields
// LoginLocked without touching the counter.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (LoginResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return LoginResult{}, err
	}
	if password == "" {
		return LoginResult{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	rec, err := s.store.FindCredentialByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.passwords.VerifyDummy(password)
		return s.loginFailed(ctx, "", meta, "unknown_email"), nil
	}
	if err != nil {
		s.metrics.LoginAttempt("error")
		return LoginResult{}, s.translate("login", err)
	}

	if lock := s.guard.CheckLockState(rec); lock.Locked {
		s.metrics.LoginAttempt(LoginLocked.String())
		s.audit(ctx, EventLoginLocked, map[string]any{"user_id": rec.UserID, "locked_until": lock.Until, "ip": meta.IP})
		return LoginResult{Status: LoginLocked, LockedUntil: lock.Until}, nil
	}

	if !s.passwords.Verify(rec.PasswordHash, password) {
		state, err := s.guard.RecordFailure(ctx, rec)
		if err != nil {
			s.metrics.LoginAttempt("error")
			return LoginResult{}, s.translate("login.record_failure", err)
		}
		if state.Locked {
			s.logger.Info("credential locked", zap.String("user_id", rec.UserID), zap.Time("locked_until", state.Until))
		}
		return s.loginFailed(ctx, rec.UserID, meta, "wrong_password"), nil
	}
	if err := s.guard.RecordSuccess(ctx, rec); err != nil {
		s.metrics.LoginAttempt("error")
		return LoginResult{}, s.translate("login.record_success", err)
	}
	session, err := s.tokens.Issue(ctx, rec, meta)
	if err != nil {
		s.metrics.LoginAttempt("error")
		return LoginResult{}, s.translate("login.issue", err)
	}
	s.metrics.LoginAttempt(LoginOK.String())
	s.audit(ctx, EventLoginSuccess, map[string]any{"user_id": rec.UserID, "member_id": rec.MemberID, "church_id": rec.ChurchID, "ip": meta.IP})
	return LoginResult{Status: LoginOK, Session: session}, nil
}

func (s *Service) loginFailed(ctx context.Context, userID string, meta ClientMeta, cause string) LoginResult {
	s.metrics.LoginAttempt(LoginInvalidCredentials.String())
	s.audit(ctx, EventLoginFailure, map[string]any{"user_id": userID, "cause": cause, "ip": meta.IP})
	return LoginResult{Status: LoginInvalidCredentials}
}

// Validate verifies a bearer token. Rejections match ErrInvalidToken.
func (s *Service) Validate(ctx context.Context, token string) (Claims, error) {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		if reason, ok := TokenFailureReason(err); ok {
			s.metrics.TokenVerification(string(reason))
			return Claims{}, err
		}
		s.metrics.TokenVerification("error")
		return Claims{}, s.translate("validate", err)
	}
	s.metrics.TokenVerification("valid")
	return claims, nil
}

// Logout revokes the given token.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return s.translate("logout", err)
	}
	s.metrics.SessionsRevoked(1)
	s.audit(ctx, EventLogout, map[string]any{"user_id": claims.UserID, "member_id": claims.MemberID})
	return nil
}

// LogoutEverywhere revokes every session of the token's credential and
// returns how many were revoked.
func (s *Service) LogoutEverywhere(ctx context.Context, token string) (int64, error) {
	claims, err := s.Validate(ctx, token)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAll(ctx, claims.UserID)
	if err != nil {
		return 0, s.translate("logout_all", err)
	}
	s.metrics.SessionsRevoked(n)
	s.audit(ctx, EventLogoutAll, map[string]any{"user_id": claims.UserID, "member_id": claims.MemberID, "revoked": n})
	return n, nil
}

// RequestPasswordReset issues a reset ticket and notifies the owner. It returns
// ErrEmailNotRegistered when no active credential matches.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	ticket, err := s.recovery.RequestReset(ctx, email)
	if err != nil {
		return s.translate("password_reset.request", err)
	}
	s.audit(ctx, EventResetRequested, map[string]any{"email": ticket.Email, "expires_at": ticket.ExpiresAt})
	return nil
}

// RedeemPasswordReset sets a new password with a reset ticket.
func (s *Service) RedeemPasswordReset(ctx context.Context, token, newPassword string) error {
	userID, revoked, err := s.recovery.Redeem(ctx, token, newPassword)
	if err != nil {
		return s.translate("password_reset.redeem", err)
	}
	s.metrics.SessionsRevoked(revoked)
	s.audit(ctx, EventResetCompleted, map[string]any{"user_id": userID, "revoked": revoked})
	return nil
}

// ExchangeFederatedCode completes a federated login. Provider failures are
// reported to the caller as LoginInvalidCredentials and logged with their
// cause; an email without a credential yields LoginNotRegistered.
func (s *Service) ExchangeFederatedCode(ctx context.Context, code, redirectURI string, meta ClientMeta) (LoginResult, error) {
	email, err := s.bridge.ExchangeCodeForProfile(ctx, code, redirectURI)
	if errors.Is(err, ErrFederatedLogin) {
		s.logger.Warn("federated login rejected", zap.Error(err))
		s.metrics.LoginAttempt(LoginInvalidCredentials.String())
		s.audit(ctx, EventFederatedFailure, map[string]any{"cause": err.Error(), "ip": meta.IP})
		return LoginResult{Status: LoginInvalidCredentials}, nil
	}
	if err != nil {
		return LoginResult{}, s.translate("federated.exchange", err)
	}

	res, err := s.bridge.LoginByVerifiedEmail(ctx, email, meta)
	if err != nil {
		s.metrics.LoginAttempt("error")
		return LoginResult{}, s.translate("federated.login", err)
	}
	s.metrics.LoginAttempt(res.Status.String())
	switch res.Status {
	case LoginOK:
		s.audit(ctx, EventLoginSuccess, map[string]any{"user_id": res.Session.Claims.UserID, "member_id": res.Session.Claims.MemberID, "method": string(AuthMethodFederated), "ip": meta.IP})
	case LoginLocked:
		s.audit(ctx, EventLoginLocked, map[string]any{"email": email, "method": string(AuthMethodFederated), "ip": meta.IP})
	default:
		s.audit(ctx, EventFederatedFailure, map[string]any{"cause": res.Status.String(), "email": email, "ip": meta.IP})
	}
	return res, nil
}

// Register creates a pending member awaiting approval.
func (s *Service) Register(ctx context.Context, req RegistrationRequest) (Member, error) {
	m, err := s.registration.Register(ctx, req)
	if err != nil {
		return Member{}, s.translate("register", err)
	}
	s.audit(ctx, EventRegistrationCreated, map[string]any{"member_id": m.ID, "church_id": m.ChurchID})
	return m, nil
}

// AcceptInvitation sets a password for an invited member.
func (s *Service) AcceptInvitation(ctx context.Context, token, password string) (Member, error) {
	m, err := s.registration.AcceptInvitation(ctx, token, password)
	if err != nil {
		return Member{}, s.translate("invitation.accept", err)
	}
	s.audit(ctx, EventInvitationAccepted, map[string]any{"member_id": m.ID, "church_id": m.ChurchID})
	return m, nil
}

// ApproveMember activates a pending member on behalf of approverID.
func (s *Service) ApproveMember(ctx context.Context, approverID, memberID string) (Member, error) {
	m, err := s.registration.Approve(ctx, approverID, memberID)
	if err != nil {
		return Member{}, s.translate("member.approve", err)
	}
	s.audit(ctx, EventMemberApproved, map[string]any{"member_id": m.ID, "approved_by": approverID, "church_id": m.ChurchID})
	return m, nil
}

// HasAccess reports whether memberID may enter serviceKey within churchID.
func (s *Service) HasAccess(ctx context.Context, memberID, churchID, serviceKey string) (bool, error) {
	ok, err := s.resolver.HasAccess(ctx, memberID, churchID, serviceKey)
	if err != nil {
		return false, s.translate("has_access", err)
	}
	return ok, nil
}

// EffectivePermissions resolves the member's permissions in a service.
func (s *Service) EffectivePermissions(ctx context.Context, memberID, churchID, serviceKey string) (PermissionSet, error) {
	set, err := s.resolver.EffectivePermissions(ctx, memberID, churchID, serviceKey)
	if err != nil {
		return nil, s.translate("effective_permissions", err)
	}
	return set, nil
}

// HighestRole returns the member's most privileged role in a service.
func (s *Service) HighestRole(ctx context.Context, memberID, churchID, serviceKey string) (ServiceRoleAssignment, bool, error) {
	a, ok, err := s.resolver.HighestRole(ctx, memberID, churchID, serviceKey)
	if err != nil {
		return ServiceRoleAssignment{}, false, s.translate("highest_role", err)
	}
	return a, ok, nil
}

var publicErrors = []error{
	ErrInvalidInput,
	ErrInvalidCredentials,
	ErrAccountLocked,
	ErrInvalidToken,
	ErrForbidden,
	ErrNotFound,
	ErrConflict,
	ErrEmailNotRegistered,
	ErrInvalidResetTicket,
	ErrInvalidInvitation,
	ErrFederatedLogin,
	ErrUnavailable,
}

// translate passes known outcomes through and turns everything else into
// ErrUnavailable. The raw cause is logged, never returned.
func (s *Service) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Info("auth operation aborted", zap.String("op", op), zap.Error(err))
	} else {
		s.logger.Error("auth operation failed", zap.String("op", op), zap.Error(err))
	}
	return ErrUnavailable
}

func (s *Service) audit(ctx context.Context, event string, fields map[string]any) {
	if err := s.events.LogEvent(ctx, event, fields); err != nil {
		s.logger.Warn("audit event dropped", zap.String("event", event), zap.Error(err))
	}
}

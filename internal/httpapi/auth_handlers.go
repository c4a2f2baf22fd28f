package httpapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
)

// Bodies shared by every credential failure so responses cannot be told apart.
const (
	msgInvalidCredentials = "invalid email or password"
	msgAccountLocked      = "account temporarily locked"
	msgUnavailable        = "service unavailable"
)

const (
	limitScopeLogin  = "login"
	limitScopeForgot = "password_forgot"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type registerRequest struct {
	ChurchID string `json:"church_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	ID         string `json:"id"`
	MemberID   string `json:"member_id"`
	ChurchID   string `json:"church_id,omitempty"`
	ChurchSlug string `json:"church_slug,omitempty"`
}

type sessionResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         userView  `json:"user"`
}

type claimsResponse struct {
	User      userView  `json:"user"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type memberView struct {
	ID        string    `json:"id"`
	ChurchID  string    `json:"church_id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type accessResponse struct {
	Service     string   `json:"service"`
	ChurchID    string   `json:"church_id"`
	HasAccess   bool     `json:"has_access"`
	Permissions []string `json:"permissions"`
	HighestRole string   `json:"highest_role,omitempty"`
}

func toUserView(c auth.Claims) userView {
	return userView{ID: c.UserID, MemberID: c.MemberID, ChurchID: c.ChurchID, ChurchSlug: c.ChurchSlug}
}

func toMemberView(m auth.Member) memberView {
	return memberView{
		ID:        m.ID,
		ChurchID:  m.ChurchID,
		Name:      m.Name,
		Email:     m.Email,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.allowCredentialAttempt(w, r, limitScopeLogin) {
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.clearCredentialAttempts(r, res)
	a.writeLoginResult(w, res)
}

func (a *API) handleGoogle(w http.ResponseWriter, r *http.Request) {
	if !a.auth.FederatedEnabled() {
		writeError(w, http.StatusNotFound, "federated login is not configured")
		return
	}
	if !a.allowCredentialAttempt(w, r, limitScopeLogin) {
		return
	}
	var req googleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.ExchangeFederatedCode(r.Context(), req.Code, req.RedirectURI, clientMeta(r))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.clearCredentialAttempts(r, res)
	a.writeLoginResult(w, res)
}

func (a *API) writeLoginResult(w http.ResponseWriter, res auth.LoginResult) {
	switch res.Status {
	case auth.LoginOK:
		writeJSON(w, http.StatusOK, sessionResponse{
			Token:        res.Session.Token,
			RefreshToken: res.Session.RefreshToken,
			ExpiresAt:    res.Session.ExpiresAt.UTC(),
			User:         toUserView(res.Session.Claims),
		})
	case auth.LoginLocked:
		writeLocked(w, res.LockedUntil, a.now())
	case auth.LoginNotRegistered:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "email is not registered",
			"email": res.Email,
		})
	default:
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	}
}

func writeLocked(w http.ResponseWriter, until, now time.Time) {
	body := map[string]any{"error": msgAccountLocked}
	if !until.IsZero() {
		body["locked_until"] = until.UTC().Format(time.RFC3339)
		if wait := until.Sub(now); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}
	writeJSON(w, http.StatusLocked, body)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	resp := claimsResponse{User: toUserView(claims)}
	if claims.IssuedAt != nil {
		resp.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if err := a.auth.Logout(r.Context(), token); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	n, err := a.auth.LogoutEverywhere(r.Context(), token)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out", "revoked": n})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if !a.allowCredentialAttempt(w, r, limitScopeForgot) {
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset_requested"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req tokenPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.RedeemPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_updated"})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.auth.Register(r.Context(), auth.RegistrationRequest{
		ChurchID: req.ChurchID,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberView(m))
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req tokenPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.auth.AcceptInvitation(r.Context(), req.Token, req.Password)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberView(m))
}

func (a *API) handleApproveMember(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	m, err := a.auth.ApproveMember(r.Context(), claims.MemberID, r.PathValue("id"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberView(m))
}

func (a *API) handleServiceAccess(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	service := strings.TrimSpace(r.PathValue("service"))
	ctx := r.Context()

	has, err := a.auth.HasAccess(ctx, claims.MemberID, claims.ChurchID, service)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	perms, err := a.auth.EffectivePermissions(ctx, claims.MemberID, claims.ChurchID, service)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	resp := accessResponse{
		Service:     service,
		ChurchID:    claims.ChurchID,
		HasAccess:   has,
		Permissions: perms.Names(),
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}
	role, found, err := a.auth.HighestRole(ctx, claims.MemberID, claims.ChurchID, service)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	if found {
		resp.HighestRole = role.RoleName
	}
	writeJSON(w, http.StatusOK, resp)
}

// allowCredentialAttempt applies the shared limiter. A limiter outage lets the
// request through; account lockout still applies.
func (a *API) allowCredentialAttempt(w http.ResponseWriter, r *http.Request, scope string) bool {
	if a.limiter == nil {
		return true
	}
	d, err := a.limiter.Allow(r.Context(), scope, clientIP(r))
	if err != nil {
		a.logger.Warn("login limiter unavailable", zap.String("scope", scope), zap.Error(err))
		return true
	}
	if d.Allowed {
		return true
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "too many attempts")
	return false
}

// clearCredentialAttempts drops the caller's login window once a login
// succeeds. A limiter outage only costs the caller a stale window.
func (a *API) clearCredentialAttempts(r *http.Request, res auth.LoginResult) {
	if a.limiter == nil || res.Status != auth.LoginOK {
		return
	}
	if err := a.limiter.Reset(r.Context(), limitScopeLogin, clientIP(r)); err != nil {
		a.logger.Warn("login limiter reset failed", zap.Error(err))
	}
}

// writeAuthError maps auth outcomes to HTTP. Anything not recognised fails
// closed with 503.
func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrFederatedLogin):
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, auth.ErrAccountLocked):
		writeLocked(w, time.Time{}, a.now())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrEmailNotRegistered):
		writeError(w, http.StatusNotFound, "email is not registered")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, auth.ErrInvalidResetTicket):
		writeError(w, http.StatusBadRequest, "reset token is invalid or expired")
	case errors.Is(err, auth.ErrInvalidInvitation):
		writeError(w, http.StatusBadRequest, "invitation is invalid or expired")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, publicMessage(err))
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, msgUnavailable)
	default:
		if !errors.Is(err, auth.ErrUnavailable) {
			a.logger.Error("unmapped auth error", zap.String("path", r.URL.Path), zap.Error(err))
		}
		writeError(w, http.StatusServiceUnavailable, msgUnavailable)
	}
}

func publicMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "auth: ")
}

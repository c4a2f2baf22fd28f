package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
	"github.com/JoelPallero/Church-Center-sub001/internal/obs"
	"github.com/JoelPallero/Church-Center-sub001/internal/ratelimit"
)

const serviceName = "church-center-auth"

// ReadyProbe pings the database for readiness.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// ReadinessChecker reports whether dependencies can serve traffic.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// AuthService is the auth facade the handlers call. *auth.Service satisfies it.
type AuthService interface {
	Login(ctx context.Context, email, password string, meta auth.ClientMeta) (auth.LoginResult, error)
	Validate(ctx context.Context, token string) (auth.Claims, error)
	Logout(ctx context.Context, token string) error
	LogoutEverywhere(ctx context.Context, token string) (int64, error)
	RequestPasswordReset(ctx context.Context, email string) error
	RedeemPasswordReset(ctx context.Context, token, newPassword string) error
	FederatedEnabled() bool
	ExchangeFederatedCode(ctx context.Context, code, redirectURI string, meta auth.ClientMeta) (auth.LoginResult, error)
	Register(ctx context.Context, req auth.RegistrationRequest) (auth.Member, error)
	AcceptInvitation(ctx context.Context, token, password string) (auth.Member, error)
	ApproveMember(ctx context.Context, approverID, memberID string) (auth.Member, error)
	HasAccess(ctx context.Context, memberID, churchID, serviceKey string) (bool, error)
	EffectivePermissions(ctx context.Context, memberID, churchID, serviceKey string) (auth.PermissionSet, error)
	HighestRole(ctx context.Context, memberID, churchID, serviceKey string) (auth.ServiceRoleAssignment, bool, error)
}

var _ AuthService = (*auth.Service)(nil)

// LoginLimiter throttles credential endpoints per client address. Reset clears
// the window after a successful login.
type LoginLimiter interface {
	Allow(ctx context.Context, scope, subject string) (ratelimit.Decision, error)
	Reset(ctx context.Context, scope, subject string) error
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadinessChecker
	version    string
	auth       AuthService
	logger     *zap.Logger
	limiter    LoginLimiter

	rateBurst  int
	ratePerSec float64
	now        func() time.Time
}

// Option configures API.
type Option func(*API)

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithLoginLimiter enables shared per-IP throttling of login and reset requests.
func WithLoginLimiter(l LoginLimiter) Option {
	return func(a *API) { a.limiter = l }
}

// WithRateLimit sets the per-IP token bucket applied to every request.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec = perSecond
			a.rateBurst = burst
		}
	}
}

func New(rp ReadinessChecker, version string, svc AuthService, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       svc,
		logger:     zap.NewNop(),
		rateBurst:  20,
		ratePerSec: 10,
		now:        time.Now,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("GET /v1/auth/session", a.handleSession)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("POST /v1/auth/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("POST /v1/auth/password/forgot", a.handleForgotPassword)
	a.mux.HandleFunc("POST /v1/auth/password/reset", a.handleResetPassword)
	a.mux.HandleFunc("POST /v1/auth/google", a.handleGoogle)
	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/invitations/accept", a.handleAcceptInvitation)
	a.mux.HandleFunc("POST /v1/members/{id}/approve", a.handleApproveMember)
	a.mux.HandleFunc("GET /v1/services/{service}/access", a.handleServiceAccess)

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(a.logger, h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	federated := a.auth != nil && a.auth.FederatedEnabled()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      a.now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"federated": federated,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

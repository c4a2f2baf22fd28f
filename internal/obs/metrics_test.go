package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/v1/auth/login":                    "/v1/auth/login",
		"/v1/auth/session?x=1":              "/v1/auth/session",
		"/v1/members/01HX/approve":          "/v1/members/:id/approve",
		"/v1/members/01HX/extra":            "/v1/members/01HX/extra",
		"/v1/services/people/access":        "/v1/services/:service/access",
		"/v1/services/people/access/nested": "/v1/services/people/access/nested",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestAuthMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewAuthMetrics(reg)
	if err != nil {
		t.Fatalf("NewAuthMetrics: %v", err)
	}

	m.LoginAttempt("success")
	m.LoginAttempt("success")
	m.LoginAttempt("locked")
	m.TokenVerification("expired")
	m.SessionsRevoked(3)
	m.SessionsRevoked(0)

	if got := testutil.ToFloat64(m.loginAttempts.WithLabelValues("success")); got != 2 {
		t.Fatalf("success attempts=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.loginAttempts.WithLabelValues("locked")); got != 1 {
		t.Fatalf("locked attempts=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tokenVerifications.WithLabelValues("expired")); got != 1 {
		t.Fatalf("expired verifications=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsRevoked); got != 3 {
		t.Fatalf("revoked=%v, want 3", got)
	}

	if _, err := NewAuthMetrics(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/members/abc/approve", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rec.Code)
	}
	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/members/:id/approve", "418"))
	if got != 1 {
		t.Fatalf("requests_total=%v, want 1", got)
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		logger, err := NewLogger(env, "debug")
		if err != nil {
			t.Fatalf("NewLogger(%s): %v", env, err)
		}
		if !logger.Core().Enabled(zap.DebugLevel) {
			t.Fatalf("%s logger should enable debug", env)
		}
	}
	if _, err := NewLogger("production", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	logger, err := NewLogger("", "")
	if err != nil {
		t.Fatalf("NewLogger defaults: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("default level should be info")
	}
}

func TestSetReady(t *testing.T) {
	SetReady(true)
	if got := testutil.ToFloat64(serviceReady); got != 1 {
		t.Fatalf("ready=%v, want 1", got)
	}
	SetReady(false)
	if got := testutil.ToFloat64(serviceReady); got != 0 {
		t.Fatalf("ready=%v, want 0", got)
	}
}

package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
)

type capturedMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newTestMailer(t *testing.T, sendErr error) (*SMTPMailer, *capturedMail) {
	t.Helper()
	got := &capturedMail{}
	m := NewSMTPMailer("smtp.example.org", 587, "mailer", "s3cret", "noreply@example.org")
	m.now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		got.addr, got.auth, got.from, got.to, got.msg = addr, a, from, to, string(msg)
		return sendErr
	}
	return m, got
}

func TestSMTPMailerSendsResetLink(t *testing.T) {
	m, got := newTestMailer(t, nil)
	err := m.Notify(context.Background(), auth.Notification{
		Kind:    auth.NotifyPasswordReset,
		To:      []string{"ana@example.org"},
		Subject: "Reset your password",
		Data: map[string]string{
			"token":      "abc",
			"expires_at": "2024-03-11T09:00:00Z",
			"link":       "https://app.example.org/reset-password?token=abc",
		},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.addr != "smtp.example.org:587" || got.from != "noreply@example.org" {
		t.Fatalf("unexpected envelope: %s %s", got.addr, got.from)
	}
	if got.auth == nil {
		t.Fatal("expected plain auth")
	}
	for _, want := range []string{
		"To: ana@example.org\r\n",
		"Subject: Reset your password\r\n",
		"Content-Type: text/html; charset=UTF-8",
		`href="https://app.example.org/reset-password?token=abc"`,
		"2024-03-11T09:00:00Z",
	} {
		if !strings.Contains(got.msg, want) {
			t.Fatalf("message missing %q:\n%s", want, got.msg)
		}
	}
}

func TestSMTPMailerWithoutCredentials(t *testing.T) {
	m, got := newTestMailer(t, nil)
	m.Username = ""
	err := m.Notify(context.Background(), auth.Notification{
		Kind: auth.NotifyRegistrationPending,
		To:   []string{"a@example.org", "b@example.org"},
		Data: map[string]string{"member_name": "Ana <script>", "member_email": "ana@example.org"},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.auth != nil {
		t.Fatal("expected no auth")
	}
	if len(got.to) != 2 {
		t.Fatalf("recipients=%v", got.to)
	}
	if strings.Contains(got.msg, "<script>") {
		t.Fatal("member name must be escaped")
	}
}

func TestSMTPMailerErrors(t *testing.T) {
	boom := errors.New("421 try later")
	m, _ := newTestMailer(t, boom)

	n := auth.Notification{Kind: auth.NotifyPasswordReset, To: []string{"a@example.org"}, Data: map[string]string{"token": "x"}}
	if err := m.Notify(context.Background(), n); !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
	if err := m.Notify(context.Background(), auth.Notification{Kind: "unknown", To: []string{"a@example.org"}}); err == nil {
		t.Fatal("expected unknown template error")
	}
	if err := m.Notify(context.Background(), auth.Notification{Kind: auth.NotifyPasswordReset}); err == nil {
		t.Fatal("expected missing recipients error")
	}
}

func TestRenderResetWithoutLink(t *testing.T) {
	body, err := Render(auth.Notification{Kind: auth.NotifyPasswordReset, Data: map[string]string{"token": "tok-1"}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(body, "<strong>tok-1</strong>") {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestLogNotifierOmitsSecrets(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))
	err := n.Notify(context.Background(), auth.Notification{
		Kind: auth.NotifyPasswordReset,
		To:   []string{"ana@example.org"},
		Data: map[string]string{"token": "secret-token", "link": "https://x/?token=secret-token", "expires_at": "soon"},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one entry, got %d", logs.Len())
	}
	for _, f := range logs.All()[0].Context {
		if strings.Contains(f.String, "secret-token") {
			t.Fatalf("token leaked in field %s", f.Key)
		}
	}
	data := logs.All()[0].ContextMap()["data"]
	if !strings.Contains(strings.Join(toStrings(data), ","), "expires_at=soon") {
		t.Fatalf("data missing expires_at: %v", data)
	}
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

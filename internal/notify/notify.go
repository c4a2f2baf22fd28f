// Package notify delivers auth notifications by email or to the log.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "password_reset"}}<p>We received a request to reset your password.</p>
{{if .link}}<p><a href="{{.link}}">Choose a new password</a></p>{{else}}<p>Your reset code is <strong>{{.token}}</strong>.</p>{{end}}
<p>This link expires at {{.expires_at}}. If you did not ask for it, ignore this message.</p>{{end}}
{{define "registration_pending"}}<p>{{.member_name}} ({{.member_email}}) registered and is waiting for approval.</p>{{end}}
`))

// Render returns the HTML body for a notification kind.
func Render(n auth.Notification) (string, error) {
	t := templates.Lookup(n.Kind)
	if t == nil {
		return "", fmt.Errorf("notify: no template for %q", n.Kind)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, n.Data); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", n.Kind, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends notifications as HTML email.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	send SendFunc
	now  func() time.Time
}

var _ auth.Notifier = (*SMTPMailer)(nil)

// NewSMTPMailer returns a mailer using smtp.SendMail.
func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

func (m *SMTPMailer) Notify(ctx context.Context, n auth.Notification) error {
	if len(n.To) == 0 {
		return errors.New("notify: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := Render(n)
	if err != nil {
		return err
	}
	var a smtp.Auth
	if m.Username != "" {
		a = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	if err := m.send(addr, a, m.From, n.To, m.message(n, body)); err != nil {
		return fmt.Errorf("notify: send %s: %w", n.Kind, err)
	}
	return nil
}

func (m *SMTPMailer) message(n auth.Notification, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.Bytes()
}

// LogNotifier writes notifications to the logger instead of sending them.
// Secrets in the payload are not logged.
type LogNotifier struct {
	log *zap.Logger
}

var _ auth.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n auth.Notification) error {
	keys := make([]string, 0, len(n.Data))
	for k := range n.Data {
		if k == "token" || k == "link" {
			continue
		}
		keys = append(keys, k+"="+n.Data[k])
	}
	l.log.Info("notification",
		zap.String("kind", n.Kind),
		zap.Strings("to", n.To),
		zap.String("subject", n.Subject),
		zap.Strings("data", keys),
	)
	return nil
}

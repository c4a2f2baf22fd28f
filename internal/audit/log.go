package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// ActivitySink persists audit events. pg.Store satisfies it.
type ActivitySink interface {
	AppendActivity(ctx context.Context, memberID, event string, details map[string]any, at time.Time) error
}

// Logger writes audit events to zap and, when a sink is set, to the activity log.
type Logger struct {
	log  *zap.Logger
	sink ActivitySink
	now  func() time.Time
}

// Option configures Logger.
type Option func(*Logger)

// WithSink enables persistence of every event.
func WithSink(sink ActivitySink) Option {
	return func(l *Logger) { l.sink = sink }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

var _ auth.EventLogger = (*Logger)(nil)

// New returns an audit Logger. A nil zap logger discards output.
func New(log *zap.Logger, opts ...Option) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Logger{log: log.With(zap.String("type", "audit")), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogEvent writes an audit log entry enriched with request and member context.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	at := l.now().UTC()
	memberID := memberIDFor(ctx, fields)

	zf := make([]zap.Field, 0, 4)
	zf = append(zf, zap.String("event", event), zap.Time("at", at))
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if memberID != "" {
		zf = append(zf, zap.String("member_id", memberID))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	zf = append(zf, zap.Any("fields", copyFields))
	l.log.Info("audit event", zf...)

	if l.sink == nil {
		return nil
	}
	if err := l.sink.AppendActivity(ctx, memberID, event, copyFields, at); err != nil {
		return fmt.Errorf("persist audit event %s: %w", event, err)
	}
	return nil
}

func memberIDFor(ctx context.Context, fields map[string]any) string {
	if v, ok := fields["member_id"].(string); ok && v != "" {
		return v
	}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		return claims.MemberID
	}
	return ""
}

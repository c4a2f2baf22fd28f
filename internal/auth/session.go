package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/JoelPallero/Church-Center-sub001/internal/ids"
)

// SessionRegistry is the durable record of issued tokens. A token is only
// valid while its row exists and is not revoked. Revocation is one-way.
type SessionRegistry struct {
	store SessionStore
	now   func() time.Time
}

// NewSessionRegistry constructs a registry.
func NewSessionRegistry(store SessionStore, now func() time.Time) *SessionRegistry {
	if now == nil {
		now = time.Now
	}
	return &SessionRegistry{store: store, now: now}
}

// Issue records a freshly minted token.
func (r *SessionRegistry) Issue(ctx context.Context, userID, token, refreshToken string, ttl time.Duration, meta ClientMeta) error {
	if strings.TrimSpace(userID) == "" || token == "" || refreshToken == "" {
		return ErrInvalidInput
	}
	now := r.now().UTC()
	return r.store.CreateSession(ctx, SessionRecord{
		ID:           ids.New(),
		UserID:       userID,
		Token:        token,
		RefreshToken: refreshToken,
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
	})
}

// IsValid reports whether a non-revoked row exists for token.
func (r *SessionRegistry) IsValid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, err := r.store.FindActiveSession(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Revoke invalidates a single token.
func (r *SessionRegistry) Revoke(ctx context.Context, token string) error {
	return r.store.RevokeSession(ctx, token)
}

// RevokeAll invalidates every session of a credential and returns how many
// rows changed.
func (r *SessionRegistry) RevokeAll(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}
	return r.store.RevokeUserSessions(ctx, userID)
}

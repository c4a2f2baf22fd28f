package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const refreshTokenBytes = 32

// Claims is the signed token payload. It carries identity only; permissions
// are resolved per request so role changes apply without re-issuing tokens.
type Claims struct {
	UserID     string `json:"uid"`
	MemberID   string `json:"member_id"`
	ChurchID   string `json:"church_id,omitempty"`
	ChurchSlug string `json:"church_slug,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 session tokens. Every issued token has
// a registry row written before it is returned.
type TokenIssuer struct {
	settings SettingsProvider
	sessions *SessionRegistry
	now      func() time.Time
}

// NewTokenIssuer constructs an issuer.
func NewTokenIssuer(settings SettingsProvider, sessions *SessionRegistry, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{settings: settings, sessions: sessions, now: now}
}

// Issue signs a token for rec and records it in the session registry.
func (t *TokenIssuer) Issue(ctx context.Context, rec CredentialRecord, meta ClientMeta) (Session, error) {
	if strings.TrimSpace(rec.UserID) == "" || strings.TrimSpace(rec.MemberID) == "" {
		return Session{}, fmt.Errorf("%w: credential and member ids are required", ErrInvalidInput)
	}
	settings, err := t.settings.Settings(ctx)
	if err != nil {
		return Session{}, err
	}

	now := t.now().UTC()
	exp := now.Add(settings.SessionTimeout)
	claims := Claims{
		UserID:     rec.UserID,
		MemberID:   rec.MemberID,
		ChurchID:   rec.ChurchID,
		ChurchSlug: rec.ChurchSlug,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(settings.Secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	refresh, err := randomToken(refreshTokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := t.sessions.Issue(ctx, rec.UserID, signed, refresh, settings.SessionTimeout, meta); err != nil {
		return Session{}, fmt.Errorf("record session: %w", err)
	}
	return Session{
		Token:        signed,
		RefreshToken: refresh,
		ExpiresAt:    claims.ExpiresAt.Time,
		Claims:       claims,
	}, nil
}

// Verify checks, in order, the segment count, the signature, the expiry and
// the registry row. Each check fails closed with a *TokenError.
func (t *TokenIssuer) Verify(ctx context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.Count(token, ".") != 2 {
		return Claims{}, &TokenError{Reason: FailureMalformed}
	}
	settings, err := t.settings.Settings(ctx)
	if err != nil {
		return Claims{}, err
	}

	// Claims are checked below: the token stays valid up to and including
	// its exp instant.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var claims Claims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return settings.Secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, &TokenError{Reason: FailureSignature}
		}
		return Claims{}, &TokenError{Reason: FailureMalformed}
	}
	if claims.ExpiresAt == nil {
		return Claims{}, &TokenError{Reason: FailureMalformed}
	}
	if claims.ExpiresAt.Time.Before(t.now()) {
		return Claims{}, &TokenError{Reason: FailureExpired}
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.MemberID) == "" {
		return Claims{}, &TokenError{Reason: FailureMalformed}
	}

	ok, err := t.sessions.IsValid(ctx, token)
	if err != nil {
		return Claims{}, err
	}
	if !ok {
		return Claims{}, &TokenError{Reason: FailureRevoked}
	}
	return claims, nil
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// FederatedProfile is what an external provider asserts about the user.
type FederatedProfile struct {
	Email         string
	EmailVerified bool
	Audience      string
	Subject       string
}

// OAuthProvider exchanges an authorization code for a provider profile.
type OAuthProvider interface {
	Exchange(ctx context.Context, code, redirectURI string) (FederatedProfile, error)
}

// FederatedBridge binds an externally verified email to an existing local
// credential. It never provisions new credentials.
type FederatedBridge struct {
	provider OAuthProvider
	clientID string
	store    CredentialStore
	guard    *LoginGuard
	tokens   *TokenIssuer
}

// NewFederatedBridge constructs a bridge. clientID is the audience every
// provider token must carry.
func NewFederatedBridge(provider OAuthProvider, clientID string, store CredentialStore, guard *LoginGuard, tokens *TokenIssuer) *FederatedBridge {
	return &FederatedBridge{provider: provider, clientID: clientID, store: store, guard: guard, tokens: tokens}
}

// ExchangeCodeForProfile runs the code exchange and returns the verified email.
// Provider errors, audience mismatches and unverified emails all wrap
// ErrFederatedLogin.
func (b *FederatedBridge) ExchangeCodeForProfile(ctx context.Context, code, redirectURI string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("%w: authorization code is required", ErrInvalidInput)
	}
	if b.provider == nil || b.clientID == "" {
		return "", fmt.Errorf("%w: provider not configured", ErrFederatedLogin)
	}
	profile, err := b.provider.Exchange(ctx, code, redirectURI)
	if err != nil {
		if errors.Is(err, ErrFederatedLogin) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrFederatedLogin, err)
	}
	if profile.Audience != b.clientID {
		return "", fmt.Errorf("%w: audience mismatch", ErrFederatedLogin)
	}
	if !profile.EmailVerified {
		return "", fmt.Errorf("%w: email not verified by provider", ErrFederatedLogin)
	}
	email, err := NormalizeEmail(profile.Email)
	if err != nil {
		return "", fmt.Errorf("%w: provider returned an invalid email", ErrFederatedLogin)
	}
	return email, nil
}

// LoginByVerifiedEmail issues a session for the credential matching email.
// A miss yields LoginNotRegistered carrying the email.
func (b *FederatedBridge) LoginByVerifiedEmail(ctx context.Context, email string, meta ClientMeta) (LoginResult, error) {
	rec, err := b.store.FindCredentialByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{Status: LoginNotRegistered, Email: email}, nil
	}
	if err != nil {
		return LoginResult{}, err
	}
	if lock := b.guard.CheckLockState(rec); lock.Locked {
		return LoginResult{Status: LoginLocked, LockedUntil: lock.Until}, nil
	}
	session, err := b.tokens.Issue(ctx, rec, meta)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Status: LoginOK, Session: session}, nil
}

// Google endpoints.
const (
	GoogleTokenURL     = "https://oauth2.googleapis.com/token"
	GoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
)

// GoogleProvider exchanges codes with Google and reads the id_token claims
// through the tokeninfo endpoint.
type GoogleProvider struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	TokenInfoURL string
	HTTPClient   *http.Client
}

// NewGoogleProvider builds a provider with the public Google endpoints.
func NewGoogleProvider(clientID, clientSecret string) *GoogleProvider {
	return &GoogleProvider{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     GoogleTokenURL,
		TokenInfoURL: GoogleTokenInfoURL,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Exchange implements OAuthProvider.
func (g *GoogleProvider) Exchange(ctx context.Context, code, redirectURI string) (FederatedProfile, error) {
	client := g.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	conf := &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  g.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tok, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, client), code)
	if err != nil {
		return FederatedProfile{}, fmt.Errorf("%w: code exchange: %v", ErrFederatedLogin, err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return FederatedProfile{}, fmt.Errorf("%w: provider response has no id_token", ErrFederatedLogin)
	}
	return g.tokenInfo(ctx, client, idToken)
}

type tokenInfo struct {
	Aud           string   `json:"aud"`
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
}

// flexBool accepts both JSON booleans and the "true"/"false" strings the
// tokeninfo endpoint returns.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	*b = flexBool(strings.EqualFold(s, "true"))
	return nil
}

func (g *GoogleProvider) tokenInfo(ctx context.Context, client *http.Client, idToken string) (FederatedProfile, error) {
	endpoint := g.TokenInfoURL + "?" + url.Values{"id_token": {idToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FederatedProfile{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return FederatedProfile{}, fmt.Errorf("%w: tokeninfo: %v", ErrFederatedLogin, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return FederatedProfile{}, fmt.Errorf("%w: tokeninfo read: %v", ErrFederatedLogin, err)
	}
	if resp.StatusCode != http.StatusOK {
		return FederatedProfile{}, fmt.Errorf("%w: tokeninfo status %d", ErrFederatedLogin, resp.StatusCode)
	}
	var info tokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return FederatedProfile{}, fmt.Errorf("%w: tokeninfo decode: %v", ErrFederatedLogin, err)
	}
	return FederatedProfile{
		Email:         info.Email,
		EmailVerified: bool(info.EmailVerified),
		Audience:      info.Aud,
		Subject:       info.Sub,
	}, nil
}

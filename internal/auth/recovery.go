package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ResetTicketTTL   = 24 * time.Hour
	resetTicketBytes = 32
)

// RecoveryFlow issues and redeems single-use password reset tickets.
//
// Unlike login, RequestReset tells the caller whether the email has an
// active credential.
type RecoveryFlow struct {
	store     Store
	passwords *Passwords
	notifier  Notifier
	baseURL   string
	now       func() time.Time
}

// NewRecoveryFlow constructs a flow. baseURL is the public address reset links
// point at; it may be empty.
func NewRecoveryFlow(store Store, passwords *Passwords, notifier Notifier, baseURL string, now func() time.Time) *RecoveryFlow {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	return &RecoveryFlow{store: store, passwords: passwords, notifier: notifier, baseURL: strings.TrimRight(baseURL, "/"), now: now}
}

// RequestReset replaces any outstanding ticket for email with a fresh one and
// sends the reset notification. The returned ticket is for the caller's audit
// trail and must not be echoed to clients.
func (f *RecoveryFlow) RequestReset(ctx context.Context, email string) (ResetTicket, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return ResetTicket{}, err
	}
	_, err = f.store.FindCredentialByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return ResetTicket{}, ErrEmailNotRegistered
	}
	if err != nil {
		return ResetTicket{}, err
	}

	token, err := randomToken(resetTicketBytes)
	if err != nil {
		return ResetTicket{}, fmt.Errorf("generate reset token: %w", err)
	}
	now := f.now().UTC()
	ticket := ResetTicket{
		Email:     email,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(ResetTicketTTL),
	}
	if err := f.store.ReplaceResetTicket(ctx, ticket); err != nil {
		return ResetTicket{}, fmt.Errorf("store reset ticket: %w", err)
	}

	data := map[string]string{
		"token":      token,
		"expires_at": ticket.ExpiresAt.Format(time.RFC3339),
	}
	if f.baseURL != "" {
		data["link"] = f.baseURL + "/reset-password?token=" + token
	}
	if err := f.notifier.Notify(ctx, Notification{
		Kind:    NotifyPasswordReset,
		To:      []string{email},
		Subject: "Reset your password",
		Data:    data,
	}); err != nil {
		return ResetTicket{}, fmt.Errorf("send reset notification: %w", err)
	}
	return ticket, nil
}

// Redeem sets a new password using a ticket. The ticket is deleted on success,
// lockout state is cleared and every session of the credential is revoked,
// all in one transaction. It returns the credential id and the number of
// revoked sessions.
func (f *RecoveryFlow) Redeem(ctx context.Context, token, newPassword string) (string, int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", 0, fmt.Errorf("%w: reset token is required", ErrInvalidInput)
	}
	hash, err := f.passwords.Hash(newPassword)
	if err != nil {
		return "", 0, err
	}

	var (
		userID  string
		revoked int64
	)
	err = f.store.WithinTx(ctx, func(tx Store) error {
		ticket, err := tx.FindResetTicket(ctx, token)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidResetTicket
		}
		if err != nil {
			return err
		}
		if !f.now().Before(ticket.ExpiresAt) {
			return ErrInvalidResetTicket
		}
		rec, err := tx.FindCredentialByEmail(ctx, ticket.Email)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidResetTicket
		}
		if err != nil {
			return err
		}
		if err := tx.UpdatePassword(ctx, rec.UserID, hash); err != nil {
			return err
		}
		if err := tx.ResetLoginFailures(ctx, rec.UserID); err != nil {
			return err
		}
		if err := tx.DeleteResetTicket(ctx, token); err != nil {
			return err
		}
		n, err := tx.RevokeUserSessions(ctx, rec.UserID)
		if err != nil {
			return err
		}
		userID, revoked = rec.UserID, n
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return userID, revoked, nil
}

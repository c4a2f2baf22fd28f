package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrAccountLocked      = errors.New("auth: account temporarily locked")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrUnavailable        = errors.New("auth: service unavailable")

	// ErrEmailNotRegistered is returned by password recovery when no active
	// credential matches. Recovery deliberately discloses account existence.
	ErrEmailNotRegistered = errors.New("auth: email is not registered")
	ErrInvalidResetTicket = errors.New("auth: reset token is invalid or expired")
	ErrInvalidInvitation  = errors.New("auth: invitation is invalid or expired")
	ErrFederatedLogin     = errors.New("auth: federated login failed")
)

// TokenFailure names the verification step a token failed at.
type TokenFailure string

const (
	FailureMalformed TokenFailure = "malformed"
	FailureSignature TokenFailure = "signature"
	FailureExpired   TokenFailure = "expired"
	FailureRevoked   TokenFailure = "revoked"
)

// TokenError reports why a token was rejected. It matches ErrInvalidToken.
type TokenError struct {
	Reason TokenFailure
}

func (e *TokenError) Error() string {
	return "auth: invalid token (" + string(e.Reason) + ")"
}

func (e *TokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

// TokenFailureReason extracts the failure step from err, if any.
func TokenFailureReason(err error) (TokenFailure, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Reason, true
	}
	return "", false
}

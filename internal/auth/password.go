package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes; reject instead of silently truncating.
	maxPasswordLength = 72

	dummyPassword = "church-center-timing-equalizer"
)

// Passwords hashes and verifies passwords with bcrypt.
type Passwords struct {
	cost      int
	dummyHash []byte
}

// NewPasswords prepares a hasher. The dummy hash is generated with the same
// cost as real hashes so a lookup miss costs the same as a wrong password.
func NewPasswords(cost int) (*Passwords, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d out of range", ErrInvalidInput, cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Passwords{cost: cost, dummyHash: dummy}, nil
}

// Hash hashes a plaintext password after checking the length policy.
func (p *Passwords) Hash(password string) (string, error) {
	if err := CheckPasswordPolicy(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext with hash. An empty hash is compared against the
// dummy hash and always fails.
func (p *Passwords) Verify(hash, password string) bool {
	if hash == "" {
		p.VerifyDummy(password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyDummy burns one bcrypt comparison.
func (p *Passwords) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(password))
}

// CheckPasswordPolicy enforces the minimum and maximum password length.
func CheckPasswordPolicy(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}

func randomToken(size int) (string, error) {
	if size <= 0 {
		return "", errors.New("token size must be positive")
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

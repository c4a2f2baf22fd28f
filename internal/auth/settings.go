package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Keys of the global settings rows.
const (
	SettingSecret           = "jwt_secret"
	SettingSessionTimeout   = "session_timeout"
	SettingMaxLoginAttempts = "max_login_attempts"
	SettingLockoutDuration  = "lockout_duration"
)

const (
	DefaultSessionTimeout   = 24 * time.Hour
	DefaultMaxLoginAttempts = 5
	DefaultLockoutDuration  = 30 * time.Minute

	minSecretLength = 16
)

var errMissingSecret = errors.New("auth: signing secret is not configured")

// SecuritySettings is the process-wide security configuration.
type SecuritySettings struct {
	Secret           []byte
	SessionTimeout   time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// Validate checks the settings are usable for signing and lockout.
func (s SecuritySettings) Validate() error {
	if len(s.Secret) == 0 {
		return errMissingSecret
	}
	if len(s.Secret) < minSecretLength {
		return fmt.Errorf("%w: signing secret must be at least %d bytes", ErrInvalidInput, minSecretLength)
	}
	if s.SessionTimeout <= 0 {
		return fmt.Errorf("%w: session timeout must be positive", ErrInvalidInput)
	}
	if s.MaxLoginAttempts <= 0 {
		return fmt.Errorf("%w: max login attempts must be positive", ErrInvalidInput)
	}
	if s.LockoutDuration <= 0 {
		return fmt.Errorf("%w: lockout duration must be positive", ErrInvalidInput)
	}
	return nil
}

// ParseSecuritySettings builds settings from raw rows, applying hardcoded
// fallbacks for absent keys. fallbackSecret is used when the store has no secret.
// Durations are stored as whole seconds.
func ParseSecuritySettings(raw map[string]string, fallbackSecret string) (SecuritySettings, error) {
	s := SecuritySettings{
		SessionTimeout:   DefaultSessionTimeout,
		MaxLoginAttempts: DefaultMaxLoginAttempts,
		LockoutDuration:  DefaultLockoutDuration,
	}
	secret := strings.TrimSpace(raw[SettingSecret])
	if secret == "" {
		secret = strings.TrimSpace(fallbackSecret)
	}
	s.Secret = []byte(secret)

	if v, ok, err := intSetting(raw, SettingSessionTimeout); err != nil {
		return SecuritySettings{}, err
	} else if ok {
		s.SessionTimeout = time.Duration(v) * time.Second
	}
	if v, ok, err := intSetting(raw, SettingMaxLoginAttempts); err != nil {
		return SecuritySettings{}, err
	} else if ok {
		s.MaxLoginAttempts = v
	}
	if v, ok, err := intSetting(raw, SettingLockoutDuration); err != nil {
		return SecuritySettings{}, err
	} else if ok {
		s.LockoutDuration = time.Duration(v) * time.Second
	}
	if err := s.Validate(); err != nil {
		return SecuritySettings{}, err
	}
	return s, nil
}

func intSetting(raw map[string]string, key string) (int, bool, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%w: setting %s is not an integer", ErrInvalidInput, key)
	}
	return n, true, nil
}

// SettingsProvider hands out the current security settings.
type SettingsProvider interface {
	Settings(ctx context.Context) (SecuritySettings, error)
}

// StaticSettings serves a fixed value.
type StaticSettings SecuritySettings

func (s StaticSettings) Settings(context.Context) (SecuritySettings, error) {
	return SecuritySettings(s), nil
}

// SettingsCache loads settings from the store once and keeps them for the
// process lifetime. Failed loads are not cached so the next request retries.
type SettingsCache struct {
	store          SettingsStore
	fallbackSecret string

	mu     sync.Mutex
	value  SecuritySettings
	loaded bool
}

// NewSettingsCache constructs a cache over store.
func NewSettingsCache(store SettingsStore, fallbackSecret string) *SettingsCache {
	return &SettingsCache{store: store, fallbackSecret: fallbackSecret}
}

// Settings returns the cached settings, loading them on first use.
func (c *SettingsCache) Settings(ctx context.Context) (SecuritySettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.value, nil
	}
	raw, err := c.store.GlobalSettings(ctx)
	if err != nil {
		return SecuritySettings{}, fmt.Errorf("load settings: %w", err)
	}
	s, err := ParseSecuritySettings(raw, c.fallbackSecret)
	if err != nil {
		// A bad settings row is an operator fault, not caller input.
		return SecuritySettings{}, fmt.Errorf("security settings: %s", err.Error())
	}
	c.value = s
	c.loaded = true
	return s, nil
}

// Invalidate drops the cached value; the next call reloads from the store.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = SecuritySettings{}
	c.loaded = false
}

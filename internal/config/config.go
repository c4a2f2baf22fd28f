// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fixed process configuration. Security settings such as the
// lockout policy live in the database, not here.
type Config struct {
	AppEnv      string
	HTTPAddr    string
	GRPCAddr    string
	DatabaseURL string
	LogLevel    string
	RedisURL    string

	// AuthSecret signs tokens when the settings table has no jwt_secret.
	AuthSecret string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleTokenURL     string
	GoogleTokenInfoURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	PublicBaseURL string

	LoginIPLimit   int
	LoginIPWindow  time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads a .env file when present (existing variables win) and then
// builds Config from the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		AppEnv:      p.str("APP_ENV", "production"),
		HTTPAddr:    p.str("HTTP_ADDR", ":8080"),
		GRPCAddr:    p.str("GRPC_ADDR", ":9090"),
		DatabaseURL: p.str("DATABASE_URL", ""),
		LogLevel:    p.str("LOG_LEVEL", "info"),
		RedisURL:    p.str("REDIS_URL", ""),
		AuthSecret:  p.str("AUTH_SECRET", ""),

		GoogleClientID:     p.str("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: p.str("GOOGLE_CLIENT_SECRET", ""),
		GoogleTokenURL:     p.str("GOOGLE_TOKEN_URL", ""),
		GoogleTokenInfoURL: p.str("GOOGLE_TOKENINFO_URL", ""),

		SMTPHost:     p.str("SMTP_HOST", ""),
		SMTPPort:     p.integer("SMTP_PORT", 587),
		SMTPUsername: p.str("SMTP_USERNAME", ""),
		SMTPPassword: p.str("SMTP_PASSWORD", ""),
		SMTPFrom:     p.str("SMTP_FROM", ""),

		PublicBaseURL: strings.TrimRight(p.str("PUBLIC_BASE_URL", ""), "/"),

		LoginIPLimit:   p.integer("LOGIN_IP_LIMIT", 20),
		LoginIPWindow:  p.duration("LOGIN_IP_WINDOW", 15*time.Minute),
		RateLimitRPS:   p.number("RATE_LIMIT_RPS", 10),
		RateLimitBurst: p.integer("RATE_LIMIT_BURST", 20),
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together"))
	}
	if c.LoginIPLimit <= 0 || c.LoginIPWindow <= 0 {
		errs = append(errs, errors.New("LOGIN_IP_LIMIT and LOGIN_IP_WINDOW must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// Development reports whether APP_ENV selects development mode.
func (c Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// GoogleEnabled reports whether federated sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func (p *parser) number(key string, def float64) float64 {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, raw))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return def
	}
	return v
}

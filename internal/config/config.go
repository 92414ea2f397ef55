// Package config loads process-wide configuration from the environment at
// startup. The resulting struct is threaded through constructors; nothing in
// the service reads the environment after Load returns.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Config is the explicit configuration struct for the whole process.
type Config struct {
	Addr      string
	APIPrefix string

	SecretKey    []byte
	JWTAlgorithm string
	JWTIssuer    string
	JWTAudience  string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration

	RefreshCookieName     string
	RefreshCookieSecure   bool
	RefreshCookieSameSite http.SameSite

	CORSAllowOrigins []string
	FrontendURL      string

	DatabaseURL string
	KVURL       string

	MailProvider string
	MailFrom     string
	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
}

// Load reads and validates configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:                  envOr("ADDR", ":8080"),
		APIPrefix:             envOr("API_PREFIX", "/api"),
		JWTAlgorithm:          envOr("JWT_ALGORITHM", "HS256"),
		JWTIssuer:             envOr("JWT_ISSUER", "cadence"),
		JWTAudience:           envOr("JWT_AUDIENCE", "cadence-api"),
		RefreshCookieName:     envOr("REFRESH_COOKIE_NAME", "cadence_refresh"),
		FrontendURL:           strings.TrimSpace(os.Getenv("FRONTEND_URL")),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		KVURL:                 envOr("KV_URL", "redis://localhost:6379/0"),
		MailProvider:          envOr("MAIL_PROVIDER", "log"),
		MailFrom:              envOr("MAIL_FROM", "no-reply@cadence.local"),
		SMTPAddr:              strings.TrimSpace(os.Getenv("SMTP_ADDR")),
		SMTPUsername:          strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		SMTPPassword:          os.Getenv("SMTP_PASSWORD"),
		RefreshCookieSecure:   envBool("REFRESH_COOKIE_SECURE", true),
		RefreshCookieSameSite: http.SameSiteStrictMode,
	}

	secret := strings.TrimSpace(os.Getenv("SECRET_KEY"))
	if secret == "" {
		return Config{}, errors.New("SECRET_KEY is required")
	}
	if len(secret) < 32 {
		return Config{}, errors.New("SECRET_KEY must be at least 32 bytes")
	}
	cfg.SecretKey = []byte(secret)

	// Single configured algorithm; anything other than HS256 is rejected at
	// startup rather than at request time.
	if !strings.EqualFold(cfg.JWTAlgorithm, "HS256") {
		return Config{}, fmt.Errorf("unsupported JWT_ALGORITHM %q", cfg.JWTAlgorithm)
	}
	cfg.JWTAlgorithm = "HS256"

	var err error
	if cfg.AccessTTL, err = envSeconds("ACCESS_TTL_SEC", defaultAccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envSeconds("REFRESH_TTL_SEC", defaultRefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return Config{}, errors.New("token TTLs must be positive")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return Config{}, errors.New("ACCESS_TTL_SEC must be shorter than REFRESH_TTL_SEC")
	}

	switch strings.ToLower(envOr("REFRESH_COOKIE_SAMESITE", "strict")) {
	case "strict":
		cfg.RefreshCookieSameSite = http.SameSiteStrictMode
	case "lax":
		cfg.RefreshCookieSameSite = http.SameSiteLaxMode
	case "none":
		if !cfg.RefreshCookieSecure {
			return Config{}, errors.New("REFRESH_COOKIE_SAMESITE=none requires REFRESH_COOKIE_SECURE=true")
		}
		cfg.RefreshCookieSameSite = http.SameSiteNoneMode
	default:
		return Config{}, fmt.Errorf("unsupported REFRESH_COOKIE_SAMESITE %q", os.Getenv("REFRESH_COOKIE_SAMESITE"))
	}

	for _, origin := range strings.Split(os.Getenv("CORS_ALLOW_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		// A wildcard origin cannot be combined with credentialed requests,
		// which the refresh cookie requires.
		if origin == "*" {
			return Config{}, errors.New("CORS_ALLOW_ORIGINS may not contain *")
		}
		cfg.CORSAllowOrigins = append(cfg.CORSAllowOrigins, origin)
	}

	cfg.APIPrefix = "/" + strings.Trim(cfg.APIPrefix, "/")
	if cfg.APIPrefix == "/" {
		cfg.APIPrefix = ""
	}

	switch cfg.MailProvider {
	case "log", "smtp":
	default:
		return Config{}, fmt.Errorf("unsupported MAIL_PROVIDER %q", cfg.MailProvider)
	}
	if cfg.MailProvider == "smtp" && cfg.SMTPAddr == "" {
		return Config{}, errors.New("MAIL_PROVIDER=smtp requires SMTP_ADDR")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of seconds: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBTimeout bounds every persistence call made while serving a request (e.g. "5s").
	DBTimeout string `mapstructure:"DB_TIMEOUT"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTSigningSecret enables HS256 signing when no key pair is configured.
	JWTSigningSecret string `mapstructure:"JWT_SIGNING_SECRET"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	JWTAudience      string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "60m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "24h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// RevokeRecentWindow bounds account-wide revocation at logout when no session id is known.
	RevokeRecentWindow string `mapstructure:"TOKEN_REVOKE_RECENT_WINDOW"`
	// SessionTTL is the lifetime of the cookie-backed login session.
	SessionTTL string `mapstructure:"SESSION_TTL"`

	FrontendBaseURL     string `mapstructure:"FRONTEND_BASE_URL"`
	CookieDomain        string `mapstructure:"COOKIE_DOMAIN"`
	CookiePath          string `mapstructure:"COOKIE_PATH"`
	AdminCookiePath     string `mapstructure:"ADMIN_COOKIE_PATH"`
	CookieSecure        bool   `mapstructure:"COOKIE_SECURE"`
	CookieSameSite      string `mapstructure:"COOKIE_SAMESITE"`
	RefreshCookieMaxAge string `mapstructure:"REFRESH_COOKIE_MAX_AGE"`
	// LegacyCookieDomains lists every cookie domain used by earlier deployments (comma-separated).
	LegacyCookieDomains string `mapstructure:"LEGACY_COOKIE_DOMAINS"`
	// LegacyCookiePaths lists every cookie path used by earlier deployments (comma-separated).
	LegacyCookiePaths string `mapstructure:"LEGACY_COOKIE_PATHS"`
	// APIPathPrefixes are the bearer-only path families on which the legacy session cookie is cleared.
	APIPathPrefixes string `mapstructure:"API_PATH_PREFIXES"`
	// GateExemptPaths and GateExemptPrefixes bypass the authorization gate (comma-separated).
	GateExemptPaths    string `mapstructure:"GATE_EXEMPT_PATHS"`
	GateExemptPrefixes string `mapstructure:"GATE_EXEMPT_PREFIXES"`

	// OAuthRedirectBaseURL is the externally visible base URL used to build provider callback URLs.
	OAuthRedirectBaseURL string `mapstructure:"OAUTH_REDIRECT_BASE_URL"`
	AzureADClientID      string `mapstructure:"AZUREAD_CLIENT_ID"`
	AzureADClientSecret  string `mapstructure:"AZUREAD_CLIENT_SECRET"`
	AzureADTenantID      string `mapstructure:"AZUREAD_TENANT_ID"`
	GoogleClientID       string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	// ProviderTimeout bounds the code exchange and userinfo calls (e.g. "10s").
	ProviderTimeout string `mapstructure:"PROVIDER_TIMEOUT"`
	OAuthStateTTL   string `mapstructure:"OAUTH_STATE_TTL"`
	// LoginRatePerMinute throttles login and token endpoints per client IP.
	LoginRatePerMinute int `mapstructure:"LOGIN_RATE_PER_MINUTE"`

	// RedisURL enables the revocation cache when set (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// PolicyFile is an optional Rego module replacing the built-in scope policy.
	PolicyFile string `mapstructure:"POLICY_FILE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogFile   string `mapstructure:"LOG_FILE"`

	// OTel (optional). When the endpoint is set, traces, metrics and log records are exported via OTLP gRPC.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// ServiceVersion is reported on the OTel resource as service.version.
	ServiceVersion string `mapstructure:"SERVICE_VERSION"`
	// OTelMetricInterval is how often metrics are pushed to the collector.
	OTelMetricInterval string `mapstructure:"OTEL_METRIC_EXPORT_INTERVAL"`

	// Worker-only: how often expired tokens and sessions are pruned.
	PruneInterval string `mapstructure:"PRUNE_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_TIMEOUT", "5s")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_SIGNING_SECRET", "")
	v.SetDefault("JWT_ISSUER", "command-center")
	v.SetDefault("JWT_AUDIENCE", "command-center-api")
	v.SetDefault("JWT_ACCESS_TTL", "60m")
	v.SetDefault("JWT_REFRESH_TTL", "24h")
	v.SetDefault("TOKEN_REVOKE_RECENT_WINDOW", "10m")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:3000")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_PATH", "/")
	v.SetDefault("ADMIN_COOKIE_PATH", "/admin")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_SAMESITE", "Lax")
	v.SetDefault("REFRESH_COOKIE_MAX_AGE", "24h")
	v.SetDefault("LEGACY_COOKIE_DOMAINS", "")
	v.SetDefault("LEGACY_COOKIE_PATHS", "/,/api,/admin,/auth")
	v.SetDefault("API_PATH_PREFIXES", "/auth/,/access/,/api/")
	v.SetDefault("GATE_EXEMPT_PATHS", "/auth/profile,/auth/token,/auth/token/refresh,/auth/logout,/access/permissions,/healthz,/readyz,/metrics")
	v.SetDefault("GATE_EXEMPT_PREFIXES", "/login/,/static/,/admin/,/api/schema/,/api/docs/")
	v.SetDefault("OAUTH_REDIRECT_BASE_URL", "http://localhost:8080")
	v.SetDefault("AZUREAD_CLIENT_ID", "")
	v.SetDefault("AZUREAD_CLIENT_SECRET", "")
	v.SetDefault("AZUREAD_TENANT_ID", "common")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("OAUTH_STATE_TTL", "10m")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 5)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("POLICY_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "command-center-backend")
	v.SetDefault("SERVICE_VERSION", "dev")
	v.SetDefault("OTEL_METRIC_EXPORT_INTERVAL", "10s")
	v.SetDefault("PRUNE_INTERVAL", "1h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.LoginRatePerMinute <= 0 {
		return nil, errors.New("config: LOGIN_RATE_PER_MINUTE must be positive")
	}
	switch strings.ToLower(cfg.CookieSameSite) {
	case "lax", "strict", "none":
	default:
		return nil, errors.New("config: COOKIE_SAMESITE must be Lax, Strict or None")
	}
	if strings.EqualFold(cfg.CookieSameSite, "none") && !cfg.CookieSecure {
		return nil, errors.New("config: COOKIE_SAMESITE=None requires COOKIE_SECURE=true")
	}
	if _, err := url.Parse(cfg.FrontendBaseURL); err != nil || cfg.FrontendBaseURL == "" {
		return nil, errors.New("config: FRONTEND_BASE_URL must be a valid URL")
	}
	if cfg.Env == "production" && !cfg.CookieSecure {
		return nil, errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}

	return &cfg, nil
}

// ValidateSigning reports whether a signing configuration is present. The server requires one; migrate and seed do not.
func (c *Config) ValidateSigning() error {
	if c.JWTPrivateKey != "" && c.JWTPublicKey != "" {
		return nil
	}
	if c.JWTPrivateKey != "" || c.JWTPublicKey != "" {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if len(c.JWTSigningSecret) < 32 {
		return errors.New("config: JWT_SIGNING_SECRET must be at least 32 bytes when no key pair is set")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 60m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return parseDuration(c.JWTAccessTTL, 60*time.Minute) }

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return parseDuration(c.JWTRefreshTTL, 24*time.Hour) }

// RecentWindow returns the bulk revocation window. Returns 10m if unset or invalid.
func (c *Config) RecentWindow() time.Duration {
	return parseDuration(c.RevokeRecentWindow, 10*time.Minute)
}

func (c *Config) SessionLifetime() time.Duration { return parseDuration(c.SessionTTL, 24*time.Hour) }

func (c *Config) RefreshCookieAge() time.Duration {
	return parseDuration(c.RefreshCookieMaxAge, c.RefreshTTL())
}

func (c *Config) DBTimeoutDuration() time.Duration { return parseDuration(c.DBTimeout, 5*time.Second) }

func (c *Config) ProviderTimeoutDuration() time.Duration {
	return parseDuration(c.ProviderTimeout, 10*time.Second)
}

func (c *Config) StateTTL() time.Duration { return parseDuration(c.OAuthStateTTL, 10*time.Minute) }

func (c *Config) MetricExportInterval() time.Duration {
	return parseDuration(c.OTelMetricInterval, 10*time.Second)
}

func (c *Config) PruneEvery() time.Duration { return parseDuration(c.PruneInterval, time.Hour) }

// SplitList splits a comma-separated config value, trimming blanks.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Package config provides the configuration schema for the gatekeeper.
//
// Configuration is file based (YAML) with environment overrides. Key material has no
// built-in default: a JWT secret, secret file, public key file or API key source must
// be configured explicitly.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values applied by SetDefaults.
const (
	DefaultHTTPAddr            = "127.0.0.1:8080"
	DefaultWindowMS            = 900000
	DefaultLimit               = 100
	DefaultValidationTimeoutMS = 2000
	DefaultRedisPrefix         = "gatekeeper"
	DefaultServiceName         = "gatekeeper"
)

// Config is the top-level gatekeeper configuration.
type Config struct {
	// Server configures the HTTP listener and the downstream target.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// RateLimit configures the fixed-window rate limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Auth configures credential validation.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode forces debug logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects the slog handler: "text" or "json". Defaults to "text".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that overwrites these headers.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`

	// Upstream is an http(s) URL admitted requests are forwarded to.
	// When empty, admitted requests get an identity echo response.
	Upstream string `yaml:"upstream" mapstructure:"upstream" validate:"omitempty,url"`

	// UpstreamTimeout bounds the wait for upstream response headers (e.g., "30s").
	UpstreamTimeout string `yaml:"upstream_timeout" mapstructure:"upstream_timeout" validate:"omitempty,duration"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// WindowMS is the fixed window length in milliseconds.
	WindowMS int64 `yaml:"window_ms" mapstructure:"window_ms" validate:"gt=0"`

	// Limit is the number of requests admitted per caller per window.
	Limit int `yaml:"limit" mapstructure:"limit" validate:"gt=0"`

	// Backend selects the window store: "memory" or "redis".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory redis"`

	// FailOpen admits requests when the window store fails. Defaults to true.
	FailOpen bool `yaml:"fail_open" mapstructure:"fail_open"`

	// CleanupInterval is how often expired in-memory windows are evicted (e.g., "5m").
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// KeyExpression is an optional CEL expression that returns the caller key.
	// Variables: ip, method, path, headers. Defaults to the client IP.
	KeyExpression string `yaml:"key_expression" mapstructure:"key_expression"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig configures the shared Redis window store.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password Secret `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"min=0"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// AuthConfig configures credential validation.
type AuthConfig struct {
	// Mode selects the credential type: "jwt" or "apikey".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"oneof=jwt apikey"`

	// ValidationTimeoutMS bounds a single credential validation.
	ValidationTimeoutMS int `yaml:"validation_timeout_ms" mapstructure:"validation_timeout_ms" validate:"gt=0"`

	// JWT configures bearer token validation in jwt mode.
	JWT JWTConfig `yaml:"jwt" mapstructure:"jwt"`

	// APIKeyDB is the SQLite database holding API keys in apikey mode.
	// When empty, keys come from Identities and APIKeys below.
	APIKeyDB string `yaml:"api_key_db" mapstructure:"api_key_db"`

	// Identities defines the principals API keys authenticate as.
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys defines the API keys that map to identities.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// JWTConfig configures JWT validation. Exactly one key source must be set.
type JWTConfig struct {
	// Secret is the HMAC signing secret.
	Secret Secret `yaml:"secret" mapstructure:"secret"`

	// SecretFile is a file holding the HMAC secret. Surrounding whitespace is trimmed.
	SecretFile string `yaml:"secret_file" mapstructure:"secret_file"`

	// PublicKeyFile is a PEM file holding an RSA, ECDSA or Ed25519 public key.
	PublicKeyFile string `yaml:"public_key_file" mapstructure:"public_key_file"`

	// Algorithms restricts the accepted "alg" values. Defaults depend on the key type.
	Algorithms []string `yaml:"algorithms" mapstructure:"algorithms" validate:"omitempty,dive,oneof=HS256 HS384 HS512 RS256 RS384 RS512 PS256 PS384 PS512 ES256 ES384 ES512 EdDSA"`

	// Issuer, when set, must match the "iss" claim.
	Issuer string `yaml:"issuer" mapstructure:"issuer"`

	// Audience, when set, must be present in the "aud" claim.
	Audience string `yaml:"audience" mapstructure:"audience"`

	// Leeway tolerates clock skew on exp/nbf/iat (e.g., "30s").
	Leeway string `yaml:"leeway" mapstructure:"leeway" validate:"omitempty,duration"`
}

// IdentityConfig defines a file-based identity.
type IdentityConfig struct {
	// ID is the unique identifier for this identity. Becomes the subject.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name for this identity.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Roles are the roles assigned to this identity.
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"required,min=1,dive,oneof=admin user read-only"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is "sha256:<hex>" or an Argon2id PHC string ("$argon2id$...").
	// Generate with: gatekeeper hash-key <key>
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// IdentityID references the identity this key authenticates as.
	// Must match an ID in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`

	// Name labels the key in logs and key listings.
	Name string `yaml:"name" mapstructure:"name"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns on the stdout trace and metric exporters.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ServiceName is the service.name resource attribute.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// SetDevDefaults applies development mode overrides.
// There is deliberately no default credential: dev mode only changes logging.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
}

// SetDefaults applies default values to unset fields.
// Explicit zero values for window_ms, limit and validation_timeout_ms are kept so that
// validation can reject them.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless http_addr is set explicitly.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if c.Server.UpstreamTimeout == "" {
		c.Server.UpstreamTimeout = "30s"
	}

	if c.RateLimit.WindowMS == 0 && !viper.IsSet("rate_limit.window_ms") {
		c.RateLimit.WindowMS = DefaultWindowMS
	}
	if c.RateLimit.Limit == 0 && !viper.IsSet("rate_limit.limit") {
		c.RateLimit.Limit = DefaultLimit
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("rate_limit.fail_open") {
		c.RateLimit.FailOpen = true
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.Redis.Prefix == "" {
		c.RateLimit.Redis.Prefix = DefaultRedisPrefix
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "jwt"
	}
	if c.Auth.ValidationTimeoutMS == 0 && !viper.IsSet("auth.validation_timeout_ms") {
		c.Auth.ValidationTimeoutMS = DefaultValidationTimeoutMS
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// Window returns the rate limit window length.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// CleanupEvery returns the parsed cleanup interval, zero if unset or invalid.
func (c *RateLimitConfig) CleanupEvery() time.Duration {
	return parseDuration(c.CleanupInterval)
}

// ValidationTimeout returns the per-validation deadline.
func (c *AuthConfig) ValidationTimeout() time.Duration {
	return time.Duration(c.ValidationTimeoutMS) * time.Millisecond
}

// LeewayDuration returns the parsed JWT leeway, zero if unset or invalid.
func (c *JWTConfig) LeewayDuration() time.Duration {
	return parseDuration(c.Leeway)
}

// UpstreamTimeoutDuration returns the parsed upstream timeout, zero if unset or invalid.
func (c *ServerConfig) UpstreamTimeoutDuration() time.Duration {
	return parseDuration(c.UpstreamTimeout)
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
)

// RegisterCustomValidators registers gatekeeper-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("key_hash", validateKeyHash); err != nil {
		return fmt.Errorf("failed to register key_hash validator: %w", err)
	}
	return nil
}

// validateDuration accepts non-negative time.ParseDuration strings.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validateKeyHash accepts "sha256:<hex>", bare SHA-256 hex and Argon2id PHC strings.
func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != "unknown"
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateRateLimitBackend(); err != nil {
		return err
	}
	if err := c.validateAuthSource(); err != nil {
		return err
	}
	if err := c.validateIdentityReferences(); err != nil {
		return err
	}
	if c.Server.Upstream != "" &&
		!strings.HasPrefix(c.Server.Upstream, "http://") && !strings.HasPrefix(c.Server.Upstream, "https://") {
		return errors.New("server.upstream: must be an http:// or https:// URL")
	}

	return nil
}

func (c *Config) validateRateLimitBackend() error {
	if c.RateLimit.Backend == "redis" && c.RateLimit.Redis.Addr == "" {
		return errors.New("rate_limit.redis.addr is required when rate_limit.backend is redis")
	}
	return nil
}

// validateAuthSource ensures the selected auth mode has key material.
func (c *Config) validateAuthSource() error {
	switch c.Auth.Mode {
	case "jwt":
		jwt := &c.Auth.JWT
		switch jwt.keySourceCount() {
		case 0:
			return ErrNoKeyMaterial
		case 1:
		default:
			return errors.New("auth.jwt: set only one of secret, secret_file or public_key_file")
		}
		if jwt.Secret.IsSet() && len(jwt.Secret.Reveal()) < MinSecretLength {
			return fmt.Errorf("auth.jwt.secret must be at least %d bytes", MinSecretLength)
		}
	case "apikey":
		if c.Auth.APIKeyDB == "" && len(c.Auth.APIKeys) == 0 {
			return errors.New("auth: apikey mode requires auth.api_key_db or at least one entry in auth.api_keys")
		}
	}
	return nil
}

// validateIdentityReferences ensures all API key identity_id values reference valid identities.
func (c *Config) validateIdentityReferences() error {
	knownIdentities := make(map[string]struct{}, len(c.Auth.Identities))
	for _, identity := range c.Auth.Identities {
		knownIdentities[identity.ID] = struct{}{}
	}

	for i, apiKey := range c.Auth.APIKeys {
		if _, exists := knownIdentities[apiKey.IdentityID]; !exists {
			return fmt.Errorf("api_keys[%d]: references unknown identity_id: %s", i, apiKey.IdentityID)
		}
	}

	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as \"30s\" or \"5m\"", field)
	case "key_hash":
		return fmt.Sprintf("%s must be \"sha256:<hex>\" or an Argon2id hash (see gatekeeper hash-key)", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

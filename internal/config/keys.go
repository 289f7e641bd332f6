package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// MinSecretLength is the minimum HMAC secret length in bytes.
const MinSecretLength = 32

// ErrNoKeyMaterial is returned when jwt mode has no key source configured.
var ErrNoKeyMaterial = errors.New("no JWT key material configured: set auth.jwt.secret, auth.jwt.secret_file or auth.jwt.public_key_file")

// HMACSecret returns the configured HMAC secret, reading SecretFile when set.
// It returns nil, nil when a public key is configured instead.
func (c *JWTConfig) HMACSecret() ([]byte, error) {
	switch {
	case c.Secret.IsSet():
		return []byte(c.Secret.Reveal()), nil
	case c.SecretFile != "":
		data, err := os.ReadFile(c.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("read auth.jwt.secret_file: %w", err)
		}
		secret := strings.TrimSpace(string(data))
		if len(secret) < MinSecretLength {
			return nil, fmt.Errorf("auth.jwt.secret_file: secret must be at least %d bytes", MinSecretLength)
		}
		return []byte(secret), nil
	case c.PublicKeyFile != "":
		return nil, nil
	default:
		return nil, ErrNoKeyMaterial
	}
}

// PublicKeyPEM returns the contents of PublicKeyFile, or nil when it is not set.
func (c *JWTConfig) PublicKeyPEM() ([]byte, error) {
	if c.PublicKeyFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read auth.jwt.public_key_file: %w", err)
	}
	return data, nil
}

// keySourceCount reports how many JWT key sources are configured.
func (c *JWTConfig) keySourceCount() int {
	n := 0
	if c.Secret.IsSet() {
		n++
	}
	if c.SecretFile != "" {
		n++
	}
	if c.PublicKeyFile != "" {
		n++
	}
	return n
}

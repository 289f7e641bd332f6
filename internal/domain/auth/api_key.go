package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
)

// APIKeyService validates opaque API keys against an AuthStore.
type APIKeyService struct {
	store AuthStore
	now   func() time.Time
}

// APIKeyOption configures an APIKeyService.
type APIKeyOption func(*APIKeyService)

// WithKeyClock overrides the time source used for expiry checks.
func WithKeyClock(now func() time.Time) APIKeyOption {
	return func(s *APIKeyService) {
		s.now = now
	}
}

// NewAPIKeyService creates a new APIKeyService with the given store.
func NewAPIKeyService(store AuthStore, opts ...APIKeyOption) *APIKeyService {
	s := &APIKeyService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks an API key and returns the identity of the principal it belongs to.
// Unknown, revoked and expired keys wrap ErrInvalidCredential; store failures are
// returned as-is.
//
// Supports both SHA-256 (direct lookup) and Argon2id (iteration) hashes.
func (s *APIKeyService) Validate(ctx context.Context, credential Credential) (*admission.Identity, error) {
	rawKey := string(credential)

	apiKey, err := s.store.GetAPIKey(ctx, HashKey(rawKey))
	switch {
	case err == nil:
		return s.resolve(ctx, apiKey)
	case !errors.Is(err, ErrKeyNotFound):
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	// Argon2id hashes are salted, so they can only be found by trying each one.
	allKeys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	for _, candidate := range allKeys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		match, verifyErr := VerifyKey(rawKey, candidate.Key)
		if verifyErr != nil {
			continue
		}
		if match {
			return s.resolve(ctx, candidate)
		}
	}

	return nil, ErrUnknownCredential
}

// resolve checks revocation and expiry and builds the identity.
func (s *APIKeyService) resolve(ctx context.Context, apiKey *APIKey) (*admission.Identity, error) {
	if apiKey.Revoked {
		return nil, ErrRevokedCredential
	}
	if apiKey.ExpiredAt(s.now()) {
		return nil, ErrExpiredCredential
	}

	principal, err := s.store.GetPrincipal(ctx, apiKey.PrincipalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		// A key whose principal was removed no longer identifies anyone.
		return nil, fmt.Errorf("%w: %w", ErrUnknownCredential, err)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	identity := &admission.Identity{
		Subject: principal.ID,
		Claims: map[string]any{
			"name":     principal.Name,
			"roles":    principal.RoleNames(),
			"key_name": apiKey.Name,
		},
	}
	if apiKey.ExpiresAt != nil {
		exp := *apiKey.ExpiresAt
		identity.ExpiresAt = &exp
	}
	return identity, nil
}

// HashKey returns the SHA-256 hex hash of the raw key.
// Keys hashed this way are found by direct lookup; prefer HashKeyArgon2id for new keys.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 46 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format.
// The hash includes a random salt and uses OWASP minimum parameters.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" for unrecognized formats.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	// Legacy bare SHA-256 hex is exactly 64 hex characters
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

// isHexString checks if a string contains only valid hexadecimal characters.
func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey verifies a raw key against a stored hash.
// Supports Argon2id (PHC format), SHA-256 prefixed, and legacy bare SHA-256 hex.
// Returns (true, nil) if match, (false, nil) if no match,
// (false, ErrUnknownHashType) for unrecognized hash formats.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	hashType := DetectHashType(storedHash)

	switch hashType {
	case "argon2id":
		match, err := safeArgon2idCompare(rawKey, storedHash)
		if err != nil {
			return false, err
		}
		return match, nil

	case "sha256":
		// Extract the actual hash value
		var expectedHash string
		if strings.HasPrefix(storedHash, "sha256:") {
			expectedHash = strings.TrimPrefix(storedHash, "sha256:")
		} else {
			expectedHash = storedHash // legacy bare hex
		}

		// Compute hash of provided key
		computedHash := HashKey(rawKey)

		// Use constant-time comparison to prevent timing attacks
		match := subtle.ConstantTimeCompare([]byte(computedHash), []byte(expectedHash)) == 1
		return match, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare converts panics from malformed Argon2id parameters (t=0, p=0)
// into errors so VerifyKey never panics.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

var _ Validator = (*APIKeyService)(nil)

// Package jwt validates and mints JSON Web Tokens for the gatekeeper authenticator.
package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
)

// ErrNoKeyMaterial is returned when neither a secret nor a public key is configured.
var ErrNoKeyMaterial = errors.New("jwt: no key material configured")

// Config selects the verification key and the claims checks.
// Exactly one of Secret or PublicKey must be set.
type Config struct {
	// Secret is the HMAC shared secret.
	Secret []byte
	// PublicKey is an *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey.
	PublicKey crypto.PublicKey
	// Algorithms restricts accepted "alg" values. Empty means every algorithm
	// of the configured key family.
	Algorithms []string
	// Issuer, when set, must equal the "iss" claim.
	Issuer string
	// Audience, when set, must appear in the "aud" claim.
	Audience string
	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

// Validator implements auth.Validator for JWT bearer tokens.
type Validator struct {
	key    any
	parser *jwt.Parser
}

// Option configures a Validator.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source for exp/nbf checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewValidator builds a Validator from cfg.
func NewValidator(cfg Config, opts ...Option) (*Validator, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		key      any
		defaults []string
	)
	switch {
	case len(cfg.Secret) > 0 && cfg.PublicKey != nil:
		return nil, errors.New("jwt: configure either a secret or a public key, not both")
	case len(cfg.Secret) > 0:
		key = cfg.Secret
		defaults = []string{"HS256", "HS384", "HS512"}
	case cfg.PublicKey != nil:
		key = cfg.PublicKey
		switch cfg.PublicKey.(type) {
		case *rsa.PublicKey:
			defaults = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
		case *ecdsa.PublicKey:
			defaults = []string{"ES256", "ES384", "ES512"}
		case ed25519.PublicKey:
			defaults = []string{"EdDSA"}
		default:
			return nil, fmt.Errorf("jwt: unsupported public key type %T", cfg.PublicKey)
		}
	default:
		return nil, ErrNoKeyMaterial
	}

	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = defaults
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(o.now),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	return &Validator{key: key, parser: jwt.NewParser(parserOpts...)}, nil
}

// Validate verifies the token signature and claims and returns the identity named by
// its "sub" claim. Every failure wraps auth.ErrInvalidCredential.
func (v *Validator) Validate(ctx context.Context, credential auth.Credential) (*admission.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(string(credential), claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", auth.ErrMalformedCredential)
	}

	identity := &admission.Identity{Subject: sub, Claims: map[string]any(claims)}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		identity.ExpiresAt = &t
	}
	return identity, nil
}

// classify maps library errors onto the auth sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", auth.ErrExpiredCredential, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", auth.ErrMalformedCredential, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", auth.ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %w", auth.ErrInvalidCredential, err)
	}
}

// ParsePublicKeyPEM parses a PEM-encoded RSA, ECDSA or Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	if k, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return k, nil
	}
	k, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("jwt: unrecognized public key: %w", err)
	}
	return k, nil
}

var _ auth.Validator = (*Validator)(nil)

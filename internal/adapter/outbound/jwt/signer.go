package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer mints HMAC-signed tokens. Used by `gatekeeper token` and in tests.
type Signer struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	now    func() time.Time
}

// NewHMACSigner creates a Signer. alg is HS256, HS384 or HS512 (empty means HS256).
func NewHMACSigner(secret []byte, alg, issuer string) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrNoKeyMaterial
	}
	if alg == "" {
		alg = "HS256"
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("jwt: %q is not an HMAC algorithm", alg)
	}
	return &Signer{secret: secret, method: method, issuer: issuer, now: time.Now}, nil
}

// Sign returns a token for subject valid for ttl. audience and extra claims are optional.
func (s *Signer) Sign(subject, audience string, ttl time.Duration, extra map[string]any) (string, error) {
	if subject == "" {
		return "", errors.New("jwt: subject is required")
	}
	now := s.now()

	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["sub"] = subject
	claims["iat"] = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims["exp"] = jwt.NewNumericDate(now.Add(ttl))
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

package jwt

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func mustSigner(t *testing.T, issuer string) *Signer {
	t.Helper()
	s, err := NewHMACSigner(testSecret, "HS256", issuer)
	if err != nil {
		t.Fatalf("NewHMACSigner() error = %v", err)
	}
	return s
}

func mustValidator(t *testing.T, cfg Config, opts ...Option) *Validator {
	t.Helper()
	v, err := NewValidator(cfg, opts...)
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	return v
}

func TestValidator_ValidToken(t *testing.T) {
	t.Parallel()

	token, err := mustSigner(t, "").Sign("alice", "", time.Hour, map[string]any{"scope": "read"})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	identity, err := mustValidator(t, Config{Secret: testSecret}).Validate(context.Background(), auth.Credential(token))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if identity.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", identity.Subject)
	}
	if scope, _ := identity.Claim("scope"); scope != "read" {
		t.Errorf("scope claim = %v, want read", scope)
	}
	if identity.ExpiresAt == nil {
		t.Error("ExpiresAt not set from exp claim")
	}
}

func TestValidator_Rejections(t *testing.T) {
	t.Parallel()

	signer := mustSigner(t, "issuer-a")
	valid, err := signer.Sign("bob", "api", time.Hour, nil)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"scope": "x"}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "eve"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString(none) error = %v", err)
	}

	// Change the first signature character, which always alters the decoded bytes.
	sigStart := strings.LastIndexByte(valid, '.') + 1
	replacement := "A"
	if valid[sigStart] == 'A' {
		replacement = "B"
	}
	tampered := valid[:sigStart] + replacement + valid[sigStart+1:]

	later := func() time.Time { return time.Now().Add(2 * time.Hour) }

	tests := []struct {
		name    string
		cfg     Config
		opts    []Option
		token   string
		wantErr error
	}{
		{"expired", Config{Secret: testSecret}, []Option{WithClock(later)}, valid, auth.ErrExpiredCredential},
		{"tampered signature", Config{Secret: testSecret}, nil, tampered, auth.ErrSignatureInvalid},
		{"wrong secret", Config{Secret: []byte("another-secret-another-secret-!!")}, nil, valid, auth.ErrSignatureInvalid},
		{"garbage", Config{Secret: testSecret}, nil, "not-a-jwt", auth.ErrMalformedCredential},
		{"missing sub", Config{Secret: testSecret}, nil, noSub, auth.ErrMalformedCredential},
		{"alg none", Config{Secret: testSecret}, nil, noneAlg, auth.ErrInvalidCredential},
		{"alg not allowed", Config{Secret: testSecret, Algorithms: []string{"HS512"}}, nil, valid, auth.ErrInvalidCredential},
		{"wrong issuer", Config{Secret: testSecret, Issuer: "issuer-b"}, nil, valid, auth.ErrInvalidCredential},
		{"wrong audience", Config{Secret: testSecret, Audience: "web"}, nil, valid, auth.ErrInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := mustValidator(t, tt.cfg, tt.opts...)
			_, err := v.Validate(context.Background(), auth.Credential(tt.token))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, auth.ErrInvalidCredential) {
				t.Errorf("Validate() error = %v does not wrap ErrInvalidCredential", err)
			}
		})
	}
}

func TestValidator_IssuerAudienceAccepted(t *testing.T) {
	t.Parallel()

	token, _ := mustSigner(t, "issuer-a").Sign("carol", "api", time.Minute, nil)
	v := mustValidator(t, Config{Secret: testSecret, Issuer: "issuer-a", Audience: "api"})
	if _, err := v.Validate(context.Background(), auth.Credential(token)); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidator_Leeway(t *testing.T) {
	t.Parallel()

	token, _ := mustSigner(t, "").Sign("dave", "", time.Minute, nil)
	justExpired := func() time.Time { return time.Now().Add(90 * time.Second) }

	strict := mustValidator(t, Config{Secret: testSecret}, WithClock(justExpired))
	if _, err := strict.Validate(context.Background(), auth.Credential(token)); !errors.Is(err, auth.ErrExpiredCredential) {
		t.Errorf("strict Validate() error = %v, want expired", err)
	}

	lenient := mustValidator(t, Config{Secret: testSecret, Leeway: time.Minute}, WithClock(justExpired))
	if _, err := lenient.Validate(context.Background(), auth.Credential(token)); err != nil {
		t.Errorf("lenient Validate() error = %v", err)
	}
}

func TestValidator_Ed25519PublicKey(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	key, err := ParsePublicKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM() error = %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "svc-ed",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(priv)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	v := mustValidator(t, Config{PublicKey: key})
	identity, err := v.Validate(context.Background(), auth.Credential(token))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if identity.Subject != "svc-ed" {
		t.Errorf("Subject = %q, want svc-ed", identity.Subject)
	}

	// An HMAC token must not verify against an asymmetric key config.
	hmacToken, _ := mustSigner(t, "").Sign("svc-ed", "", time.Hour, nil)
	if _, err := v.Validate(context.Background(), auth.Credential(hmacToken)); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Errorf("HMAC token against EdDSA key: error = %v", err)
	}
}

func TestNewValidator_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewValidator(Config{}); !errors.Is(err, ErrNoKeyMaterial) {
		t.Errorf("empty config error = %v, want ErrNoKeyMaterial", err)
	}
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	if _, err := NewValidator(Config{Secret: testSecret, PublicKey: pub}); err == nil {
		t.Error("secret + public key accepted")
	}
	if _, err := ParsePublicKeyPEM([]byte("not pem")); err == nil {
		t.Error("ParsePublicKeyPEM(garbage) returned nil error")
	}
}

func TestNewHMACSigner_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewHMACSigner(nil, "", ""); !errors.Is(err, ErrNoKeyMaterial) {
		t.Errorf("nil secret error = %v", err)
	}
	if _, err := NewHMACSigner(testSecret, "RS256", ""); err == nil {
		t.Error("RS256 accepted as HMAC algorithm")
	}
	s := mustSigner(t, "")
	if _, err := s.Sign("", "", time.Minute, nil); err == nil {
		t.Error("Sign() without subject returned nil error")
	}
}

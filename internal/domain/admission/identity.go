package admission

import (
	"context"
	"time"
)

// Identity is the result of a successful credential validation.
// It lives for the duration of one request and is never persisted.
type Identity struct {
	// Subject identifies the caller (JWT "sub" claim or API key identity ID).
	Subject string
	// Claims are the validated claims backing this identity.
	Claims map[string]any
	// ExpiresAt is when the credential stops being valid (nil = no expiry).
	ExpiresAt *time.Time
}

// Claim returns the named claim and whether it was present.
func (i *Identity) Claim(name string) (any, bool) {
	if i == nil || i.Claims == nil {
		return nil, false
	}
	v, ok := i.Claims[name]
	return v, ok
}

// identityContextKey is the context key type for the admitted identity.
type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying the admitted identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity attached by the gatekeeping pipeline.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}

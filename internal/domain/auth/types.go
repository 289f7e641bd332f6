// Package auth contains the domain types and logic for authentication.
package auth

import (
	"time"
)

// Role represents a principal role carried into the request identity.
type Role string

const (
	// RoleAdmin has full access to all operations.
	RoleAdmin Role = "admin"
	// RoleUser has standard access to most operations.
	RoleUser Role = "user"
	// RoleReadOnly has read-only access to operations.
	RoleReadOnly Role = "read-only"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleReadOnly:
		return true
	default:
		return false
	}
}

// Principal is a registered caller that API keys resolve to.
type Principal struct {
	// ID is the unique identifier for this principal.
	ID string
	// Name is the display name for this principal.
	Name string
	// Roles are the roles assigned to this principal.
	Roles []Role
}

// HasRole returns true if the principal has the specified role.
func (p *Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleNames returns the roles as plain strings, suitable for identity claims.
func (p *Principal) RoleNames() []string {
	names := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		names[i] = string(r)
	}
	return names
}

// APIKey represents a stored API key.
type APIKey struct {
	// Key is the hashed key value (SHA-256 hex or Argon2id PHC format).
	Key string
	// PrincipalID maps this key to a Principal.
	PrincipalID string
	// Name is a human-readable label for this key.
	Name string
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time
	// Revoked indicates if the key has been revoked.
	Revoked bool
}

// ExpiredAt reports whether the key has expired at now.
// A key with nil ExpiresAt never expires.
func (k *APIKey) ExpiredAt(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return now.After(*k.ExpiresAt)
}

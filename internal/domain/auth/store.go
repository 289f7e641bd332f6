package auth

import (
	"context"
	"errors"
)

// Sentinel errors for AuthStore lookups.
var (
	// ErrKeyNotFound is returned when no API key matches a hash.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrPrincipalNotFound is returned when a key references an unknown principal.
	ErrPrincipalNotFound = errors.New("principal not found")
)

// AuthStore provides credential lookup for API key validation.
// Implementations: in-memory (seeded from config), SQLite.
type AuthStore interface {
	// GetAPIKey retrieves an API key by its SHA-256 hash.
	// Returns ErrKeyNotFound if the key doesn't exist.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetPrincipal retrieves a principal by ID.
	// Returns ErrPrincipalNotFound if the principal doesn't exist.
	GetPrincipal(ctx context.Context, id string) (*Principal, error)

	// ListAPIKeys returns all stored API keys for iteration-based verification.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}

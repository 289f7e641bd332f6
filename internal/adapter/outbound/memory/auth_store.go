package memory

import (
	"context"
	"sync"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
)

// AuthStore implements auth.AuthStore over maps seeded from the config file.
// Values are copied on the way in and out, so callers never share state with the store.
type AuthStore struct {
	mu         sync.RWMutex
	keys       map[string]*auth.APIKey    // stored hash -> key
	principals map[string]*auth.Principal // ID -> principal
}

// NewAuthStore creates an empty store.
func NewAuthStore() *AuthStore {
	return &AuthStore{
		keys:       make(map[string]*auth.APIKey),
		principals: make(map[string]*auth.Principal),
	}
}

// GetAPIKey returns the key stored under keyHash, or auth.ErrKeyNotFound.
func (s *AuthStore) GetAPIKey(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[keyHash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return copyKey(key), nil
}

// GetPrincipal returns the principal with id, or auth.ErrPrincipalNotFound.
func (s *AuthStore) GetPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return nil, auth.ErrPrincipalNotFound
	}
	return copyPrincipal(p), nil
}

// ListAPIKeys returns every key; Argon2id hashes can only be matched by iterating.
func (s *AuthStore) ListAPIKeys(ctx context.Context) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.APIKey, 0, len(s.keys))
	for _, key := range s.keys {
		out = append(out, copyKey(key))
	}
	return out, nil
}

// AddKey stores key under key.Key, replacing any key with the same hash.
func (s *AuthStore) AddKey(key *auth.APIKey) {
	s.mu.Lock()
	s.keys[key.Key] = copyKey(key)
	s.mu.Unlock()
}

// AddPrincipal stores p, replacing any principal with the same ID.
func (s *AuthStore) AddPrincipal(p *auth.Principal) {
	s.mu.Lock()
	s.principals[p.ID] = copyPrincipal(p)
	s.mu.Unlock()
}

// RemoveKey deletes the key stored under keyHash.
func (s *AuthStore) RemoveKey(keyHash string) {
	s.mu.Lock()
	delete(s.keys, keyHash)
	s.mu.Unlock()
}

// Len returns the number of stored keys.
func (s *AuthStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func copyKey(k *auth.APIKey) *auth.APIKey {
	c := *k
	if k.ExpiresAt != nil {
		exp := *k.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

func copyPrincipal(p *auth.Principal) *auth.Principal {
	c := *p
	c.Roles = append([]auth.Role(nil), p.Roles...)
	return &c
}

var _ auth.AuthStore = (*AuthStore)(nil)

package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

// mockAuthStore implements AuthStore for testing.
type mockAuthStore struct {
	keys       map[string]*APIKey
	principals map[string]*Principal
	listErr    error
	lookupErr  error
}

func newMockAuthStore() *mockAuthStore {
	return &mockAuthStore{
		keys:       make(map[string]*APIKey),
		principals: make(map[string]*Principal),
	}
}

func (m *mockAuthStore) GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	key, ok := m.keys[keyHash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

func (m *mockAuthStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return p, nil
}

func (m *mockAuthStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		result = append(result, key)
	}
	return result, nil
}

var _ AuthStore = (*mockAuthStore)(nil)

func TestAPIKeyService_Validate(t *testing.T) {
	rawKey := "test-api-key-12345"
	keyHash := HashKey(rawKey)

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	pastTime := now.Add(-1 * time.Hour)
	futureTime := now.Add(1 * time.Hour)

	tests := []struct {
		name       string
		rawKey     string
		setupStore func(*mockAuthStore)
		wantErr    error
		wantID     string
		wantRoles  []string
	}{
		{
			name:   "valid key returns identity with roles",
			rawKey: rawKey,
			setupStore: func(m *mockAuthStore) {
				m.keys[keyHash] = &APIKey{
					Key:         keyHash,
					PrincipalID: "user-1",
					Name:        "ci",
					CreatedAt:   now,
					ExpiresAt:   &futureTime,
				}
				m.principals["user-1"] = &Principal{
					ID:    "user-1",
					Name:  "Test User",
					Roles: []Role{RoleUser, RoleReadOnly},
				}
			},
			wantID:    "user-1",
			wantRoles: []string{"user", "read-only"},
		},
		{
			name:   "valid key without expiry returns identity",
			rawKey: rawKey,
			setupStore: func(m *mockAuthStore) {
				m.keys[keyHash] = &APIKey{Key: keyHash, PrincipalID: "user-2", CreatedAt: now}
				m.principals["user-2"] = &Principal{ID: "user-2", Name: "Admin User", Roles: []Role{RoleAdmin}}
			},
			wantID:    "user-2",
			wantRoles: []string{"admin"},
		},
		{
			name:   "expired key",
			rawKey: rawKey,
			setupStore: func(m *mockAuthStore) {
				m.keys[keyHash] = &APIKey{Key: keyHash, PrincipalID: "user-1", ExpiresAt: &pastTime}
			},
			wantErr: ErrExpiredCredential,
		},
		{
			name:   "revoked key",
			rawKey: rawKey,
			setupStore: func(m *mockAuthStore) {
				m.keys[keyHash] = &APIKey{Key: keyHash, PrincipalID: "user-1", ExpiresAt: &futureTime, Revoked: true}
			},
			wantErr: ErrRevokedCredential,
		},
		{
			name:       "non-existent key",
			rawKey:     "non-existent-key",
			setupStore: func(m *mockAuthStore) {},
			wantErr:    ErrUnknownCredential,
		},
		{
			name:   "principal not found",
			rawKey: rawKey,
			setupStore: func(m *mockAuthStore) {
				m.keys[keyHash] = &APIKey{Key: keyHash, PrincipalID: "missing-user"}
			},
			wantErr: ErrUnknownCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockAuthStore()
			tt.setupStore(store)

			svc := NewAPIKeyService(store, WithKeyClock(func() time.Time { return now }))
			identity, err := svc.Validate(context.Background(), Credential(tt.rawKey))

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				}
				if !errors.Is(err, ErrInvalidCredential) {
					t.Errorf("Validate() error = %v does not wrap ErrInvalidCredential", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
			if identity.Subject != tt.wantID {
				t.Errorf("Validate() Subject = %v, want %v", identity.Subject, tt.wantID)
			}
			roles, _ := identity.Claim("roles")
			if got, _ := roles.([]string); !slices.Equal(got, tt.wantRoles) {
				t.Errorf("Validate() roles claim = %v, want %v", roles, tt.wantRoles)
			}
		})
	}
}

func TestAPIKeyService_ValidateCarriesKeyExpiry(t *testing.T) {
	rawKey := "expiring-key"
	expires := time.Now().Add(time.Hour).UTC()

	store := newMockAuthStore()
	store.keys[HashKey(rawKey)] = &APIKey{Key: HashKey(rawKey), PrincipalID: "svc", Name: "deploy", ExpiresAt: &expires}
	store.principals["svc"] = &Principal{ID: "svc", Name: "Deployer"}

	identity, err := NewAPIKeyService(store).Validate(context.Background(), Credential(rawKey))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if identity.ExpiresAt == nil || !identity.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", identity.ExpiresAt, expires)
	}
	if name, _ := identity.Claim("key_name"); name != "deploy" {
		t.Errorf("key_name claim = %v, want deploy", name)
	}
}

func TestAPIKeyService_ValidateArgon2idKey(t *testing.T) {
	rawKey := "argon-key-abcdef"
	hash, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}

	store := newMockAuthStore()
	store.keys[hash] = &APIKey{Key: hash, PrincipalID: "user-9"}
	store.principals["user-9"] = &Principal{ID: "user-9", Name: "Argon"}

	identity, err := NewAPIKeyService(store).Validate(context.Background(), Credential(rawKey))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if identity.Subject != "user-9" {
		t.Errorf("Subject = %q, want user-9", identity.Subject)
	}
}

func TestAPIKeyService_StoreFailureIsNotInvalidCredential(t *testing.T) {
	storeErr := errors.New("database is locked")

	tests := []struct {
		name  string
		setup func(*mockAuthStore)
	}{
		{"lookup fails", func(m *mockAuthStore) { m.lookupErr = storeErr }},
		{"list fails", func(m *mockAuthStore) { m.listErr = storeErr }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockAuthStore()
			tt.setup(store)

			_, err := NewAPIKeyService(store).Validate(context.Background(), "some-key")
			if !errors.Is(err, storeErr) {
				t.Fatalf("Validate() error = %v, want store error", err)
			}
			if errors.Is(err, ErrInvalidCredential) {
				t.Errorf("store failure classified as invalid credential: %v", err)
			}
		})
	}
}

func TestHashKey(t *testing.T) {
	h := HashKey("test-key")
	if h != HashKey("test-key") {
		t.Error("HashKey() is not deterministic")
	}
	if len(h) != 64 || !isHexString(h) {
		t.Errorf("HashKey() = %q, want 64 hex chars", h)
	}
	if h == HashKey("other-key") {
		t.Error("HashKey() collided for different keys")
	}

	a1, err := HashKeyArgon2id("test-key")
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}
	a2, err := HashKeyArgon2id("test-key")
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}
	if !strings.HasPrefix(a1, "$argon2id$") {
		t.Errorf("HashKeyArgon2id() = %q, want PHC string", a1)
	}
	if a1 == a2 {
		t.Error("HashKeyArgon2id() reused a salt")
	}
}

func TestRoles(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleUser, RoleReadOnly} {
		if !r.IsValid() {
			t.Errorf("Role(%q).IsValid() = false", r)
		}
	}
	for _, r := range []Role{"", "root", "Admin"} {
		if r.IsValid() {
			t.Errorf("Role(%q).IsValid() = true", r)
		}
	}

	p := &Principal{ID: "test", Name: "Test", Roles: []Role{RoleUser, RoleReadOnly}}
	if !p.HasRole(RoleUser) || p.HasRole(RoleAdmin) {
		t.Errorf("HasRole() wrong for roles %v", p.Roles)
	}
	if got := p.RoleNames(); !slices.Equal(got, []string{"user", "read-only"}) {
		t.Errorf("RoleNames() = %v", got)
	}
}

func TestAPIKey_ExpiredAt(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if (&APIKey{}).ExpiredAt(now) {
		t.Error("key without expiry reported expired")
	}
	if !(&APIKey{ExpiresAt: &past}).ExpiredAt(now) {
		t.Error("key past expiry reported live")
	}
	if (&APIKey{ExpiresAt: &future}).ExpiredAt(now) {
		t.Error("key before expiry reported expired")
	}
}

func TestDetectHashType(t *testing.T) {
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	const argon = "$argon2id$v=19$m=47104,t=1,p=1$abc123$xyz789"
	tests := map[string]string{
		argon:             "argon2id",
		"sha256:" + empty: "sha256",
		empty:             "sha256",
		"abc123":          "unknown",
		"$bcrypt$abc123":  "unknown",
		"":                "unknown",
	}
	for hash, want := range tests {
		if got := DetectHashType(hash); got != want {
			t.Errorf("DetectHashType(%q) = %q, want %q", hash, got, want)
		}
	}
}

func TestVerifyKey(t *testing.T) {
	const rawKey = "verify-me"
	argon, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}

	stored := map[string]string{
		"argon2id":      argon,
		"sha256 prefix": "sha256:" + HashKey(rawKey),
		"bare sha256":   HashKey(rawKey),
	}
	for name, hash := range stored {
		t.Run(name, func(t *testing.T) {
			if ok, err := VerifyKey(rawKey, hash); err != nil || !ok {
				t.Errorf("VerifyKey(correct) = %v, %v", ok, err)
			}
			// Same length as the real key, then a different length.
			for _, wrong := range []string{"verify-yo", "something-else-entirely"} {
				if ok, err := VerifyKey(wrong, hash); err != nil || ok {
					t.Errorf("VerifyKey(%q) = %v, %v; want false", wrong, ok, err)
				}
			}
		})
	}

	if _, err := VerifyKey(rawKey, "not-a-hash"); !errors.Is(err, ErrUnknownHashType) {
		t.Errorf("VerifyKey(unknown format) error = %v, want ErrUnknownHashType", err)
	}
}

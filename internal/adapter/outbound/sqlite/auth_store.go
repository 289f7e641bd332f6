// Package sqlite provides a SQLite-backed auth.AuthStore for API keys that are managed
// at runtime with `gatekeeper keys` instead of being listed in the config file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
)

// ErrDuplicateKeyName is returned when an API key name is already taken.
var ErrDuplicateKeyName = errors.New("api key name already exists")

const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	roles TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS api_keys (
	key_hash     TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
	name         TEXT NOT NULL UNIQUE,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER,
	revoked      INTEGER NOT NULL DEFAULT 0
);
`

// AuthStore implements auth.AuthStore on a SQLite database file.
type AuthStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*AuthStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open api key database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply api key schema: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(path); statErr == nil && info.Mode().Perm()&0077 != 0 {
			logger.Warn("api key database has too-open permissions, should be 0600",
				"path", path, "current_mode", fmt.Sprintf("%04o", info.Mode().Perm()))
		}
	}

	return &AuthStore{db: db, logger: logger}, nil
}

// GetAPIKey retrieves an API key by its stored hash.
func (s *AuthStore) GetAPIKey(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key_hash, principal_id, name, created_at, expires_at, revoked FROM api_keys WHERE key_hash = ?`,
		keyHash)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// GetPrincipal retrieves a principal by ID.
func (s *AuthStore) GetPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	var p auth.Principal
	var roles string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, roles FROM principals WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	p.Roles = splitRoles(roles)
	return &p, nil
}

// ListAPIKeys returns every stored key, revoked ones included.
func (s *AuthStore) ListAPIKeys(ctx context.Context) ([]*auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_hash, principal_id, name, created_at, expires_at, revoked FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*auth.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// SavePrincipal inserts or replaces a principal.
func (s *AuthStore) SavePrincipal(ctx context.Context, p *auth.Principal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (id, name, roles) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, roles = excluded.roles`,
		p.ID, p.Name, strings.Join(p.RoleNames(), ","))
	if err != nil {
		return fmt.Errorf("save principal: %w", err)
	}
	return nil
}

// CreateAPIKey stores a new key. The principal must already exist.
func (s *AuthStore) CreateAPIKey(ctx context.Context, key *auth.APIKey) error {
	if _, err := s.GetPrincipal(ctx, key.PrincipalID); err != nil {
		return err
	}

	var expires any
	if key.ExpiresAt != nil {
		expires = key.ExpiresAt.UnixMilli()
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, principal_id, name, created_at, expires_at, revoked) VALUES (?, ?, ?, ?, ?, ?)`,
		key.Key, key.PrincipalID, key.Name, createdAt.UnixMilli(), expires, key.Revoked)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: api_keys.name") {
			return fmt.Errorf("%w: %s", ErrDuplicateKeyName, key.Name)
		}
		return fmt.Errorf("create api key: %w", err)
	}
	s.logger.Info("api key created", "name", key.Name, "principal_id", key.PrincipalID)
	return nil
}

// RevokeAPIKey marks the key with the given name as revoked.
// Returns auth.ErrKeyNotFound if no key has that name.
func (s *AuthStore) RevokeAPIKey(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n == 0 {
		return auth.ErrKeyNotFound
	}
	s.logger.Info("api key revoked", "name", name)
	return nil
}

// Ping checks the database is reachable. Used by the health endpoint.
func (s *AuthStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *AuthStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row scanner) (*auth.APIKey, error) {
	var (
		key       auth.APIKey
		createdAt int64
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&key.Key, &key.PrincipalID, &key.Name, &createdAt, &expiresAt, &key.Revoked); err != nil {
		return nil, err
	}
	key.CreatedAt = time.UnixMilli(createdAt).UTC()
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		key.ExpiresAt = &t
	}
	return &key, nil
}

func splitRoles(s string) []auth.Role {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	roles := make([]auth.Role, len(parts))
	for i, p := range parts {
		roles[i] = auth.Role(p)
	}
	return roles
}

var _ auth.AuthStore = (*AuthStore)(nil)

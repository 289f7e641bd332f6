package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/gatekeeper/internal/config"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a valid jwt-mode configuration with the given limit.
func testConfig(t *testing.T, limit int) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.RateLimit.Limit = limit
	cfg.RateLimit.WindowMS = int64(time.Minute / time.Millisecond)
	cfg.Auth.JWT.Secret = config.Secret(testSecret)
	cfg.SetDefaults()
	return cfg
}

// buildTestServer wires cfg and serves it with httptest.
func buildTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c, err := build(ctx, cfg, discardLogger())
	if err != nil {
		cancel()
		t.Fatalf("build() error: %v", err)
	}
	ts := httptest.NewServer(c.server.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		c.close(discardLogger())
	})
	return ts
}

func get(t *testing.T, url, credential string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s error: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeSubject(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body.Subject
}

func TestBuild_JWTMode(t *testing.T) {
	cfg := testConfig(t, 2)
	ts := buildTestServer(t, cfg)

	token, err := mintToken(&cfg.Auth.JWT, "alice", "", time.Hour, nil)
	if err != nil {
		t.Fatalf("mintToken() error: %v", err)
	}

	resp := get(t, ts.URL+"/anything", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decodeSubject(t, resp); got != "alice" {
		t.Errorf("subject = %q, want alice", got)
	}

	if resp := get(t, ts.URL+"/anything", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credential: status = %d, want 401", resp.StatusCode)
	}
	if resp := get(t, ts.URL+"/anything", token, nil); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", resp.StatusCode)
	}
}

func TestBuild_APIKeysFromConfig(t *testing.T) {
	cfg := testConfig(t, 10)
	cfg.Auth.Mode = "apikey"
	cfg.Auth.JWT = config.JWTConfig{}
	cfg.Auth.Identities = []config.IdentityConfig{{ID: "svc", Name: "Service", Roles: []string{"user"}}}
	cfg.Auth.APIKeys = []config.APIKeyConfig{{KeyHash: "sha256:" + auth.HashKey("raw-config-key"), IdentityID: "svc", Name: "svc-key"}}
	ts := buildTestServer(t, cfg)

	resp := get(t, ts.URL+"/", "raw-config-key", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decodeSubject(t, resp); got != "svc" {
		t.Errorf("subject = %q, want svc", got)
	}

	if resp := get(t, ts.URL+"/", "wrong-key", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown key: status = %d, want 401", resp.StatusCode)
	}
}

func TestBuild_APIKeysFromSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keys.db")
	rawKey := func() string {
		store := openTestKeyStoreAt(t, dbPath)
		defer func() { _ = store.Close() }()
		key, err := createKey(context.Background(), store, createKeyOptions{PrincipalID: "bot", Name: "bot-key", Roles: []string{"user"}}, time.Now())
		if err != nil {
			t.Fatalf("createKey() error: %v", err)
		}
		return key
	}()

	cfg := testConfig(t, 10)
	cfg.Auth.Mode = "apikey"
	cfg.Auth.JWT = config.JWTConfig{}
	cfg.Auth.APIKeyDB = dbPath
	ts := buildTestServer(t, cfg)

	resp := get(t, ts.URL+"/", rawKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decodeSubject(t, resp); got != "bot" {
		t.Errorf("subject = %q, want bot", got)
	}

	health := get(t, ts.URL+"/health", "", nil)
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(health.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Checks["api_key_db"] != "ok" {
		t.Errorf("api_key_db check = %q, want ok", body.Checks["api_key_db"])
	}
}

func TestBuild_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t, 1)
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.Redis.Addr = mr.Addr()
	ts := buildTestServer(t, cfg)

	token, err := mintToken(&cfg.Auth.JWT, "alice", "", time.Hour, nil)
	if err != nil {
		t.Fatalf("mintToken() error: %v", err)
	}
	if resp := get(t, ts.URL+"/", token, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", resp.StatusCode)
	}
	if resp := get(t, ts.URL+"/", token, nil); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", resp.StatusCode)
	}
	if keys := mr.Keys(); len(keys) != 1 || !strings.HasPrefix(keys[0], config.DefaultRedisPrefix) {
		t.Errorf("redis keys = %v, want one key under %q", keys, config.DefaultRedisPrefix)
	}
}

func TestBuild_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.Redis.Addr = "127.0.0.1:1"

	if _, err := build(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("build() with unreachable redis returned nil error")
	}
}

func TestBuild_KeyExpression(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.RateLimit.KeyExpression = `header(headers, "X-Tenant")`
	ts := buildTestServer(t, cfg)

	token, err := mintToken(&cfg.Auth.JWT, "alice", "", time.Hour, nil)
	if err != nil {
		t.Fatalf("mintToken() error: %v", err)
	}

	tenantA := map[string]string{"X-Tenant": "a"}
	tenantB := map[string]string{"X-Tenant": "b"}

	if resp := get(t, ts.URL+"/", token, tenantA); resp.StatusCode != http.StatusOK {
		t.Fatalf("tenant a first: status = %d, want 200", resp.StatusCode)
	}
	if resp := get(t, ts.URL+"/", token, tenantA); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("tenant a second: status = %d, want 429", resp.StatusCode)
	}
	if resp := get(t, ts.URL+"/", token, tenantB); resp.StatusCode != http.StatusOK {
		t.Errorf("tenant b: status = %d, want 200 (separate budget)", resp.StatusCode)
	}
}

func TestBuild_InvalidKeyExpression(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.RateLimit.KeyExpression = `1 +`

	if _, err := build(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("build() with invalid key expression returned nil error")
	}
}

func TestBuild_Upstream(t *testing.T) {
	subjects := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subjects <- r.Header.Get("X-Authenticated-Subject")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	cfg := testConfig(t, 5)
	cfg.Server.Upstream = upstream.URL
	ts := buildTestServer(t, cfg)

	token, err := mintToken(&cfg.Auth.JWT, "carol", "", time.Hour, nil)
	if err != nil {
		t.Fatalf("mintToken() error: %v", err)
	}
	resp := get(t, ts.URL+"/api/things", token, map[string]string{"X-Authenticated-Subject": "forged"})
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d, want 418 from upstream", resp.StatusCode)
	}
	if gotSubject := <-subjects; gotSubject != "carol" {
		t.Errorf("upstream saw subject %q, want carol", gotSubject)
	}
}

func TestSeedAuthFromConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Auth.Identities = []config.IdentityConfig{{ID: "admin-1", Name: "Admin", Roles: []string{"admin", "user"}}}
	cfg.Auth.APIKeys = []config.APIKeyConfig{
		{KeyHash: "sha256:" + auth.HashKey("k1"), IdentityID: "admin-1", Name: "one"},
	}

	store := newSeededStore(cfg)
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
	key, err := store.GetAPIKey(context.Background(), auth.HashKey("k1"))
	if err != nil {
		t.Fatalf("GetAPIKey() error: %v (prefix not stripped?)", err)
	}
	p, err := store.GetPrincipal(context.Background(), key.PrincipalID)
	if err != nil {
		t.Fatalf("GetPrincipal() error: %v", err)
	}
	if !p.HasRole(auth.RoleAdmin) || !p.HasRole(auth.RoleUser) {
		t.Errorf("principal roles = %v", p.Roles)
	}
}

func newSeededStore(cfg *config.Config) *memory.AuthStore {
	store := memory.NewAuthStore()
	seedAuthFromConfig(cfg, store)
	return store
}

func TestNormalizeKeyHash(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"sha256:abc123", "abc123"},
		{"abc123", "abc123"},
		{"$argon2id$v=19$m=65536,t=1,p=4$salt$hash", "$argon2id$v=19$m=65536,t=1,p=4$salt$hash"},
	}
	for _, tt := range tests {
		if got := normalizeKeyHash(tt.in); got != tt.want {
			t.Errorf("normalizeKeyHash(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Server.LogLevel = "warn"
	cfg.Server.LogFormat = "json"

	var buf bytes.Buffer
	logger := newLogger(&buf, cfg)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}

	cfg.DevMode = true
	buf.Reset()
	newLogger(&buf, cfg).Debug("dev")
	if !strings.Contains(buf.String(), "dev") {
		t.Error("dev mode did not enable debug logging")
	}
}

func TestPrintBanner(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 100)
	cfg.Server.HTTPAddr = ":9090"

	var out bytes.Buffer
	printBanner(&out, "1.2.3", cfg)

	for _, want := range []string{"Gatekeeper 1.2.3", "http://localhost:9090", "identity echo", "100 per 1m0s (memory)", "jwt"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("banner missing %q:\n%s", want, out.String())
		}
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/outbound/jwt"
	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/outbound/redis"
	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/gatekeeper/internal/config"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/gatekeep"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/gatekeeper/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gatekeeper server",
	Long: `Start the gatekeeper HTTP server.

Every request except /health and /metrics is rate limited by client IP (or by
rate_limit.key_expression) and must carry "Authorization: Bearer <credential>".
Admitted requests are forwarded to server.upstream when configured, otherwise
answered with the caller identity.

Examples:
  # Start with config file settings
  gatekeeper start

  # Start with a specific config file
  gatekeeper --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer func() { _ = os.Remove(pidPath) }()
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("gatekeeper stopped")
	return nil
}

// newLogger builds the process logger from server.log_level and server.log_format.
// DevMode always forces debug.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Server.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// components is everything run wires together, kept separate so tests can build
// the handler without listening.
type components struct {
	server  *http.Server
	closers []func() error
}

func (c *components) close(logger *slog.Logger) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warn("error during shutdown", "error", err)
		}
	}
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	c, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close(logger)

	printBanner(os.Stderr, Version, cfg)
	return c.server.Start(ctx)
}

// build creates the window store, validator, pipeline and HTTP server from cfg.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{}
	var checks []http.HealthCheck
	var serverOpts []http.Option

	policy := ratelimit.Policy{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window()}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	var store ratelimit.WindowStore
	switch cfg.RateLimit.Backend {
	case "redis":
		rs, err := redis.New(ctx, redis.Config{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password.Reveal(),
			DB:       cfg.RateLimit.Redis.DB,
			Prefix:   cfg.RateLimit.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.closers = append(c.closers, rs.Close)
		checks = append(checks, http.HealthCheck{Name: "redis", Check: rs.Ping})
		store = rs
		logger.Info("rate limit backend", "backend", "redis", "addr", cfg.RateLimit.Redis.Addr)
	default:
		ms := memory.NewWindowStore(
			memory.WithCleanupInterval(cfg.RateLimit.CleanupEvery()),
			memory.WithStoreLogger(logger),
		)
		ms.StartCleanup(ctx)
		c.closers = append(c.closers, func() error { ms.Stop(); return nil })
		serverOpts = append(serverOpts, http.WithKeyCounter(ms.Size))
		store = ms
		logger.Info("rate limit backend", "backend", "memory")
	}

	limiter := ratelimit.NewLimiter(store, policy,
		ratelimit.WithFailOpen(cfg.RateLimit.FailOpen),
		ratelimit.WithLogger(logger),
	)

	validator, validatorChecks, closeValidator, err := buildValidator(ctx, cfg, logger)
	if err != nil {
		c.close(logger)
		return nil, err
	}
	checks = append(checks, validatorChecks...)
	if closeValidator != nil {
		c.closers = append(c.closers, closeValidator)
	}

	authn := auth.NewAuthenticator(validator,
		auth.WithValidationTimeout(cfg.Auth.ValidationTimeout()),
		auth.WithAuthLogger(logger),
	)

	pipelineOpts := []gatekeep.Option{gatekeep.WithLogger(logger)}
	if expr := cfg.RateLimit.KeyExpression; expr != "" {
		keyExpr, err := cel.Compile(expr)
		if err != nil {
			c.close(logger)
			return nil, fmt.Errorf("rate_limit.key_expression: %w", err)
		}
		pipelineOpts = append(pipelineOpts, gatekeep.WithKeyFunc(keyExpr.KeyFunc()))
	}
	pipeline := gatekeep.NewPipeline(limiter, authn, pipelineOpts...)

	var downstream stdhttp.Handler = http.WhoAmIHandler()
	if cfg.Server.Upstream != "" {
		proxy, err := http.NewUpstreamProxy(cfg.Server.Upstream, cfg.Server.UpstreamTimeoutDuration(), logger)
		if err != nil {
			c.close(logger)
			return nil, err
		}
		downstream = proxy
	}

	serverOpts = append(serverOpts,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithTrustProxyHeaders(cfg.Server.TrustProxyHeaders),
		http.WithHealthChecker(http.NewHealthChecker(Version, checks...)),
	)
	c.server = http.NewServer(pipeline, downstream, serverOpts...)
	c.closers = append(c.closers, c.server.Close)

	logger.Info("gatekeeper configured",
		"limit", policy.Limit,
		"window", policy.Window,
		"fail_open", cfg.RateLimit.FailOpen,
		"auth_mode", cfg.Auth.Mode,
		"trust_proxy_headers", cfg.Server.TrustProxyHeaders,
	)
	return c, nil
}

// buildValidator creates the credential validator for cfg.Auth.Mode.
func buildValidator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Validator, []http.HealthCheck, func() error, error) {
	if cfg.Auth.Mode == "apikey" {
		return buildAPIKeyValidator(ctx, cfg, logger)
	}

	secret, err := cfg.Auth.JWT.HMACSecret()
	if err != nil {
		return nil, nil, nil, err
	}
	jwtCfg := jwt.Config{
		Secret:     secret,
		Algorithms: cfg.Auth.JWT.Algorithms,
		Issuer:     cfg.Auth.JWT.Issuer,
		Audience:   cfg.Auth.JWT.Audience,
		Leeway:     cfg.Auth.JWT.LeewayDuration(),
	}
	if secret == nil {
		pemBytes, err := cfg.Auth.JWT.PublicKeyPEM()
		if err != nil {
			return nil, nil, nil, err
		}
		if jwtCfg.PublicKey, err = jwt.ParsePublicKeyPEM(pemBytes); err != nil {
			return nil, nil, nil, fmt.Errorf("auth.jwt.public_key_file: %w", err)
		}
	}

	v, err := jwt.NewValidator(jwtCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create JWT validator: %w", err)
	}
	logger.Info("auth mode", "mode", "jwt", "issuer", cfg.Auth.JWT.Issuer, "audience", cfg.Auth.JWT.Audience)
	return v, nil, nil, nil
}

func buildAPIKeyValidator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Validator, []http.HealthCheck, func() error, error) {
	if cfg.Auth.APIKeyDB != "" {
		store, err := sqlite.Open(ctx, cfg.Auth.APIKeyDB, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open API key database: %w", err)
		}
		if err := seedSQLiteFromConfig(ctx, cfg, store); err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
		logger.Info("auth mode", "mode", "apikey", "store", "sqlite", "path", cfg.Auth.APIKeyDB)
		checks := []http.HealthCheck{{Name: "api_key_db", Check: store.Ping}}
		return auth.NewAPIKeyService(store), checks, store.Close, nil
	}

	store := memory.NewAuthStore()
	seedAuthFromConfig(cfg, store)
	logger.Info("auth mode", "mode", "apikey", "store", "config", "keys", store.Len())
	return auth.NewAPIKeyService(store), nil, nil, nil
}

// seedAuthFromConfig loads identities and API keys from configuration into the store.
func seedAuthFromConfig(cfg *config.Config, store *memory.AuthStore) {
	for _, identityCfg := range cfg.Auth.Identities {
		store.AddPrincipal(principalFromConfig(identityCfg))
	}
	for _, keyCfg := range cfg.Auth.APIKeys {
		store.AddKey(&auth.APIKey{
			Key:         normalizeKeyHash(keyCfg.KeyHash),
			PrincipalID: keyCfg.IdentityID,
			Name:        keyCfg.Name,
			CreatedAt:   time.Now(),
		})
	}
}

// seedSQLiteFromConfig upserts configured identities into the key database so that
// keys created with "gatekeeper keys create" can reference them.
func seedSQLiteFromConfig(ctx context.Context, cfg *config.Config, store *sqlite.AuthStore) error {
	for _, identityCfg := range cfg.Auth.Identities {
		if err := store.SavePrincipal(ctx, principalFromConfig(identityCfg)); err != nil {
			return fmt.Errorf("seed identity %s: %w", identityCfg.ID, err)
		}
	}
	return nil
}

func principalFromConfig(c config.IdentityConfig) *auth.Principal {
	roles := make([]auth.Role, len(c.Roles))
	for i, role := range c.Roles {
		roles[i] = auth.Role(role)
	}
	return &auth.Principal{ID: c.ID, Name: c.Name, Roles: roles}
}

// normalizeKeyHash strips the "sha256:" prefix so SHA-256 keys are found by direct
// lookup; config stores "sha256:abc123", the auth store stores "abc123".
func normalizeKeyHash(hash string) string {
	return strings.TrimPrefix(hash, "sha256:")
}

// printBanner prints a startup banner to w.
func printBanner(w io.Writer, version string, cfg *config.Config) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	addr := cfg.Server.HTTPAddr
	baseURL := "http://" + addr
	if strings.HasPrefix(addr, ":") {
		baseURL = "http://localhost" + addr
	}

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset + dim + " (debug logging)" + reset
	}

	downstream := "identity echo"
	if cfg.Server.Upstream != "" {
		downstream = cfg.Server.Upstream
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s Gatekeeper %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s %s\n", "Listening:", baseURL)
	fmt.Fprintf(w, "  %-14s %s\n", "Downstream:", downstream)
	fmt.Fprintf(w, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "  %-14s %d per %s (%s)\n", "Rate limit:", cfg.RateLimit.Limit, cfg.RateLimit.Window(), cfg.RateLimit.Backend)
	fmt.Fprintf(w, "  %-14s %s\n", "Auth:", cfg.Auth.Mode)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}

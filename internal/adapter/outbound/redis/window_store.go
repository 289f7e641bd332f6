// Package redis provides a Redis-backed rate limit window store, so several gatekeeper
// instances can share one budget per caller.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/ratelimit"
)

// DefaultPrefix namespaces window keys.
const DefaultPrefix = "gatekeeper"

// dialTimeout bounds the startup ping.
const dialTimeout = 5 * time.Second

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// WindowStore implements ratelimit.WindowStore on Redis.
// Each Hit is a single Lua script call, so increments are atomic across processes.
type WindowStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a WindowStore.
type Option func(*WindowStore)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *WindowStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the time source. The store passes "now" to Redis rather than
// reading the server clock, so all instances must have reasonably synchronized clocks.
func WithClock(now func() time.Time) Option {
	return func(s *WindowStore) {
		s.now = now
	}
}

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config, opts ...Option) (*WindowStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, append([]Option{WithPrefix(cfg.Prefix)}, opts...)...), nil
}

// NewWithClient wraps an existing client. The store takes ownership: Close closes it.
func NewWithClient(client redis.UniversalClient, opts ...Option) *WindowStore {
	s := &WindowStore{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit applies one request from key under policy.
func (s *WindowStore) Hit(ctx context.Context, key ratelimit.CallerKey, policy ratelimit.Policy) (ratelimit.Window, bool, error) {
	nowMs := s.now().UnixMilli()

	res, err := hitScript.Run(ctx, s.client,
		[]string{s.redisKey(key)},
		nowMs, policy.Window.Milliseconds(), policy.Limit,
	).Slice()
	if err != nil {
		return ratelimit.Window{}, false, fmt.Errorf("redis window hit: %w", err)
	}
	if len(res) != 3 {
		return ratelimit.Window{}, false, fmt.Errorf("redis window hit: unexpected reply length %d", len(res))
	}

	startMs, err := toInt64(res[2])
	if err != nil {
		return ratelimit.Window{}, false, fmt.Errorf("redis window hit: bad start: %w", err)
	}
	count, err := toInt64(res[1])
	if err != nil {
		return ratelimit.Window{}, false, fmt.Errorf("redis window hit: bad count: %w", err)
	}
	allowed, err := toInt64(res[0])
	if err != nil {
		return ratelimit.Window{}, false, fmt.Errorf("redis window hit: bad flag: %w", err)
	}

	w := ratelimit.Window{
		Start:    time.UnixMilli(startMs),
		Count:    int(count),
		Limit:    policy.Limit,
		Duration: policy.Window,
	}
	return w, allowed == 1, nil
}

func (s *WindowStore) redisKey(key ratelimit.CallerKey) string {
	return s.prefix + ":" + string(key)
}

// Ping checks connectivity. Used by the health endpoint.
func (s *WindowStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *WindowStore) Close() error {
	return s.client.Close()
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected reply type %T", v)
	}
}

var _ ratelimit.WindowStore = (*WindowStore)(nil)

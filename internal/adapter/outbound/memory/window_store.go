// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/ratelimit"
)

// shardCount is the number of independently locked key maps.
const shardCount = 64

// WindowStore implements ratelimit.WindowStore with fixed windows held in memory.
//
// Keys are spread over shards by xxhash. A shard lock is held only to find or create a
// key's entry; the increment-and-compare itself runs under the entry's own mutex, so
// hits on different keys never wait for each other's counting.
// Expired windows are evicted by a background cleanup goroutine.
type WindowStore struct {
	shards          [shardCount]windowShard
	now             func() time.Time
	logger          *slog.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

type windowShard struct {
	mu      sync.Mutex
	entries map[ratelimit.CallerKey]*windowEntry
}

type windowEntry struct {
	mu     sync.Mutex
	window ratelimit.Window
	// evicted is set by cleanup after the entry is unlinked from its shard.
	// A Hit that raced with eviction retries on a fresh entry.
	evicted bool
}

// WindowStoreOption configures a WindowStore.
type WindowStoreOption func(*WindowStore)

// WithCleanupInterval sets how often expired windows are evicted.
func WithCleanupInterval(d time.Duration) WindowStoreOption {
	return func(s *WindowStore) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithStoreClock overrides the time source. Intended for tests.
func WithStoreClock(now func() time.Time) WindowStoreOption {
	return func(s *WindowStore) {
		s.now = now
	}
}

// WithStoreLogger sets the logger for cleanup events.
func WithStoreLogger(logger *slog.Logger) WindowStoreOption {
	return func(s *WindowStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewWindowStore creates an in-memory window store.
// Default cleanup interval: 5 minutes.
func NewWindowStore(opts ...WindowStoreOption) *WindowStore {
	s := &WindowStore{
		now:             time.Now,
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
		cleanupInterval: 5 * time.Minute,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[ratelimit.CallerKey]*windowEntry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit applies one request from key under policy and reports the resulting window.
func (s *WindowStore) Hit(ctx context.Context, key ratelimit.CallerKey, policy ratelimit.Policy) (ratelimit.Window, bool, error) {
	for {
		e := s.entry(key)

		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		allowed := e.window.Apply(s.now(), policy)
		w := e.window
		e.mu.Unlock()

		return w, allowed, nil
	}
}

// entry returns the live entry for key, creating it on first use.
func (s *WindowStore) entry(key ratelimit.CallerKey) *windowEntry {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		e = &windowEntry{}
		sh.entries[key] = e
	}
	return e
}

func (s *WindowStore) shard(key ratelimit.CallerKey) *windowShard {
	return &s.shards[xxhash.Sum64String(string(key))%shardCount]
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *WindowStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup evicts windows that have rolled over. An expired window would be reset by
// the next hit anyway, so evicting it loses no budget information.
func (s *WindowStore) cleanup() {
	now := s.now()
	cleaned := 0
	remaining := 0

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, e := range sh.entries {
			e.mu.Lock()
			if e.window.Expired(now) {
				e.evicted = true
				delete(sh.entries, key)
				cleaned++
			}
			e.mu.Unlock()
		}
		remaining += len(sh.entries)
		sh.mu.Unlock()
	}

	if cleaned > 0 {
		s.logger.Debug("rate limit window cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", remaining)
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *WindowStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the current number of tracked keys.
func (s *WindowStore) Size() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Compile-time interface verification.
var _ ratelimit.WindowStore = (*WindowStore)(nil)

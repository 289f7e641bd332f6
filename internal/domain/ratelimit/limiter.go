package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
)

// WindowStore holds the Window of every caller key.
//
// Implementations must make Hit atomic per key: two concurrent hits on the same key must
// never both observe Count == Limit-1 and both be admitted. Hits on different keys should
// not block each other. Implementations may be backed by process memory, Redis, or any
// other shared counter service.
type WindowStore interface {
	// Hit applies one request from key under policy (see Window.Apply) and returns
	// the window state after the hit and whether the request was admitted.
	Hit(ctx context.Context, key CallerKey, policy Policy) (Window, bool, error)
}

// Limiter is the fixed-window rate limiter.
//
// Known limitation: a caller can be admitted up to 2*Limit times across a window
// boundary (Limit at the end of one window, Limit at the start of the next).
type Limiter struct {
	store    WindowStore
	policy   Policy
	failOpen bool
	now      func() time.Time
	logger   *slog.Logger
	warn     *rate.Sometimes
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithFailOpen controls what Check returns when the store fails.
// When true (the default) the request is admitted; when false it is rejected
// with ReasonInternalError.
func WithFailOpen(failOpen bool) LimiterOption {
	return func(l *Limiter) {
		l.failOpen = failOpen
	}
}

// WithLogger sets the logger for rate limit events.
func WithLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source used to compute quota reset times.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a Limiter enforcing policy over store.
// The policy must be valid (see Policy.Validate).
func NewLimiter(store WindowStore, policy Policy, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:    store,
		policy:   policy,
		failOpen: true,
		now:      time.Now,
		logger:   slog.Default(),
		warn:     &rate.Sometimes{Interval: time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the policy the limiter enforces.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Check counts one request against key and decides whether it is within budget.
// The returned decision is ReasonOK or ReasonRateLimited; ReasonInternalError is only
// possible when the store fails and fail-open is disabled. Check never panics on
// unknown keys: a key without state is a first request.
func (l *Limiter) Check(ctx context.Context, key CallerKey) admission.Decision {
	window, allowed, err := l.store.Hit(ctx, key, l.policy)
	if err != nil {
		l.logger.Error("rate limit store failed",
			"key", key,
			"fail_open", l.failOpen,
			"error", err,
		)
		if l.failOpen {
			d := admission.Allow(nil)
			d.Err = err
			return d
		}
		return admission.Deny(admission.ReasonInternalError, err)
	}

	quota := &admission.Quota{
		Limit:      l.policy.Limit,
		Remaining:  window.Remaining(),
		ResetAfter: window.ResetAfter(l.now()),
	}

	if !allowed {
		l.logger.Debug("caller rate limited",
			"key", key,
			"count", window.Count,
			"reset_after", quota.ResetAfter,
		)
		l.warn.Do(func() {
			l.logger.Warn("rate limit exceeded", "key", key, "limit", l.policy.Limit, "window", l.policy.Window)
		})
		return admission.Deny(admission.ReasonRateLimited, nil).WithQuota(quota)
	}

	return admission.Allow(nil).WithQuota(quota)
}

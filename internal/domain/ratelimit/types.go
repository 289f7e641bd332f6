// Package ratelimit provides fixed-window rate limiting domain types and the Limiter.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for a deployment that does not override the policy.
const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 100
	// DefaultWindow is the length of a rate-limit window.
	DefaultWindow = 15 * time.Minute
)

// ErrInvalidPolicy is returned when a Policy has a non-positive limit or window.
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// CallerKey identifies the bucket a request is counted against.
// It must be stable for the lifetime of a window.
type CallerKey string

// KeyType identifies how a CallerKey was derived.
type KeyType string

const (
	// KeyTypeIP is for network-address based keys.
	KeyTypeIP KeyType = "ip"

	// KeyTypeCustom is for keys produced by a configured key expression.
	KeyTypeCustom KeyType = "custom"
)

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured caller key.
// Format: "ratelimit:{type}:{value}"
// Examples:
//   - FormatKey(KeyTypeIP, "192.168.1.1") -> "ratelimit:ip:192.168.1.1"
//   - FormatKey(KeyTypeCustom, "tenant-7") -> "ratelimit:custom:tenant-7"
func FormatKey(keyType KeyType, value string) CallerKey {
	return CallerKey(fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value))
}

// Policy is the fixed-window configuration: Limit requests per Window.
type Policy struct {
	// Limit is the maximum number of admitted requests per window.
	Limit int

	// Window is the length of a window.
	Window time.Duration
}

// DefaultPolicy returns the 100 requests per 15 minutes policy.
func DefaultPolicy() Policy {
	return Policy{Limit: DefaultLimit, Window: DefaultWindow}
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0, got %d", ErrInvalidPolicy, p.Limit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %v", ErrInvalidPolicy, p.Window)
	}
	return nil
}

// Window is the counter state of one caller key.
//
// Invariant: Count never exceeds Limit once Apply has run.
type Window struct {
	// Start is when the current window began.
	Start time.Time
	// Count is the number of requests admitted in the current window.
	Count int
	// Limit is the policy limit the window was last evaluated against.
	Limit int
	// Duration is the policy window the window was last evaluated against.
	Duration time.Duration
}

// Expired reports whether the window has rolled over at now.
// A zero window is always expired.
func (w Window) Expired(now time.Time) bool {
	return w.Start.IsZero() || now.Sub(w.Start) >= w.Duration
}

// Remaining returns how many more requests the window admits.
func (w Window) Remaining() int {
	if r := w.Limit - w.Count; r > 0 {
		return r
	}
	return 0
}

// ResetAfter returns the time from now until the window rolls over.
func (w Window) ResetAfter(now time.Time) time.Duration {
	d := w.Start.Add(w.Duration).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Apply records one request at now under policy p and reports whether it is admitted.
//
// The window is reset (Count=0, Start=now) when now - Start >= p.Window. A request is
// admitted, and Count incremented, only while Count < p.Limit; rejected requests leave
// Count untouched so it stays capped at the limit.
//
// Apply is not safe for concurrent use; stores serialize calls per key.
func (w *Window) Apply(now time.Time, p Policy) bool {
	w.Limit = p.Limit
	w.Duration = p.Window
	if w.Expired(now) {
		w.Start = now
		w.Count = 0
	}
	if w.Count >= p.Limit {
		return false
	}
	w.Count++
	return true
}

// Package admission defines the values produced by the gatekeeping layer:
// the per-request Decision, its ReasonCode, and the caller Identity.
//
// This package has no dependencies on other internal packages so that the
// rate limiter, the authenticator and the pipeline can all share it.
package admission

import "time"

// ReasonCode classifies the outcome of an admission check.
type ReasonCode int

const (
	// ReasonOK means the check passed.
	ReasonOK ReasonCode = iota
	// ReasonRateLimited means the caller exhausted its request budget for the current window.
	ReasonRateLimited
	// ReasonNoCredential means the request carried no bearer credential.
	ReasonNoCredential
	// ReasonInvalidCredential means the credential was malformed, expired, tampered with,
	// revoked, unknown, or could not be validated before the deadline.
	ReasonInvalidCredential
	// ReasonInternalError means a collaborator failed unexpectedly (e.g. a store is unreachable).
	// It must surface as a 5xx, never as an authentication failure.
	ReasonInternalError
)

// String returns the canonical upper-case name of the reason code.
func (r ReasonCode) String() string {
	switch r {
	case ReasonOK:
		return "OK"
	case ReasonRateLimited:
		return "RATE_LIMITED"
	case ReasonNoCredential:
		return "NO_CREDENTIAL"
	case ReasonInvalidCredential:
		return "INVALID_CREDENTIAL"
	case ReasonInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Quota describes the caller's rate-limit budget after the rate check.
type Quota struct {
	// Limit is the number of requests allowed per window.
	Limit int
	// Remaining is the number of requests still allowed in the current window.
	Remaining int
	// ResetAfter is the time until the current window ends.
	ResetAfter time.Duration
}

// Decision is the structured result of an admission check.
// Rejections are values, not errors: callers branch on Admitted and Reason.
type Decision struct {
	// Admitted is true only when Reason is ReasonOK.
	Admitted bool

	// Reason is the classification of the outcome.
	Reason ReasonCode

	// Identity is the resolved caller identity. Set only by a successful authentication.
	Identity *Identity

	// Quota is the rate-limit budget, when a rate check ran.
	Quota *Quota

	// Err is the internal cause of a rejection (or of a fail-open admission).
	// It is meant for logs and diagnostics and must never be rendered to callers.
	Err error
}

// Allow returns an admitting decision carrying the given identity (which may be nil
// for partial checks such as the rate limiter).
func Allow(identity *Identity) Decision {
	return Decision{Admitted: true, Reason: ReasonOK, Identity: identity}
}

// Deny returns a rejecting decision with the given reason and internal cause.
func Deny(reason ReasonCode, err error) Decision {
	return Decision{Admitted: false, Reason: reason, Err: err}
}

// WithQuota returns a copy of d carrying q.
func (d Decision) WithQuota(q *Quota) Decision {
	d.Quota = q
	return d
}

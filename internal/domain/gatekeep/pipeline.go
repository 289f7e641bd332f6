// Package gatekeep composes rate limiting and authentication into a single admission
// decision per request.
//
// Order: RATE_CHECK -> AUTH_CHECK -> ADMITTED. The rate check runs first so that
// unauthenticated floods are throttled before any credential work is done.
package gatekeep

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/ratelimit"
)

const instrumentationName = "github.com/Sentinel-Gate/gatekeeper/internal/domain/gatekeep"

// unknownSource is the caller key value used when the source address is unavailable.
const unknownSource = "unknown"

// Request is the transport-neutral view of an inbound request.
type Request struct {
	// Source is the caller network address (IP, without port).
	Source string
	// Credential is the bearer token, empty when none was presented.
	Credential auth.Credential
	Method     string
	Path       string
	// Header holds selected request headers, canonical names as keys.
	Header map[string]string
}

// KeyFunc derives the rate-limit bucket for a request.
type KeyFunc func(ctx context.Context, req Request) (ratelimit.CallerKey, error)

// SourceKey keys requests by source address.
func SourceKey(_ context.Context, req Request) (ratelimit.CallerKey, error) {
	src := req.Source
	if src == "" {
		src = unknownSource
	}
	return ratelimit.FormatKey(ratelimit.KeyTypeIP, src), nil
}

// RateChecker is the rate limiting stage.
type RateChecker interface {
	Check(ctx context.Context, key ratelimit.CallerKey) admission.Decision
}

// CredentialChecker is the authentication stage.
type CredentialChecker interface {
	Authenticate(ctx context.Context, credential auth.Credential) admission.Decision
}

// Stage names the step at which an admission finished.
type Stage int

const (
	StageRateCheck Stage = iota
	StageAuthCheck
	StageAdmitted
)

func (s Stage) String() string {
	switch s {
	case StageRateCheck:
		return "RATE_CHECK"
	case StageAuthCheck:
		return "AUTH_CHECK"
	case StageAdmitted:
		return "ADMITTED"
	default:
		return "UNKNOWN"
	}
}

// Pipeline runs the admission stages for each request.
type Pipeline struct {
	limiter       RateChecker
	authenticator CredentialChecker
	keyFunc       KeyFunc
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithKeyFunc sets how caller keys are derived. Default: SourceKey.
func WithKeyFunc(fn KeyFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.keyFunc = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a Pipeline running limiter then authenticator.
func NewPipeline(limiter RateChecker, authenticator CredentialChecker, opts ...Option) *Pipeline {
	p := &Pipeline{
		limiter:       limiter,
		authenticator: authenticator,
		keyFunc:       SourceKey,
		logger:        slog.Default(),
		tracer:        otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit decides whether req may proceed.
//
// A rate-limit rejection is returned unchanged and the authenticator is not called.
// On admission the returned context carries the resolved identity
// (see admission.IdentityFromContext); otherwise ctx is returned as given.
// The rate-limit quota is attached to every decision made after the rate check.
func (p *Pipeline) Admit(ctx context.Context, req Request) (context.Context, admission.Decision) {
	spanCtx, span := p.tracer.Start(ctx, "gatekeep.Admit")
	defer span.End()

	stage, d := p.admit(spanCtx, req)
	span.SetAttributes(
		attribute.String("gatekeeper.stage", stage.String()),
		attribute.String("gatekeeper.reason", d.Reason.String()),
	)

	if !d.Admitted {
		return ctx, d
	}
	return admission.WithIdentity(ctx, d.Identity), d
}

func (p *Pipeline) admit(ctx context.Context, req Request) (Stage, admission.Decision) {
	key, err := p.keyFunc(ctx, req)
	if err != nil || key == "" {
		p.logger.Warn("caller key derivation failed, using source address",
			"source", req.Source,
			"error", err,
		)
		key, _ = SourceKey(ctx, req)
	}

	rate := p.limiter.Check(ctx, key)
	if !rate.Admitted {
		return StageRateCheck, rate
	}

	d := p.authenticator.Authenticate(ctx, req.Credential)
	d = d.WithQuota(rate.Quota)
	if !d.Admitted {
		p.logger.Debug("request rejected",
			"source", req.Source,
			"reason", d.Reason,
		)
		return StageAuthCheck, d
	}
	return StageAdmitted, d
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
)

const instrumentationName = "github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"

// DefaultValidationTimeout bounds a single credential validation.
const DefaultValidationTimeout = 2 * time.Second

// Validator verifies a credential and resolves the caller identity.
//
// Errors wrapping ErrInvalidCredential mean the caller presented a bad credential.
// Any other error is treated as an infrastructure failure.
type Validator interface {
	Validate(ctx context.Context, credential Credential) (*admission.Identity, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, credential Credential) (*admission.Identity, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, credential Credential) (*admission.Identity, error) {
	return f(ctx, credential)
}

// Authenticator turns a credential into an admission decision.
type Authenticator struct {
	validator Validator
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
	latency   metric.Float64Histogram
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithValidationTimeout bounds each validation. Non-positive values are ignored.
func WithValidationTimeout(d time.Duration) AuthenticatorOption {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAuthLogger sets the logger.
func WithAuthLogger(logger *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthenticator creates an Authenticator delegating to validator.
// Spans and the latency histogram use the global OpenTelemetry providers.
func NewAuthenticator(validator Validator, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		validator: validator,
		timeout:   DefaultValidationTimeout,
		logger:    slog.Default(),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(a)
	}

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"gatekeeper.auth.validation.duration",
		metric.WithDescription("Credential validation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		a.logger.Warn("failed to create validation latency histogram", "error", err)
	}
	a.latency = latency
	return a
}

type validationResult struct {
	identity *admission.Identity
	err      error
}

// Authenticate validates credential and returns OK with the identity, NO_CREDENTIAL,
// INVALID_CREDENTIAL, or INTERNAL_ERROR. The validator is not called for an empty
// credential. Decision.Err carries the cause for logging only.
func (a *Authenticator) Authenticate(ctx context.Context, credential Credential) admission.Decision {
	if credential.IsEmpty() {
		return admission.Deny(admission.ReasonNoCredential, ErrNoCredential)
	}

	ctx, span := a.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	start := time.Now()
	identity, err := a.validate(ctx, credential)
	if a.latency != nil {
		a.latency.Record(ctx, time.Since(start).Seconds())
	}

	d := a.classify(identity, err)
	span.SetAttributes(attribute.String("gatekeeper.auth.reason", d.Reason.String()))
	if d.Reason == admission.ReasonInternalError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential validation failed")
	}
	return d
}

// validate runs the validator under the timeout. It stops waiting at the deadline even
// when the validator ignores its context.
func (a *Authenticator) validate(ctx context.Context, credential Credential) (*admission.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan validationResult, 1)
	go func() {
		identity, err := a.validator.Validate(ctx, credential)
		done <- validationResult{identity: identity, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
			return nil, fmt.Errorf("%w: %w", ErrValidationTimeout, r.err)
		}
		return r.identity, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrValidationTimeout, ctx.Err())
	}
}

func (a *Authenticator) classify(identity *admission.Identity, err error) admission.Decision {
	switch {
	case err == nil && identity != nil:
		a.logger.Debug("credential accepted", "subject", identity.Subject)
		return admission.Allow(identity)
	case err == nil:
		err = errors.New("validator returned no identity")
		a.logger.Error("credential validation failed", "error", err)
		return admission.Deny(admission.ReasonInternalError, err)
	case errors.Is(err, ErrInvalidCredential):
		a.logger.Debug("credential rejected", "error", err)
		return admission.Deny(admission.ReasonInvalidCredential, err)
	default:
		a.logger.Error("credential validation failed", "error", err)
		return admission.Deny(admission.ReasonInternalError, err)
	}
}

package http

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/gatekeep"
)

// wwwAuthenticate is sent with every 401 so that NO_CREDENTIAL and
// INVALID_CREDENTIAL are indistinguishable to the caller.
const wwwAuthenticate = `Bearer realm="gatekeeper"`

// Admitter decides whether a request may proceed.
// *gatekeep.Pipeline implements it.
type Admitter interface {
	Admit(ctx context.Context, req gatekeep.Request) (context.Context, admission.Decision)
}

// errorResponse is the JSON body of every rejection.
type errorResponse struct {
	Error string `json:"error"`
}

// GatekeepMiddleware runs every request through admitter and either forwards it with the
// caller identity in context or writes the rejection. Must run after ClientIPMiddleware.
func GatekeepMiddleware(admitter Admitter, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, d := admitter.Admit(r.Context(), buildRequest(r))

			if metrics != nil {
				metrics.DecisionsTotal.WithLabelValues(d.Reason.String()).Inc()
			}
			if d.Quota != nil {
				setQuotaHeaders(w.Header(), d.Quota)
			}

			if !d.Admitted {
				logger := LoggerFromContext(r.Context())
				switch d.Reason {
				case admission.ReasonInternalError:
					logger.Error("admission failed", "reason", d.Reason.String(), "error", d.Err)
				default:
					logger.Info("request rejected", "reason", d.Reason.String(), "error", d.Err)
				}
				writeRejection(w, d)
				return
			}

			if d.Err != nil {
				// Admitted despite a failing collaborator (fail-open).
				LoggerFromContext(r.Context()).Debug("request admitted in degraded mode", "error", d.Err)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func buildRequest(r *http.Request) gatekeep.Request {
	header := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			header[name] = values[0]
		}
	}
	return gatekeep.Request{
		Source:     ClientIPFromContext(r.Context()),
		Credential: auth.ParseBearer(r.Header.Get("Authorization")),
		Method:     r.Method,
		Path:       r.URL.Path,
		Header:     header,
	}
}

func setQuotaHeaders(h http.Header, q *admission.Quota) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(ceilSeconds(q.ResetAfter)))
}

// ceilSeconds rounds d up to whole seconds.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// StatusCode maps a reason code to its HTTP status.
func StatusCode(reason admission.ReasonCode) int {
	switch reason {
	case admission.ReasonOK:
		return http.StatusOK
	case admission.ReasonRateLimited:
		return http.StatusTooManyRequests
	case admission.ReasonNoCredential, admission.ReasonInvalidCredential:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// SafeErrorMessage returns the caller-facing message for a rejection.
// Internal causes are never included.
func SafeErrorMessage(reason admission.ReasonCode) string {
	switch reason {
	case admission.ReasonRateLimited:
		return "Too many requests from this IP"
	case admission.ReasonNoCredential, admission.ReasonInvalidCredential:
		return "unauthorized"
	default:
		return "internal error"
	}
}

func writeRejection(w http.ResponseWriter, d admission.Decision) {
	h := w.Header()
	switch d.Reason {
	case admission.ReasonRateLimited:
		retry := 1
		if d.Quota != nil {
			retry = max(ceilSeconds(d.Quota.ResetAfter), 1)
		}
		h.Set("Retry-After", strconv.Itoa(retry))
	case admission.ReasonNoCredential, admission.ReasonInvalidCredential:
		h.Set("WWW-Authenticate", wwwAuthenticate)
	}
	writeJSONError(w, StatusCode(d.Reason), SafeErrorMessage(d.Reason))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

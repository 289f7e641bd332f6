package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
)

// whoamiResponse is the body returned by WhoAmIHandler.
type whoamiResponse struct {
	Subject   string         `json:"subject"`
	Claims    map[string]any `json:"claims,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WhoAmIHandler echoes the admitted caller identity. It is the default downstream
// when no upstream is configured.
func WhoAmIHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := admission.IdentityFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, SafeErrorMessage(admission.ReasonInternalError))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(whoamiResponse{
			Subject:   id.Subject,
			Claims:    id.Claims,
			ExpiresAt: id.ExpiresAt,
			RequestID: RequestIDFromContext(r.Context()),
		})
	})
}

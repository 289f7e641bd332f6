// Package http is the inbound HTTP adapter for the gatekeeper.
//
// Every request passes through, outermost first:
//
//	Metrics -> RequestID -> ClientIP -> Gatekeep -> downstream
//
// Gatekeep runs the admission pipeline and either rejects the request or calls the
// downstream handler with the caller identity in the request context.
//
// # Endpoints
//
//	GET /health   - component health, 503 when a check fails (not gated)
//	GET /metrics  - Prometheus metrics (not gated)
//	*   /         - gated downstream: reverse proxy to the upstream, or identity echo
//
// # Rejections
//
// Rejections are JSON bodies of the form {"error": "..."}:
//
//	429 Too Many Requests  + Retry-After         (rate limited)
//	401 Unauthorized       + WWW-Authenticate    (missing or invalid credential)
//	500 Internal Server Error                    (collaborator failure)
//
// Responses that passed the rate check carry X-RateLimit-Limit, X-RateLimit-Remaining
// and X-RateLimit-Reset.
package http

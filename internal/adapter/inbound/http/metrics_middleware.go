package http

import (
	"net/http"
	"time"
)

// unmeteredPaths are operational endpoints left out of request metrics so that scrapes
// and probes do not dominate the series.
var unmeteredPaths = map[string]bool{
	"/metrics": true,
	"/health":  true,
}

// MetricsMiddleware records request count and latency for every guarded request,
// rejected ones included.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unmeteredPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, statusToLabel(rec.status)).Inc()
		})
	}
}

// statusRecorder captures the first status code written.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush passes through so streamed upstream responses are not buffered.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// statusToLabel buckets a status code into ok, rejected (401 and 429, the
// gatekeeping refusals) or error.
func statusToLabel(code int) string {
	switch {
	case code >= 200 && code < 400:
		return "ok"
	case code == http.StatusUnauthorized, code == http.StatusTooManyRequests:
		return "rejected"
	default:
		return "error"
	}
}

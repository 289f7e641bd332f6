package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
)

// SubjectHeader carries the authenticated subject to the upstream.
const SubjectHeader = "X-Authenticated-Subject"

// NewUpstreamProxy returns a reverse proxy forwarding admitted requests to upstream.
// Any client-supplied SubjectHeader is dropped and replaced by the admitted identity.
func NewUpstreamProxy(upstream string, timeout time.Duration, logger *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream %q: scheme must be http or https", upstream)
	}
	if target.Host == "" {
		return nil, errors.New("upstream: missing host")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(SubjectHeader)
			if id, ok := admission.IdentityFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set(SubjectHeader, id.Subject)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			LoggerFromContext(r.Context()).Error("upstream request failed",
				"upstream", target.Host,
				"error", err)
			writeJSONError(w, http.StatusBadGateway, "bad gateway")
		},
	}

	logger.Info("forwarding admitted requests", "upstream", target.Redacted())
	return proxy, nil
}

package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/admission"
)

func TestUpstreamProxy_SetsSubjectHeader(t *testing.T) {
	var gotSubject, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(SubjectHeader)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	proxy, err := NewUpstreamProxy(upstream.URL, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewUpstreamProxy() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set(SubjectHeader, "forged-admin")
	req = req.WithContext(admission.WithIdentity(req.Context(), &admission.Identity{Subject: "user-7"}))

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if gotSubject != "user-7" {
		t.Errorf("upstream %s = %q, want user-7", SubjectHeader, gotSubject)
	}
	if gotPath != "/api/items" {
		t.Errorf("upstream path = %q", gotPath)
	}
}

func TestUpstreamProxy_StripsForgedHeaderWithoutIdentity(t *testing.T) {
	var gotSubject string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(SubjectHeader)
	}))
	defer upstream.Close()

	proxy, err := NewUpstreamProxy(upstream.URL, 0, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SubjectHeader, "forged-admin")
	proxy.ServeHTTP(httptest.NewRecorder(), req)

	if gotSubject != "" {
		t.Errorf("forged subject reached upstream: %q", gotSubject)
	}
}

func TestUpstreamProxy_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	proxy, err := NewUpstreamProxy(url, time.Second, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestNewUpstreamProxy_Errors(t *testing.T) {
	for _, upstream := range []string{"ftp://example.com", "http://", "::not a url"} {
		if _, err := NewUpstreamProxy(upstream, 0, discardLogger()); err == nil {
			t.Errorf("NewUpstreamProxy(%q) succeeded, want error", upstream)
		}
	}
}

func TestWhoAmIHandler_WithoutIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	WhoAmIHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

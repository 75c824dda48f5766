package devapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"direct-chat/internal/authutil"
)

func TestRoutePatternFallsBackToPath(t *testing.T) {
	req := httptest.NewRequest("GET", "/healthz", nil)
	if got := routePattern(req); got != "/healthz" {
		t.Fatalf("expected path fallback, got %s", got)
	}
}

func TestClientOriginPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "1.1.1.1")
	req.RemoteAddr = "2.2.2.2"
	if got := clientOrigin(req); got != "1.1.1.1" {
		t.Fatalf("expected forwarded header, got %s", got)
	}
}

func TestClientHostStripsPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientHost(req); got != "10.0.0.1" {
		t.Fatalf("expected bare host, got %s", got)
	}
}

func TestAuthenticatedMiddleware(t *testing.T) {
	token, err := authutil.IssueToken(42, authutil.KindAccess, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	srv := New(NewMemoryStore())
	var seen int64
	handler := srv.authenticated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = userFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != 42 {
		t.Fatalf("expected user 42 in context, got %d", seen)
	}
}

func TestAuthenticatedMiddlewareRejectsRefreshToken(t *testing.T) {
	token, err := authutil.IssueToken(42, authutil.KindRefresh, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	srv := New(NewMemoryStore())
	handler := srv.authenticated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLimiterPoolPerKey(t *testing.T) {
	p := newLimiterPool(0.001, 1)
	if !p.Allow("a") || p.Allow("a") {
		t.Fatalf("expected one request for key a")
	}
	if !p.Allow("b") {
		t.Fatalf("keys must not share a bucket")
	}
}

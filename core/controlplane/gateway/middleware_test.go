package gateway

import (
	"net/http"
	"sync"
	"testing"

	"github.com/lexcoverzy/policy-upload/core/infra/config"
)

func TestCORSDefaultAllowsAnyOrigin(t *testing.T) {
	env := newTestEnv(t)
	req := newRequest(http.MethodGet, "/api/auth/health", "")
	req.Header.Set("Origin", "https://anywhere.example.com")
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestCORSAllowList(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.AllowedOrigins = []string{"https://admin.example.com/"}
	})

	req := newRequest(http.MethodOptions, "/api/list-pdfs", "")
	req.Header.Set("Origin", "https://admin.example.com")
	rr := env.do(req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204 got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Fatalf("expected allow headers on preflight")
	}

	req = newRequest(http.MethodGet, "/api/list-pdfs", testAdminKey)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = env.do(req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}

	// Non-browser clients send no Origin.
	if rr := env.admin(http.MethodGet, "/api/list-pdfs"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without origin got %d", rr.Code)
	}
}

func TestRateLimitOnlyGuardsAPI(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimitRPS = 1
		c.RateLimitBurst = 1
	})

	if rr := env.do(newRequest(http.MethodGet, "/api/auth/health", "")); rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200 got %d", rr.Code)
	}
	rr := env.do(newRequest(http.MethodGet, "/api/auth/health", ""))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429 got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rr := env.do(newRequest(http.MethodGet, "/health", "")); rr.Code != http.StatusOK {
		t.Fatalf("health must bypass the limiter, got %d", rr.Code)
	}
}

func TestNewLimiterDisabled(t *testing.T) {
	if newLimiter(0, 10) != nil || newLimiter(10, 0) != nil {
		t.Fatalf("expected nil limiter for non-positive settings")
	}
}

func TestRequestIDEchoedOrAssigned(t *testing.T) {
	env := newTestEnv(t)
	req := newRequest(http.MethodGet, "/health", "")
	req.Header.Set(requestIDHeader, "abc-123")
	if rr := env.do(req); rr.Header().Get(requestIDHeader) != "abc-123" {
		t.Fatalf("expected request id echoed, got %q", rr.Header().Get(requestIDHeader))
	}
	rr := env.do(newRequest(http.MethodGet, "/health", ""))
	if len(rr.Header().Get(requestIDHeader)) != 36 {
		t.Fatalf("expected generated uuid, got %q", rr.Header().Get(requestIDHeader))
	}
}

type recordedRequest struct {
	method, route, status string
}

type recordingGatewayMetrics struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (m *recordingGatewayMetrics) ObserveRequest(method, route, status string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, recordedRequest{method, route, status})
}

func TestInstrumentedRecordsRouteAndStatus(t *testing.T) {
	env := newTestEnv(t)
	m := &recordingGatewayMetrics{}
	env.srv.metrics = m
	env.handler = env.srv.routes()

	env.admin(http.MethodGet, "/api/pdf-info/missing.pdf")
	env.do(newRequest(http.MethodGet, "/api/list-pdfs", "wrong"))

	if len(m.seen) != 2 {
		t.Fatalf("expected 2 observations, got %v", m.seen)
	}
	if m.seen[0] != (recordedRequest{http.MethodGet, "/api/pdf-info/{filename}", "404"}) {
		t.Fatalf("unexpected first observation %+v", m.seen[0])
	}
	if m.seen[1] != (recordedRequest{http.MethodGet, "/api/list-pdfs", "401"}) {
		t.Fatalf("unexpected second observation %+v", m.seen[1])
	}
}

func TestNormalizeAPIKey(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"  key  ":    "key",
		`"quoted"`:   "quoted",
		`' spaced '`: "spaced",
	}
	for in, want := range cases {
		if got := normalizeAPIKey(in); got != want {
			t.Fatalf("normalizeAPIKey(%q) = %q, want %q", in, got, want)
		}
	}
	if keysEqual("", "") || keysEqual("a", "") || !keysEqual("a", "a") {
		t.Fatalf("unexpected keysEqual behaviour")
	}
}

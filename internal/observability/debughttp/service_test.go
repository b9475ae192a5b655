package debughttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	logx "joingate/pkg/logx"
)

func newTestService(t *testing.T, health HealthFunc) (*Service, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "joingate_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	return New(Config{}, reg, health, logx.Nop()), reg
}

func do(h http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, nil)
	tests := []struct {
		name string
		cfg  Config
		path string
		want int
	}{
		{"health", Config{}, "/healthz", http.StatusOK},
		{"metrics off", Config{}, "/metrics", http.StatusNotFound},
		{"metrics on", Config{Metrics: true}, "/metrics", http.StatusOK},
		{"pprof off", Config{}, "/debug/pprof/", http.StatusNotFound},
		{"pprof on", Config{Pprof: true}, "/debug/pprof/", http.StatusOK},
	}
	for _, tt := range tests {
		rec := do(s.Handler(tt.cfg), tt.path, "")
		if rec.Code != tt.want {
			t.Fatalf("%s: GET %s = %d, want %d", tt.name, tt.path, rec.Code, tt.want)
		}
	}

	rec := do(s.Handler(Config{Metrics: true}), "/metrics", "")
	if !strings.Contains(rec.Body.String(), "joingate_test_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, nil)
	h := s.Handler(Config{Token: "s3cret"})

	if rec := do(h, "/healthz", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}
	if rec := do(h, "/healthz", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", rec.Code)
	}
	if rec := do(h, "/healthz", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("header token = %d, want 200", rec.Code)
	}
	if rec := do(h, "/healthz?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token = %d, want 200", rec.Code)
	}
}

func TestHealthReportsFailures(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, func(ctx context.Context) map[string]error {
		return map[string]error{"storage": nil, "session": errors.New("redis down")}
	})
	rec := do(s.Handler(Config{}), "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /healthz = %d, want 503", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "redis down") || !strings.Contains(body, `"storage":"ok"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestIsLoopback(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopback(addr); got != want {
			t.Fatalf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}

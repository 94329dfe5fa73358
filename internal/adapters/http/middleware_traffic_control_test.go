package httpadapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/legal-rag/internal/config"
	"github.com/kirillkom/legal-rag/internal/observability/metrics"
)

func TestRateLimitRejectsBurstButNotProbes(t *testing.T) {
	rt, err := NewRouter(config.Config{RateLimitRPS: 1, RateLimitBurst: 1}, defaultServices(), metrics.NewHTTPServerMetrics(serviceName))
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	handler := rt.Handler()
	query := map[string]any{"query": "Is theft punishable by imprisonment?"}

	if res := postJSON(t, handler, "/v1/answer", query); res.Code != http.StatusOK {
		t.Fatalf("first question expected 200, got %d", res.Code)
	}
	res := postJSON(t, handler, "/v1/answer", query)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("second question expected 429, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
	if body := decodeError(t, res); body.Kind != "rate_limited" {
		t.Fatalf("unexpected error kind %q", body.Kind)
	}

	for _, path := range []string{"/healthz", "/metrics"} {
		probe := httptest.NewRecorder()
		handler.ServeHTTP(probe, httptest.NewRequest(http.MethodGet, path, nil))
		if probe.Code != http.StatusOK {
			t.Fatalf("%s must bypass the rate limit, got %d", path, probe.Code)
		}
		if path == "/metrics" && !strings.Contains(probe.Body.String(), `legalrag_http_rejected_total{reason="rate_limited",service="api"} 1`) {
			t.Fatalf("expected one rate_limited rejection in metrics:\n%s", probe.Body.String())
		}
	}
}

func TestBackpressureShedsLoadWhileAnswerIsGenerating(t *testing.T) {
	generating := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)
	var reasons []string

	slowAnswer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		close(generating)
		<-release
		w.WriteHeader(http.StatusOK)
	})
	handler := backpressureMiddleware(slowAnswer, 1, 20*time.Millisecond, func(reason string) { reasons = append(reasons, reason) })

	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/answer/stream", nil))
		done <- res.Code
	}()
	<-generating

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/answer", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while the only slot is busy, got %d", res.Code)
	}
	if body := decodeError(t, res); body.Kind != "overloaded" || body.Error == "" {
		t.Fatalf("unexpected overload payload %+v", body)
	}
	if res.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After: 1, got %q", res.Header().Get("Retry-After"))
	}

	probe := httptest.NewRecorder()
	handler.ServeHTTP(probe, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if probe.Code != http.StatusOK {
		t.Fatalf("health probe must not wait for a slot, got %d", probe.Code)
	}

	close(release)
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Fatalf("streaming answer expected 200, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the streaming answer")
	}
	if len(reasons) != 1 || reasons[0] != "overloaded" {
		t.Fatalf("unexpected reject reasons %v", reasons)
	}
}

func TestRequestIDIsEchoedOrMinted(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, defaultServices())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "gateway-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get(requestIDHeader); got != "gateway-42" {
		t.Fatalf("expected incoming request id to be echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 500))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("expected a minted uuid for an oversized id, got %q", got)
	}
}

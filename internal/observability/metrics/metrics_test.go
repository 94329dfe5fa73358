package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

func TestMiddlewareCountsNormalizedPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	for _, id := range []string{"a", "b"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/"+id, nil))
	}

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/documents/{document_id}", "404"))
	if got != 2 {
		t.Fatalf("expected 2 requests on the normalized path, got %v", got)
	}
}

func TestRAGObservationSplitsHitsAndNoContext(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordRAGObservation("api", "answer", 3, 120*time.Millisecond)
	m.RecordRAGObservation("api", "answer", 0, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.ragRetrievalHitTotal.WithLabelValues("api", "answer")); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.ragNoContextTotal.WithLabelValues("api", "answer")); got != 1 {
		t.Fatalf("expected 1 no-context, got %v", got)
	}
}

func TestObserverRecordsPipelineEvents(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	obs := m.Observer("api")
	obs.KeywordFallback(2)
	obs.RerankDegraded()
	obs.ModelFallback("", "smart")

	if got := testutil.ToFloat64(m.keywordFallbackTotal.WithLabelValues("api")); got != 1 {
		t.Fatalf("expected keyword fallback counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.rerankDegradedTotal.WithLabelValues("api")); got != 1 {
		t.Fatalf("expected rerank degradation counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.modelFallbackTotal.WithLabelValues("api", "default", "smart")); got != 1 {
		t.Fatalf("expected model fallback counted, got %v", got)
	}
}

func TestWorkerMetricsExposeQueueLagAndChunks(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.ObserveQueueLag(2 * time.Second)
	m.ObserveQueueLag(-time.Second)

	m.StartDocument()
	m.FinishDocument(time.Second, 7, nil)
	m.StartDocument()
	m.FinishDocument(time.Second, 0, nil)
	m.StartDocument()
	m.FinishDocument(time.Second, 0, domain.WrapError(domain.ErrEmbedding, "embed", errors.New("model down")))
	m.StartDocument()
	m.FinishDocument(time.Second, 0, errors.New("boom"))

	if got := testutil.ToFloat64(m.chunksCreated); got != 7 {
		t.Fatalf("expected 7 chunks, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected no documents in flight, got %v", got)
	}
	for _, tc := range []struct{ outcome, reason string }{
		{"processed", ""},
		{"skipped", ""},
		{"failed", "embedding"},
		{"failed", "other"},
	} {
		if got := testutil.ToFloat64(m.documents.WithLabelValues(tc.outcome, tc.reason)); got != 1 {
			t.Fatalf("documents{%s,%s} = %v, want 1", tc.outcome, tc.reason, got)
		}
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "legalrag_worker_queue_lag_seconds_count{service=\"worker\"} 1") {
		t.Fatalf("expected a single queue lag observation, got:\n%s", rec.Body.String())
	}
}

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "legalrag"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec

	ragRequestsTotal      *prometheus.CounterVec
	ragRetrievalHitTotal  *prometheus.CounterVec
	ragNoContextTotal     *prometheus.CounterVec
	ragRetrievedChunks    *prometheus.HistogramVec
	ragDuration           *prometheus.HistogramVec
	keywordFallbackTotal  *prometheus.CounterVec
	keywordFallbackAdded  *prometheus.HistogramVec
	rerankDegradedTotal   *prometheus.CounterVec
	modelFallbackTotal    *prometheus.CounterVec
	claimValidationsTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by traffic control, by reason.",
		},
		[]string{"service", "reason"},
	)
	ragRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "requests_total",
			Help:      "Total successful RAG requests.",
		},
		[]string{"service", "endpoint"},
	)
	ragRetrievalHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "retrieval_hit_total",
			Help:      "Total RAG requests with at least one retrieved source.",
		},
		[]string{"service", "endpoint"},
	)
	ragNoContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "no_context_total",
			Help:      "Total RAG requests answered without evidence.",
		},
		[]string{"service", "endpoint"},
	)
	ragRetrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "retrieved_chunks",
			Help:      "Distribution of evidence items per successful RAG request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "endpoint"},
	)
	ragDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "duration_seconds",
			Help:      "RAG execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	keywordFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "keyword_fallback_total",
			Help:      "Retrievals that ran the keyword fallback.",
		},
		[]string{"service"},
	)
	keywordFallbackAdded := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "keyword_fallback_added",
			Help:      "Keyword-only candidates added per fallback.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"service"},
	)
	rerankDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "rerank_degraded_total",
			Help:      "Rerank calls that fell back to semantic order.",
		},
		[]string{"service"},
	)
	modelFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "model_fallback_total",
			Help:      "Generations served by a model other than the requested one.",
		},
		[]string{"service", "requested", "served"},
	)
	claimValidationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "claim_validations_total",
			Help:      "Claim validations by verdict.",
		},
		[]string{"service", "verdict"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rejectedTotal,
		ragRequestsTotal,
		ragRetrievalHitTotal,
		ragNoContextTotal,
		ragRetrievedChunks,
		ragDuration,
		keywordFallbackTotal,
		keywordFallbackAdded,
		rerankDegradedTotal,
		modelFallbackTotal,
		claimValidationsTotal,
	)

	return &HTTPServerMetrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		rejectedTotal:         rejectedTotal,
		ragRequestsTotal:      ragRequestsTotal,
		ragRetrievalHitTotal:  ragRetrievalHitTotal,
		ragNoContextTotal:     ragNoContextTotal,
		ragRetrievedChunks:    ragRetrievedChunks,
		ragDuration:           ragDuration,
		keywordFallbackTotal:  keywordFallbackTotal,
		keywordFallbackAdded:  keywordFallbackAdded,
		rerankDegradedTotal:   rerankDegradedTotal,
		modelFallbackTotal:    modelFallbackTotal,
		claimValidationsTotal: claimValidationsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordRejected(service, reason string) {
	m.rejectedTotal.WithLabelValues(service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordRAGObservation(service, endpoint string, sourceCount int, duration time.Duration) {
	m.ragRequestsTotal.WithLabelValues(service, endpoint).Inc()
	m.ragRetrievedChunks.WithLabelValues(service, endpoint).Observe(float64(sourceCount))
	m.ragDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())

	if sourceCount > 0 {
		m.ragRetrievalHitTotal.WithLabelValues(service, endpoint).Inc()
		return
	}
	m.ragNoContextTotal.WithLabelValues(service, endpoint).Inc()
}

func (m *HTTPServerMetrics) RecordClaimVerdict(service string, valid bool) {
	verdict := "invalid"
	if valid {
		verdict = "valid"
	}
	m.claimValidationsTotal.WithLabelValues(service, verdict).Inc()
}

// Observer returns the pipeline event sink for service.
func (m *HTTPServerMetrics) Observer(service string) *RAGObserver {
	return &RAGObserver{metrics: m, service: service}
}

// RAGObserver records retrieval and generation events emitted by the core use cases.
type RAGObserver struct {
	metrics *HTTPServerMetrics
	service string
}

func (o *RAGObserver) KeywordFallback(added int) {
	o.metrics.keywordFallbackTotal.WithLabelValues(o.service).Inc()
	o.metrics.keywordFallbackAdded.WithLabelValues(o.service).Observe(float64(added))
}

func (o *RAGObserver) RerankDegraded() {
	o.metrics.rerankDegradedTotal.WithLabelValues(o.service).Inc()
}

func (o *RAGObserver) ModelFallback(requested, served string) {
	if requested == "" {
		requested = "default"
	}
	o.metrics.modelFallbackTotal.WithLabelValues(o.service, requested, served).Inc()
}

// NoContext is counted by RecordRAGObservation at the transport layer.
func (o *RAGObserver) NoContext() {}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

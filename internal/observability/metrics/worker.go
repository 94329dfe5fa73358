package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// WorkerMetrics covers the ingestion worker: one observation per queued document.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	documents     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	queueLag      prometheus.Histogram
	chunksCreated prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &WorkerMetrics{
		service:  service,
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "documents_total",
			Help:        "Queued documents by outcome and failure reason.",
			ConstLabels: labels,
		}, []string{"outcome", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "document_process_duration_seconds",
			Help:        "Extraction, segmentation, embedding and storage time per document.",
			Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: labels,
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "documents_in_flight",
			Help:        "Documents currently being processed.",
			ConstLabels: labels,
		}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "queue_lag_seconds",
			Help:        "Delay between upload and the start of processing.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: labels,
		}),
		chunksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "chunks_created_total",
			Help:        "Chunks committed by processed documents.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.documents, m.duration, m.inFlight, m.queueLag, m.chunksCreated)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.inFlight.Inc()
}

// FinishDocument records a processing attempt. A nil error with zero chunks is a redelivery of
// an already processed document.
func (m *WorkerMetrics) FinishDocument(duration time.Duration, chunks int, err error) {
	m.inFlight.Dec()

	outcome, reason := "processed", ""
	switch {
	case err != nil:
		outcome, reason = "failed", failureReason(err)
	case chunks == 0:
		outcome = "skipped"
	default:
		m.chunksCreated.Add(float64(chunks))
	}
	m.documents.WithLabelValues(outcome, reason).Inc()
	m.duration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveQueueLag ignores negative lags from skewed publisher clocks.
func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

func failureReason(err error) string {
	for _, k := range []struct {
		kind  error
		label string
	}{
		{domain.ErrIngestion, "ingestion"},
		{domain.ErrEmbedding, "embedding"},
		{domain.ErrDimensionMismatch, "dimension_mismatch"},
		{domain.ErrDocumentNotFound, "not_found"},
		{domain.ErrInvalidTransition, "invalid_transition"},
		{domain.ErrTemporary, "temporary"},
	} {
		if domain.IsKind(err, k.kind) {
			return k.label
		}
	}
	return "other"
}

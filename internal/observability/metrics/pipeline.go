package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// PipelineMetrics exposes retrieval pipeline and HTTP server metrics on one
// registry. It implements the pipeline observer contract of the usecase
// layer.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	stageDuration      *prometheus.HistogramVec
	gateDecisions      *prometheus.CounterVec
	branchFailures     *prometheus.CounterVec
	rerankFailOpen     *prometheus.CounterVec
	retrievalsByReason *prometheus.CounterVec
	resultCount        *prometheus.HistogramVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrs",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hrs",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hrs",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hrs",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each retrieval pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	gateDecisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrs",
			Subsystem: "pipeline",
			Name:      "gate_decisions_total",
			Help:      "Relevance gate classifications by class.",
		},
		[]string{"service", "class"},
	)
	branchFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrs",
			Subsystem: "pipeline",
			Name:      "branch_failures_total",
			Help:      "Retrieval branch failures tolerated by fusion.",
		},
		[]string{"service", "branch"},
	)
	rerankFailOpen := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrs",
			Subsystem: "pipeline",
			Name:      "rerank_fail_open_total",
			Help:      "Rerank calls resolved by the fail-open policy.",
		},
		[]string{"service", "backend"},
	)
	retrievalsByReason := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrs",
			Subsystem: "pipeline",
			Name:      "retrievals_total",
			Help:      "Completed retrievals by terminal reason.",
		},
		[]string{"service", "reason"},
	)
	resultCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hrs",
			Subsystem: "pipeline",
			Name:      "result_count",
			Help:      "Distribution of returned results per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		stageDuration,
		gateDecisions,
		branchFailures,
		rerankFailOpen,
		retrievalsByReason,
		resultCount,
	)

	return &PipelineMetrics{
		registry:           registry,
		service:            service,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		stageDuration:      stageDuration,
		gateDecisions:      gateDecisions,
		branchFailures:     branchFailures,
		rerankFailOpen:     rerankFailOpen,
		retrievalsByReason: retrievalsByReason,
		resultCount:        resultCount,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) ObserveStage(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveGateClass(class domain.GateClass) {
	m.gateDecisions.WithLabelValues(m.service, string(class)).Inc()
}

func (m *PipelineMetrics) ObserveBranchFailure(branch string) {
	m.branchFailures.WithLabelValues(m.service, branch).Inc()
}

func (m *PipelineMetrics) ObserveRerankFailOpen(backend domain.RerankerType) {
	label := string(backend)
	if label == "" {
		label = "unknown"
	}
	m.rerankFailOpen.WithLabelValues(m.service, label).Inc()
}

func (m *PipelineMetrics) ObserveResultCount(reason domain.RetrievalReason, count int) {
	m.retrievalsByReason.WithLabelValues(m.service, string(reason)).Inc()
	m.resultCount.WithLabelValues(m.service).Observe(float64(count))
}

// Middleware records request totals and latency per route.
func (m *PipelineMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

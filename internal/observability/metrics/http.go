package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	answerRequestsTotal *prometheus.CounterVec
	answerDuration      *prometheus.HistogramVec
	answerCitations     *prometheus.HistogramVec
	answerDegradedTotal *prometheus.CounterVec

	retrievalRequestsTotal *prometheus.CounterVec
	retrievalCandidates    *prometheus.HistogramVec
	rerankUsedTotal        *prometheus.CounterVec

	webProviderTotal      *prometheus.CounterVec
	webQuotaExhausted     *prometheus.CounterVec
	rateLimitedTotal      *prometheus.CounterVec
	uploadsTotal          *prometheus.CounterVec
	streamingRequestTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wenda",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wenda",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	answerRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total answered requests by response mode.",
		},
		[]string{"service", "mode"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wenda",
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "Answer pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	answerCitations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wenda",
			Subsystem: "answer",
			Name:      "citations",
			Help:      "Distribution of citations per answered request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service"},
	)
	answerDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "answer",
			Name:      "degraded_total",
			Help:      "Total degraded answers by diagnostic reason.",
		},
		[]string{"service", "reason"},
	)
	retrievalRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total hybrid retrieval runs.",
		},
		[]string{"service"},
	)
	retrievalCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wenda",
			Subsystem: "retrieval",
			Name:      "candidates",
			Help:      "Distribution of fused candidates per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	rerankUsedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "retrieval",
			Name:      "rerank_used_total",
			Help:      "Total retrievals where the re-rank pass was applied.",
		},
		[]string{"service"},
	)
	webProviderTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "websearch",
			Name:      "provider_requests_total",
			Help:      "Total web search provider calls by outcome.",
		},
		[]string{"service", "provider", "status"},
	)
	webQuotaExhausted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "websearch",
			Name:      "quota_exhausted_total",
			Help:      "Total searches where every provider reported quota.",
		},
		[]string{"service"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the per-identity rate limiter.",
		},
		[]string{"service"},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Total uploaded documents by outcome.",
		},
		[]string{"service", "status"},
	)
	streamingRequestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wenda",
			Subsystem: "answer",
			Name:      "stream_requests_total",
			Help:      "Total SSE streaming answer requests.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		answerRequestsTotal,
		answerDuration,
		answerCitations,
		answerDegradedTotal,
		retrievalRequestsTotal,
		retrievalCandidates,
		rerankUsedTotal,
		webProviderTotal,
		webQuotaExhausted,
		rateLimitedTotal,
		uploadsTotal,
		streamingRequestTotal,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		answerRequestsTotal:    answerRequestsTotal,
		answerDuration:         answerDuration,
		answerCitations:        answerCitations,
		answerDegradedTotal:    answerDegradedTotal,
		retrievalRequestsTotal: retrievalRequestsTotal,
		retrievalCandidates:    retrievalCandidates,
		rerankUsedTotal:        rerankUsedTotal,
		webProviderTotal:       webProviderTotal,
		webQuotaExhausted:      webQuotaExhausted,
		rateLimitedTotal:       rateLimitedTotal,
		uploadsTotal:           uploadsTotal,
		streamingRequestTotal:  streamingRequestTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
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
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordAnswer(service, mode string, citations int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.answerRequestsTotal.WithLabelValues(service, mode).Inc()
	m.answerDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.answerCitations.WithLabelValues(service).Observe(float64(citations))
}

func (m *HTTPServerMetrics) RecordAnswerDegraded(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.answerDegradedTotal.WithLabelValues(service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordRetrieval(service string, candidates int, rerankUsed bool) {
	m.retrievalRequestsTotal.WithLabelValues(service).Inc()
	m.retrievalCandidates.WithLabelValues(service).Observe(float64(candidates))
	if rerankUsed {
		m.rerankUsedTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordWebProvider(service, provider, status string) {
	if provider == "" {
		provider = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.webProviderTotal.WithLabelValues(service, provider, status).Inc()
}

func (m *HTTPServerMetrics) RecordWebQuotaExhausted(service string) {
	m.webQuotaExhausted.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordRateLimited(service string) {
	m.rateLimitedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordUpload(service, status string) {
	if status == "" {
		status = "unknown"
	}
	m.uploadsTotal.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) RecordStreamRequest(service string) {
	m.streamingRequestTotal.WithLabelValues(service).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}

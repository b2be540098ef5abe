package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadsTotal    *prometheus.CounterVec
	bulkRowsTotal   *prometheus.CounterVec
	dispatchesTotal *prometheus.CounterVec
	sseClients      prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cpub",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpub",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpub",
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Total manual document uploads by outcome.",
		},
		[]string{"service", "status"},
	)
	bulkRowsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpub",
			Subsystem: "ingest",
			Name:      "bulk_rows_total",
			Help:      "Total bulk import rows by outcome.",
		},
		[]string{"service", "format", "status"},
	)
	dispatchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpub",
			Subsystem: "publish",
			Name:      "dispatch_requests_total",
			Help:      "Total publish dispatch requests accepted over HTTP.",
		},
		[]string{"service", "provider"},
	)
	sseClients := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpub",
			Subsystem: "events",
			Name:      "sse_clients",
			Help:      "Number of connected event stream clients.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		bulkRowsTotal,
		dispatchesTotal,
		sseClients,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		uploadsTotal:    uploadsTotal,
		bulkRowsTotal:   bulkRowsTotal,
		dispatchesTotal: dispatchesTotal,
		sseClients:      sseClients,
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
	case strings.HasPrefix(path, "/v1/documents/") && strings.HasSuffix(path, "/publish"):
		return "/v1/documents/{document_id}/publish"
	case strings.HasPrefix(path, "/v1/documents/") && strings.HasSuffix(path, "/transition"):
		return "/v1/documents/{document_id}/transition"
	case strings.HasPrefix(path, "/v1/worklist/"):
		return "/v1/worklist/{document_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordUpload(service string, err error) {
	m.uploadsTotal.WithLabelValues(service, outcome(err)).Inc()
}

func (m *HTTPServerMetrics) RecordBulkRows(service, format string, created, failed int) {
	if created > 0 {
		m.bulkRowsTotal.WithLabelValues(service, format, "created").Add(float64(created))
	}
	if failed > 0 {
		m.bulkRowsTotal.WithLabelValues(service, format, "failed").Add(float64(failed))
	}
}

func (m *HTTPServerMetrics) RecordDispatch(service, provider string) {
	if provider == "" {
		provider = "default"
	}
	m.dispatchesTotal.WithLabelValues(service, provider).Inc()
}

func (m *HTTPServerMetrics) SSEClientConnected()    { m.sseClients.Inc() }
func (m *HTTPServerMetrics) SSEClientDisconnected() { m.sseClients.Dec() }

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
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

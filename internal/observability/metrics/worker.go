package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	importsTotal    *prometheus.CounterVec
	importDuration  *prometheus.HistogramVec
	importInFlight  prometheus.Gauge
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	publishInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	watcherCycles   *prometheus.CounterVec
	watcherFailures prometheus.Gauge
	relayLastSeq    prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	importsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpub",
			Subsystem: "worker",
			Name:      "imports_total",
			Help:      "Total document imports by outcome.",
		},
		[]string{"service", "status"},
	)
	importDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cpub",
			Subsystem: "worker",
			Name:      "import_duration_seconds",
			Help:      "Document import duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	importInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpub",
			Subsystem: "worker",
			Name:      "imports_in_flight",
			Help:      "Number of in-flight document imports.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	publishTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpub",
			Subsystem: "worker",
			Name:      "publish_total",
			Help:      "Total publish runs by provider and outcome.",
		},
		[]string{"service", "provider", "status"},
	)
	publishDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cpub",
			Subsystem: "worker",
			Name:      "publish_duration_seconds",
			Help:      "Publish run duration in seconds by provider.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "provider"},
	)
	publishInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpub",
			Subsystem: "worker",
			Name:      "publish_in_flight",
			Help:      "Number of in-flight publish runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cpub",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "queue"},
	)
	watcherCycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpub",
			Subsystem: "watcher",
			Name:      "cycles_total",
			Help:      "Total folder reconcile cycles by outcome.",
		},
		[]string{"service", "status"},
	)
	watcherFailures := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpub",
			Subsystem: "watcher",
			Name:      "consecutive_failures",
			Help:      "Consecutive folder listing failures; zero when healthy.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	relayLastSeq := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpub",
			Subsystem: "events",
			Name:      "relay_last_seq",
			Help:      "Last change event sequence pushed to subscribers.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		importsTotal,
		importDuration,
		importInFlight,
		publishTotal,
		publishDuration,
		publishInFlight,
		queueLag,
		watcherCycles,
		watcherFailures,
		relayLastSeq,
	)

	return &WorkerMetrics{
		registry:        registry,
		importsTotal:    importsTotal,
		importDuration:  importDuration,
		importInFlight:  importInFlight,
		publishTotal:    publishTotal,
		publishDuration: publishDuration,
		publishInFlight: publishInFlight,
		queueLag:        queueLag,
		watcherCycles:   watcherCycles,
		watcherFailures: watcherFailures,
		relayLastSeq:    relayLastSeq,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartImport() {
	m.importInFlight.Inc()
}

func (m *WorkerMetrics) FinishImport(service string, duration time.Duration, err error) {
	m.importInFlight.Dec()
	status := outcome(err)
	m.importsTotal.WithLabelValues(service, status).Inc()
	m.importDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) StartPublish() {
	m.publishInFlight.Inc()
}

func (m *WorkerMetrics) FinishPublish(service, provider string, duration time.Duration, err error) {
	m.publishInFlight.Dec()
	if provider == "" {
		provider = "default"
	}
	m.publishTotal.WithLabelValues(service, provider, outcome(err)).Inc()
	m.publishDuration.WithLabelValues(service, provider).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service, queue string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service, queue).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordWatcherCycle(service string, err error) {
	m.watcherCycles.WithLabelValues(service, outcome(err)).Inc()
}

func (m *WorkerMetrics) SetWatcherConsecutiveFailures(n int) {
	m.watcherFailures.Set(float64(n))
}

func (m *WorkerMetrics) SetRelayLastSeq(seq int64) {
	m.relayLastSeq.Set(float64(seq))
}

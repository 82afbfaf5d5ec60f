package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streams"

// Metrics holds the Prometheus counters, histograms, and gauges for the download service.
type Metrics struct {
	// Session metrics.
	Logins             *prometheus.CounterVec // labels: outcome={success,unauthenticated,error}
	ActiveSessions     prometheus.Gauge
	HydroShareDuration *prometheus.HistogramVec // labels: method={GET,POST}

	// Download metrics.
	Downloads        *prometheus.CounterVec // labels: outcome={success,bad_request,unauthenticated,error}
	DownloadDuration prometheus.Histogram
	ArchiveBytes     prometheus.Histogram

	// Dataset read metrics.
	DatasetReads        *prometheus.CounterVec   // labels: dataset, outcome={success,error}
	DatasetReadDuration *prometheus.HistogramVec // labels: dataset
	SchemaCache         *prometheus.CounterVec   // labels: result={hit,miss}
	SchemaFallbacks     prometheus.Counter

	// Event publishing metrics.
	EventsPublished *prometheus.CounterVec // labels: outcome={success,error}
	ServiceReady    prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := NewUnregisteredMetrics()
	prometheus.MustRegister(m.Collectors()...)
	return m
}

// NewUnregisteredMetrics creates the service metrics without registering
// them. Processes that never serve /metrics, such as the CLI, use it.
func NewUnregisteredMetrics() *Metrics {
	return &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently held in the session store.",
		}),
		HydroShareDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hydroshare_request_duration_seconds",
			Help:      "HydroShare credentials API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download requests by outcome.",
		}, []string{"outcome"}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of a complete archive assembly.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ArchiveBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_bytes",
			Help:      "Size of assembled zip archives in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		DatasetReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_reads_total",
			Help:      "Filtered dataset reads by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		DatasetReadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dataset_read_duration_seconds",
			Help:      "Duration of one filtered dataset read.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"dataset"}),
		SchemaCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_cache_total",
			Help:      "Time column type cache lookups by result.",
		}, []string{"result"}),
		SchemaFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_fallbacks_total",
			Help:      "Time filters built with timestamp literals after schema inspection failed.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Download events published to Kafka by outcome.",
		}, []string{"outcome"}),
		ServiceReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_ready",
			Help:      "1 when the service accepts requests, 0 once shutdown begins.",
		}),
	}
}

// Collectors lists every metric for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Logins,
		m.ActiveSessions,
		m.HydroShareDuration,
		m.Downloads,
		m.DownloadDuration,
		m.ArchiveBytes,
		m.DatasetReads,
		m.DatasetReadDuration,
		m.SchemaCache,
		m.SchemaFallbacks,
		m.EventsPublished,
		m.ServiceReady,
	}
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewUnregisteredMetrics()
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used as the "reason" label of MessagesDropped.
const (
	ReasonClassification = "classification"
	ReasonMalformed      = "malformed_payload"
	ReasonPersist        = "persist"
	ReasonPanic          = "panic"
	ReasonQueueClosed    = "queue_closed"
)

// Metrics holds the collectors exported by the services. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived   *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	ReadingsPersisted  *prometheus.CounterVec
	PersistErrors      prometheus.Counter
	NotificationsSent  prometheus.Counter
	NotifyErrors       prometheus.Counter
	QueueDepth         prometheus.Gauge
	ConnectionState    prometheus.Gauge
	BreakerState       prometheus.Gauge
	WriteLatency       prometheus.Histogram
	QueryRequests      *prometheus.CounterVec
	DirectoryRefreshes *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_messages_received_total", Help: "MQTT messages received, by classified device type.",
		}, []string{"device_type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_messages_dropped_total", Help: "Messages dropped before persistence, by reason.",
		}, []string{"reason"}),
		ReadingsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_readings_persisted_total", Help: "Readings written to the store, by device type.",
		}, []string{"device_type"}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_persist_errors_total", Help: "Store writes that failed or were rejected by the breaker.",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_refresh_notifications_total", Help: "Dashboard refresh signals published.",
		}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_refresh_notification_errors_total", Help: "Dashboard refresh signals that failed to publish.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_queue_depth", Help: "Messages waiting for a worker.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_mqtt_connection_state", Help: "MQTT state: 0=disconnected,1=connecting,2=connected,3=subscribed",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_store_breaker_state", Help: "Store circuit breaker state: 0=closed,1=half-open,2=open",
		}),
		WriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_store_write_seconds",
			Help:    "Latency of reading writes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		QueryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_query_requests_total", Help: "Read API queries, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		DirectoryRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_directory_refreshes_total", Help: "Bike/device directory refreshes, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesReceived,
		m.MessagesDropped,
		m.ReadingsPersisted,
		m.PersistErrors,
		m.NotificationsSent,
		m.NotifyErrors,
		m.QueueDepth,
		m.ConnectionState,
		m.BreakerState,
		m.WriteLatency,
		m.QueryRequests,
		m.DirectoryRefreshes,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

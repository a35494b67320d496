// Package metrics defines the proxy's Prometheus metric set and the HTTP
// server exposing /metrics and the health endpoints over a chi router.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the pipeline and broker clients record
// against, built once at startup and passed down by reference.
type Registry struct {
	MessagesTotal          *prometheus.CounterVec
	QuarantineRecordsTotal *prometheus.CounterVec
	SchemaValidationsTotal *prometheus.CounterVec
	BrokerReconnectsTotal  *prometheus.CounterVec

	ValidationDuration *prometheus.HistogramVec
	ForwardDuration    prometheus.Histogram

	QueueDepth      prometheus.Gauge
	QuarantineBytes prometheus.Gauge
	BrokerConnected *prometheus.GaugeVec
	UptimeSeconds   prometheus.Gauge

	startedAt time.Time
}

// NewRegistry constructs and registers every metric against reg (pass
// prometheus.NewRegistry() for isolated tests, prometheus.DefaultRegisterer
// in production).
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	r := &Registry{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttgov_messages_total",
			Help: "Messages processed by the pipeline, by outcome.",
		}, []string{"status"}),
		QuarantineRecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttgov_quarantine_records_total",
			Help: "Messages quarantined, by reason.",
		}, []string{"reason"}),
		SchemaValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttgov_schema_validations_total",
			Help: "Schema validations performed, by schema id and result.",
		}, []string{"schema_id", "result"}),
		BrokerReconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttgov_broker_reconnects_total",
			Help: "Broker reconnect attempts, by role.",
		}, []string{"role"}),
		ValidationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqttgov_validation_duration_seconds",
			Help:    "Time spent validating a payload against its bound schema.",
			Buckets: prometheus.DefBuckets,
		}, []string{"schema_id"}),
		ForwardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqttgov_forward_duration_seconds",
			Help:    "Time spent publishing a message to the upstream broker.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mqttgov_queue_depth",
			Help: "Current depth of the pipeline's internal message buffer.",
		}),
		QuarantineBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mqttgov_quarantine_bytes",
			Help: "Total bytes currently held in the quarantine blob store.",
		}),
		BrokerConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqttgov_broker_connected",
			Help: "1 if the broker connection for this role is up, else 0.",
		}, []string{"role"}),
		UptimeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mqttgov_uptime_seconds",
			Help: "Seconds since the proxy process started.",
		}),
		startedAt: time.Now(),
	}
	return r
}

// RecordForwarded marks one message as successfully forwarded and records
// the time spent doing so.
func (r *Registry) RecordForwarded(d time.Duration) {
	r.MessagesTotal.WithLabelValues("forwarded").Inc()
	r.ForwardDuration.Observe(d.Seconds())
}

// RecordQuarantined marks one message as quarantined for reason.
func (r *Registry) RecordQuarantined(reason string) {
	r.MessagesTotal.WithLabelValues("quarantined").Inc()
	r.QuarantineRecordsTotal.WithLabelValues(reason).Inc()
}

// RecordValidation records one schema validation outcome and its duration.
func (r *Registry) RecordValidation(schemaID string, violated bool, d time.Duration) {
	result := "pass"
	if violated {
		result = "fail"
	}
	r.SchemaValidationsTotal.WithLabelValues(schemaID, result).Inc()
	r.ValidationDuration.WithLabelValues(schemaID).Observe(d.Seconds())
}

// RecordReconnect marks one reconnect attempt for role.
func (r *Registry) RecordReconnect(role string) {
	r.BrokerReconnectsTotal.WithLabelValues(role).Inc()
}

// SetBrokerConnected records whether role's connection is currently up.
func (r *Registry) SetBrokerConnected(role string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	r.BrokerConnected.WithLabelValues(role).Set(v)
}

// Tick refreshes point-in-time gauges; call periodically from a
// background goroutine.
func (r *Registry) Tick() {
	r.UptimeSeconds.Set(time.Since(r.startedAt).Seconds())
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every device agent collector and is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// BrokerConnectivityStatus is 1 while a broker session is up.
	BrokerConnectivityStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cpeer_device_broker_connectivity_status",
			Help: "The connectivity status to the MQTT broker (1=Connected, 0=Disconnected).",
		},
	)

	// ReadinessConditions exposes the readiness gate bitmask.
	ReadinessConditions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cpeer_device_readiness_conditions",
			Help: "Bitmask of asserted readiness conditions.",
		},
	)

	SupervisorTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpeer_device_supervisor_transitions_total",
			Help: "Total number of connection supervisor state transitions.",
		},
		[]string{"from", "to"},
	)

	// TokensIssuedTotal counts issuance attempts. result: success/failed
	TokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpeer_device_tokens_issued_total",
			Help: "Total number of broker credentials issued.",
		},
		[]string{"result"},
	)

	ConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpeer_device_connect_attempts_total",
			Help: "Total number of broker connection attempts.",
		},
		[]string{"result"},
	)

	ConnectLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cpeer_device_connect_latency_seconds",
			Help:    "Latency of establishing a broker session.",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpeer_device_publish_total",
			Help: "Total number of messages published to the broker.",
		},
		[]string{"suffix", "result"},
	)

	// FailuresTotal counts recorded failures by kind.
	FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpeer_device_failures_total",
			Help: "Total number of recorded connectivity failures.",
		},
		[]string{"kind"},
	)

	FailureCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cpeer_device_failure_count",
			Help: "Consecutive failures since the last acknowledged publish.",
		},
	)

	FailureMask = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cpeer_device_failure_mask",
			Help: "Bitmask of failure kinds since the last acknowledged publish.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BrokerConnectivityStatus,
		ReadinessConditions,
		SupervisorTransitionsTotal,
		TokensIssuedTotal,
		ConnectAttemptsTotal,
		ConnectLatency,
		PublishTotal,
		FailuresTotal,
		FailureCount,
		FailureMask,
	)
}

package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsemesh",
			Subsystem: "broadcast",
			Name:      "messages_sent_total",
			Help:      "Facts handed to the transport, by kind.",
		},
		[]string{"kind"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsemesh",
			Subsystem: "broadcast",
			Name:      "messages_received_total",
			Help:      "Facts decoded off the transport, by kind.",
		},
		[]string{"kind"},
	)
	decodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulsemesh",
			Subsystem: "broadcast",
			Name:      "decode_failures_total",
			Help:      "Inbound payloads dropped as malformed.",
		},
	)
	handlerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulsemesh",
			Subsystem: "broadcast",
			Name:      "handler_failures_total",
			Help:      "Callback panics recovered by the dispatcher.",
		},
	)
	heartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulsemesh",
			Subsystem: "broadcast",
			Name:      "heartbeat_failures_total",
			Help:      "Heartbeat sends swallowed as best-effort.",
		},
	)
	activePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulsemesh",
			Subsystem: "broadcast",
			Name:      "active_peers",
			Help:      "Participants within the liveness timeout.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsemesh",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulsemesh",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesSent,
			messagesReceived,
			decodeFailures,
			handlerFailures,
			heartbeatFailures,
			activePeers,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordMessageSent(kind string) {
	RegisterMetrics()
	messagesSent.WithLabelValues(kind).Inc()
}

func RecordMessageReceived(kind string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(kind).Inc()
}

func RecordDecodeFailure() {
	RegisterMetrics()
	decodeFailures.Inc()
}

func RecordHandlerFailure() {
	RegisterMetrics()
	handlerFailures.Inc()
}

func RecordHeartbeatFailure() {
	RegisterMetrics()
	heartbeatFailures.Inc()
}

func SetActivePeers(n int) {
	RegisterMetrics()
	activePeers.Set(float64(n))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

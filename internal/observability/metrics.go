package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "canlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	busFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "bus",
			Name:      "frames_total",
			Help:      "Frames moved through the transport by direction and sequence.",
		},
		[]string{"node", "direction", "sequence"},
	)
	reassemblyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "reassembly",
			Name:      "outcomes_total",
			Help:      "Reassembly table outcomes per data frame.",
		},
		[]string{"node", "outcome"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Completed messages offered to the dispatch registry.",
		},
		[]string{"node", "type", "result"},
	)
	sendAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "ack",
			Name:      "transmissions_total",
			Help:      "Full fragment-sequence transmissions of acknowledgment-tracked messages.",
		},
		[]string{"node", "type"},
	)
	sendResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "send",
			Name:      "messages_total",
			Help:      "Outbound messages by result.",
		},
		[]string{"node", "type", "result"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "canlink",
			Subsystem: "send",
			Name:      "duration_seconds",
			Help:      "Time from first transmission to acknowledgment or failure.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .2, .4, .8, 1.6},
		},
		[]string{"node", "type", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			busFrames, reassemblyOutcomes, dispatches,
			sendAttempts, sendResults, sendDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(node, direction, sequence string) {
	RegisterMetrics()
	busFrames.WithLabelValues(node, direction, sequence).Inc()
}

func RecordReassembly(node, outcome string) {
	RegisterMetrics()
	reassemblyOutcomes.WithLabelValues(node, outcome).Inc()
}

func RecordDispatch(node string, typeID uint8, result string) {
	RegisterMetrics()
	dispatches.WithLabelValues(node, strconv.Itoa(int(typeID)), result).Inc()
}

func RecordTransmission(node string, typeID uint8) {
	RegisterMetrics()
	sendAttempts.WithLabelValues(node, strconv.Itoa(int(typeID))).Inc()
}

func RecordSend(node string, typeID uint8, result string, duration time.Duration) {
	RegisterMetrics()
	typeLabel := strconv.Itoa(int(typeID))
	sendResults.WithLabelValues(node, typeLabel, result).Inc()
	sendDuration.WithLabelValues(node, typeLabel, result).Observe(duration.Seconds())
}

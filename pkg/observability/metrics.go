// Package observability exposes the Prometheus collectors shared across
// the coordination core, plus the HTTP handler that serves them.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent counts outbound messages by type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eyewear",
		Subsystem: "broker",
		Name:      "messages_sent_total",
		Help:      "Messages delivered by the broker, by message type.",
	}, []string{"type"})

	// MessagesReceived counts inbound messages by type.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eyewear",
		Subsystem: "broker",
		Name:      "messages_received_total",
		Help:      "Messages dispatched to handlers, by message type.",
	}, []string{"type"})

	// RequestTimeouts counts requests that expired before a response
	// arrived.
	RequestTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eyewear",
		Subsystem: "broker",
		Name:      "request_timeouts_total",
		Help:      "Requests that timed out waiting for a response.",
	})

	// QueueDepth tracks pending messages per agent queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "eyewear",
		Subsystem: "transport",
		Name:      "queue_depth",
		Help:      "Pending messages in each agent queue.",
	}, []string{"agent"})

	// RoutingLatency measures end-to-end routing LLM call duration.
	RoutingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eyewear",
		Subsystem: "orchestrator",
		Name:      "routing_seconds",
		Help:      "Routing model call latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// Turns counts chat turns by outcome.
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eyewear",
		Subsystem: "orchestrator",
		Name:      "turns_total",
		Help:      "Chat turns processed, by outcome.",
	}, []string{"outcome"})
)

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

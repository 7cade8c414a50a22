// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatusTransitions counts session status changes by target status.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openairtc_status_transitions_total",
			Help: "Total session status transitions",
		},
		[]string{"status"},
	)

	// InboundEvents counts dispatched server events by type.
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openairtc_inbound_events_total",
			Help: "Total server events received on the event channel",
		},
		[]string{"type"},
	)

	// OutboundEvents counts client events written to the event channel.
	OutboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openairtc_outbound_events_total",
			Help: "Total client events sent on the event channel",
		},
		[]string{"type"},
	)

	// DroppedMessages counts inbound payloads and audio that were discarded.
	DroppedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openairtc_dropped_messages_total",
			Help: "Total inbound messages dropped",
		},
		[]string{"reason"},
	)

	// ConnectDuration tracks how long connection attempts take to settle.
	ConnectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openairtc_connect_duration_seconds",
			Help:    "Connection attempt duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"result"},
	)

	// ConnectedSessions tracks sessions currently connected.
	ConnectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openairtc_connected_sessions",
			Help: "Number of connected sessions",
		},
	)
)

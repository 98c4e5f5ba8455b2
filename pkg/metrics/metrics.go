// Package metrics registers the Prometheus collectors exported by every
// core component. Collectors are package-level; components record through
// the helpers so label sets stay consistent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts events pulled off the stream, by decision.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "dispatch",
		Name:      "events_processed_total",
		Help:      "Events consumed from the stream, labeled by decision.",
	}, []string{"decision"})

	// AgentFailures counts detection agent errors and timeouts.
	AgentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "dispatch",
		Name:      "agent_failures_total",
		Help:      "Detection agent invocations that errored or timed out.",
	}, []string{"agent"})

	// DetectionConfidence observes the aggregated confidence per event.
	DetectionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hornet",
		Subsystem: "dispatch",
		Name:      "detection_confidence",
		Help:      "Aggregated max detection confidence per event.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// PhaseTransitions counts incident FSM transitions.
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "fsm",
		Name:      "phase_transitions_total",
		Help:      "Incident state transitions, labeled by from and to state.",
	}, []string{"from", "to"})

	// PhaseDuration observes wall time spent per FSM phase.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hornet",
		Subsystem: "fsm",
		Name:      "phase_duration_seconds",
		Help:      "Wall time per incident phase.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"phase"})

	// IncidentsClosed counts terminal incidents by outcome.
	IncidentsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "fsm",
		Name:      "incidents_closed_total",
		Help:      "Incidents reaching CLOSED, labeled by outcome.",
	}, []string{"outcome"})

	// TokensConsumed counts LLM tokens attributed to incidents.
	TokensConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "fsm",
		Name:      "tokens_consumed_total",
		Help:      "Agent-reported tokens charged against incident budgets.",
	})

	// ActionsExecuted counts executor action terminations.
	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "executor",
		Name:      "actions_executed_total",
		Help:      "Actions reaching a terminal status, labeled by status.",
	}, []string{"status"})

	// RetryAttempts counts retry handler invocations by result.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Retry handler invocations, labeled by result.",
	}, []string{"result"})

	// DLQDepth gauges the dead-letter queue size observed by the aging job.
	DLQDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hornet",
		Subsystem: "retry",
		Name:      "dlq_depth",
		Help:      "Dead-lettered jobs at the last aging sweep.",
	})

	// CampaignsDetected counts correlator campaign confirmations.
	CampaignsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "correlator",
		Name:      "campaigns_detected_total",
		Help:      "Campaign confirmations by the correlator.",
	})

	// WebsocketConnections gauges live sockets per channel kind.
	WebsocketConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hornet",
		Subsystem: "realtime",
		Name:      "websocket_connections",
		Help:      "Open WebSocket connections, labeled by channel.",
	}, []string{"channel"})

	// HTTPRequests counts API requests by method, route, and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "API requests, labeled by method, route, and status.",
	}, []string{"method", "route", "status"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hornet",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-tenant rate limiter.",
	}, []string{"tier"})
)

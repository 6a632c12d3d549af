// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics holds the Prometheus collectors shared by the worker,
// takconn, and governor packages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the core registers.
type Metrics struct {
	PollDuration    *prometheus.HistogramVec
	PollsTotal      *prometheus.CounterVec
	LocationsFetched *prometheus.HistogramVec

	QueueDepth      *prometheus.GaugeVec
	QueueDrops      *prometheus.CounterVec
	ConnectionState *prometheus.GaugeVec
	ReconnectsTotal *prometheus.CounterVec

	GovernorDecisions  *prometheus.CounterVec
	GovernorFallbacks  *prometheus.CounterVec
	CircuitState       *prometheus.GaugeVec

	WorkerStateGauge *prometheus.GaugeVec
}

// New builds and registers every collector under namespace. Pass ""
// to use the package default namespace "trakbridge".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trakbridge"
	}

	return &Metrics{
		PollDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Duration of a single ProviderClient.Fetch call",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stream_id", "provider_kind", "status"},
		),

		PollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Total number of stream polling ticks",
			},
			[]string{"stream_id", "provider_kind", "status"},
		),

		LocationsFetched: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "locations_fetched",
				Help:      "Number of locations returned per fetch",
				Buckets:   []float64{0, 1, 5, 10, 50, 100, 300, 1000},
			},
			[]string{"stream_id"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of queued events per TAK connection",
			},
			[]string{"server_id"},
		),

		QueueDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_drops_total",
				Help:      "Total number of events dropped by queue overflow policy",
			},
			[]string{"server_id", "policy"},
		),

		ConnectionState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "Current TakConnection state (0=Disconnected,1=Connecting,2=Connected,3=Draining,4=Closed)",
			},
			[]string{"server_id"},
		),

		ReconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Total number of reconnect attempts per TAK connection",
			},
			[]string{"server_id"},
		),

		GovernorDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "governor_decisions_total",
				Help:      "Total number of serial/parallel batch decisions",
			},
			[]string{"mode"},
		),

		GovernorFallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "governor_fallbacks_total",
				Help:      "Total number of parallel-to-serial fallbacks",
			},
			[]string{"reason"},
		),

		CircuitState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "governor_circuit_state",
				Help:      "Current circuit breaker state (0=closed,1=open,2=half_open)",
			},
			[]string{},
		),

		WorkerStateGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_state",
				Help:      "Current stream worker state (0=running,1=degraded,2=failed,3=stopped)",
			},
			[]string{"stream_id"},
		),
	}
}

// RecordPoll records one polling tick's duration and location count.
func (m *Metrics) RecordPoll(streamID, providerKind, status string, d time.Duration, locations int) {
	m.PollDuration.WithLabelValues(streamID, providerKind, status).Observe(d.Seconds())
	m.PollsTotal.WithLabelValues(streamID, providerKind, status).Inc()
	m.LocationsFetched.WithLabelValues(streamID).Observe(float64(locations))
}

// RecordQueueDrop increments the drop counter for the given server and policy.
func (m *Metrics) RecordQueueDrop(serverID, policy string) {
	m.QueueDrops.WithLabelValues(serverID, policy).Inc()
}

// SetQueueDepth records the current queued-event count for a server.
func (m *Metrics) SetQueueDepth(serverID string, depth int) {
	m.QueueDepth.WithLabelValues(serverID).Set(float64(depth))
}

// SetConnectionState records a TakConnection's numeric state.
func (m *Metrics) SetConnectionState(serverID string, state int) {
	m.ConnectionState.WithLabelValues(serverID).Set(float64(state))
}

// RecordReconnect increments the reconnect counter for a server.
func (m *Metrics) RecordReconnect(serverID string) {
	m.ReconnectsTotal.WithLabelValues(serverID).Inc()
}

// RecordGovernorDecision increments the serial/parallel decision counter.
func (m *Metrics) RecordGovernorDecision(mode string) {
	m.GovernorDecisions.WithLabelValues(mode).Inc()
}

// RecordGovernorFallback increments the fallback-reason counter.
func (m *Metrics) RecordGovernorFallback(reason string) {
	m.GovernorFallbacks.WithLabelValues(reason).Inc()
}

// SetCircuitState records the governor circuit breaker's numeric state.
func (m *Metrics) SetCircuitState(state int) {
	m.CircuitState.WithLabelValues().Set(float64(state))
}

// SetWorkerState records a stream worker's numeric state.
func (m *Metrics) SetWorkerState(streamID string, state int) {
	m.WorkerStateGauge.WithLabelValues(streamID).Set(float64(state))
}

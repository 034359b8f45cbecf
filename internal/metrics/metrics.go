// Package metrics exposes Prometheus instrumentation for polling and agent
// dispatch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "intake"

// Agent call outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeOpen    = "circuit_open"
)

// Recorder holds the service's metric vectors.
type Recorder struct {
	pollObservations *prometheus.CounterVec
	pollOutcomes     *prometheus.CounterVec
	agentCalls       *prometheus.CounterVec
	agentDuration    *prometheus.HistogramVec
	dispatchDuration prometheus.Histogram
}

// NewRecorder registers the metric vectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	auto := promauto.With(reg)
	return &Recorder{
		pollObservations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_observations_total",
			Help:      "Status observations made while polling extraction jobs, by state.",
		}, []string{"state"}),
		pollOutcomes: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_outcomes_total",
			Help:      "Finished polls by outcome reason.",
		}, []string{"reason"}),
		agentCalls: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Agent calls by agent and outcome.",
		}, []string{"agent", "outcome"}),
		agentDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Agent call latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"agent"}),
		dispatchDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of a full agent fan-out.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}

// Nop returns a recorder bound to a throwaway registry.
func Nop() *Recorder {
	return NewRecorder(prometheus.NewRegistry())
}

// PollObserved counts one status observation.
func (r *Recorder) PollObserved(state string) {
	r.pollObservations.WithLabelValues(state).Inc()
}

// PollFinished counts a finished poll. An empty reason is counted as
// "completed".
func (r *Recorder) PollFinished(reason string) {
	if reason == "" {
		reason = "completed"
	}
	r.pollOutcomes.WithLabelValues(reason).Inc()
}

// AgentCall records one agent call.
func (r *Recorder) AgentCall(agent, outcome string, d time.Duration) {
	r.agentCalls.WithLabelValues(agent, outcome).Inc()
	r.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// Dispatch records one fan-out.
func (r *Recorder) Dispatch(d time.Duration) {
	r.dispatchDuration.Observe(d.Seconds())
}

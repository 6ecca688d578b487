package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "matchday"

var (
	Allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "allocations_total",
		Help:      "Allocation attempts by outcome",
	}, []string{"outcome"})

	ServerProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "server_probes_total",
		Help:      "Liveness probes by result",
	}, []string{"result"})

	ActivePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "active_pollers",
		Help:      "Matches waiting for a free server",
	})

	VetoActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "veto",
		Name:      "actions_total",
		Help:      "Committed veto actions by action type",
	}, []string{"action"})

	Progressions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "progression",
		Name:      "operations_total",
		Help:      "Progression operations by step and outcome",
	}, []string{"step", "outcome"})

	BackgroundTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "completed_total",
		Help:      "Background tasks by name and outcome",
	}, []string{"task", "outcome"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "received_total",
		Help:      "Game server events by type",
	}, []string{"event"})
)

// Outcome labels shared by the counters above.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

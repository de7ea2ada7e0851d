package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values of anvil_executions_total.
const (
	outcomeSuccess      = "success"
	outcomeTruncated    = "truncated"
	outcomeCancelled    = "cancelled"
	outcomeUnresponsive = "unresponsive"
)

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_executions_total",
			Help: "Total number of template executions by outcome.",
		},
		[]string{"outcome"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anvil_execution_duration_seconds",
			Help:    "Time from admission to result of template executions.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"engine"},
	)

	poolInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_pool_in_flight",
			Help: "Executions admitted to the pool that are queued or running.",
		},
	)

	rejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_rejected_total",
			Help: "Executions rejected because every worker was busy and the queue was full.",
		},
	)

	unresponsiveTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_unresponsive_total",
			Help: "Renders that did not stop after they were asked to and whose workers were abandoned.",
		},
	)
)

func init() {
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(executionDuration)
	prometheus.MustRegister(poolInFlight)
	prometheus.MustRegister(rejectedTotal)
	prometheus.MustRegister(unresponsiveTotal)
}

package route

import "github.com/prometheus/client_golang/prometheus"

var (
	outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konnectd",
		Subsystem: "router",
		Name:      "outcomes_total",
		Help:      "Per-destination delivery outcomes.",
	}, []string{"outcome"})

	sendErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konnectd",
		Subsystem: "router",
		Name:      "send_errors_total",
		Help:      "Send failures by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(outcomesTotal, sendErrorsTotal)
}

package ws

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "konnectd_ws_sessions",
		Help: "Number of live websocket sessions.",
	})

	kickoffsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "konnectd_ws_kickoffs_total",
		Help: "Number of sessions kicked off by the per-identity quota.",
	})

	mailboxDrainsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "konnectd_ws_mailbox_drains_total",
		Help: "Number of mailbox drain batches emitted.",
	})
)

func init() {
	prometheus.MustRegister(sessionsGauge, kickoffsTotal, mailboxDrainsTotal)
}

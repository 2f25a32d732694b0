package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

var announcementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "konnectd_ingest_announcements_total",
	Help: "Number of announcement deliveries routed from kafka.",
})

func init() {
	prometheus.MustRegister(announcementsTotal)
}

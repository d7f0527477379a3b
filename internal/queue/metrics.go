package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	Depth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Approximate number of ready jobs per kind",
		},
		[]string{"kind"},
	)
	ProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Total jobs processed grouped by status",
		},
		[]string{"kind", "status"},
	)
	DLQSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_dlq_size",
			Help: "Number of jobs parked in the DLQ",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(Depth, ProcessedTotal, DLQSize)
}

package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transition_total",
			Help: "Count of breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)
)

func init() {
	prometheus.MustRegister(BreakerTransitions)
}

package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors are registered on the default registry so the /metrics
// endpoint exposes them next to the HTTP and calculation metrics.
var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erp_breaker_state",
			Help: "Current breaker state per collaborator: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_breaker_transition_total",
			Help: "Count of breaker state transitions per collaborator",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_breaker_open_total",
			Help: "Number of times a collaborator breaker opened",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}

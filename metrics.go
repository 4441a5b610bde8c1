package trackauth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels
const (
	outcomeSuccess = "success"
)

// Metrics counts gateway operations. A nil *Metrics records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trackauth",
			Name:      "operations_total",
			Help:      "Auth operations by outcome. Failures are labelled with their error kind.",
		}, []string{"operation", "outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trackauth",
			Name:      "login_rate_limited_total",
			Help:      "Login attempts rejected by the rate limiter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.rateLimited)
	}
	return m
}

func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spadesk"

var (
	once sync.Once

	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Count of scheduling mutations by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_rejections_total",
			Help:      "Count of rejected mutations by reason.",
		},
		[]string{"reason"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Count of status actions by action and result.",
		},
		[]string{"action", "result"},
	)

	deposits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_operations_total",
			Help:      "Count of deposit operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by route.",
		},
		[]string{"route"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2},
		},
		[]string{"route"},
	)

	lockFallback = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lock_fallback_active",
			Help:      "1 while mutation locks are served by the local fallback.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(mutations, rejections, transitions, deposits, httpRequests, httpDuration, lockFallback)
	})
}

func IncMutation(kind, outcome string) {
	mutations.WithLabelValues(kind, outcome).Inc()
}

func IncRejection(reason string) {
	rejections.WithLabelValues(reason).Inc()
}

func IncTransition(action, result string) {
	transitions.WithLabelValues(action, result).Inc()
}

func IncDeposit(operation, result string) {
	deposits.WithLabelValues(operation, result).Inc()
}

func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}

func ObserveHTTP(route string, seconds float64) {
	httpDuration.WithLabelValues(route).Observe(seconds)
}

func SetLockFallback(active bool) {
	if active {
		lockFallback.Set(1)
		return
	}
	lockFallback.Set(0)
}

package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SessionInitiateTotal counts payment session initiation outcomes.
	SessionInitiateTotal *prometheus.CounterVec
	// SettlementTotal counts settlement outcomes (committed, already_settled, pending, ...).
	SettlementTotal *prometheus.CounterVec
	// TokenRefreshTotal counts gateway credential refresh attempts.
	TokenRefreshTotal *prometheus.CounterVec
	// GatewayCallLatency records outbound gateway call latency in milliseconds.
	GatewayCallLatency *prometheus.HistogramVec
	// NotifyDeliveriesTotal tracks confirmation dispatch outcomes.
	NotifyDeliveriesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SessionInitiateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_initiate_total",
			Help:      "Count of payment session initiation outcomes.",
		}, []string{"result"})
		SettlementTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_settlement_total",
			Help:      "Count of settlement outcomes.",
		}, []string{"result"})
		TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_token_refresh_total",
			Help:      "Count of gateway credential refresh attempts by outcome.",
		}, []string{"result"})
		GatewayCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_ms",
			Help:      "Latency for outbound gateway calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"op", "result"})
		NotifyDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_deliveries_total",
			Help:      "Count of confirmation delivery outcomes.",
		}, []string{"result"})
		mustRegisterCollector(reg, SessionInitiateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SessionInitiateTotal = v
			}
		})
		mustRegisterCollector(reg, SettlementTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SettlementTotal = v
			}
		})
		mustRegisterCollector(reg, TokenRefreshTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TokenRefreshTotal = v
			}
		})
		mustRegisterCollector(reg, GatewayCallLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				GatewayCallLatency = v
			}
		})
		mustRegisterCollector(reg, NotifyDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				NotifyDeliveriesTotal = v
			}
		})
	})
}

package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics groups Prometheus collectors for HTTP observability.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers and returns HTTP metrics collectors.
func NewHTTPMetrics(namespace string, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &HTTPMetrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	reg.MustRegister(m.ReqTotal, m.ReqDur, m.InFlight)
	return m
}

var (
	domainOnce sync.Once

	// GeocodeResolveTotal counts geocoder resolutions by result source.
	GeocodeResolveTotal *prometheus.CounterVec
	// DeliveryQuoteTotal counts delivery quotes by outcome and cache hit.
	DeliveryQuoteTotal *prometheus.CounterVec
	// PromoEvaluateTotal counts promotion rule evaluations by kind and outcome.
	PromoEvaluateTotal *prometheus.CounterVec
	// CartReconcileDropTotal counts cart lines dropped during reconciliation by reason.
	CartReconcileDropTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		GeocodeResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_resolve_total",
			Help:      "Count of geocoder resolutions by source (provider, fallback, default).",
		}, []string{"source"})
		DeliveryQuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_quote_total",
			Help:      "Count of delivery quotes by outcome and cache status.",
		}, []string{"outcome", "cache"})
		PromoEvaluateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_evaluate_total",
			Help:      "Count of promotion rule evaluations by kind and outcome.",
		}, []string{"kind", "outcome"})
		CartReconcileDropTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_reconcile_drop_total",
			Help:      "Count of cart lines dropped during reconciliation by reason.",
		}, []string{"reason"})
		reg.MustRegister(GeocodeResolveTotal, DeliveryQuoteTotal, PromoEvaluateTotal, CartReconcileDropTotal)
	})
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brewline/api/internal/domain"
)

const defaultMetricsNamespace = "brewline"

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latencyMS *prometheus.HistogramVec

	ordersCreated   *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
	pickupsIssued   *prometheus.CounterVec
	stockDeductions *prometheus.CounterVec
}

// NewMetrics registers HTTP and order collectors on a dedicated registry under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultMetricsNamespace
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		latencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Orders created, by store.",
		}, []string{"store"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Order status transitions.",
		}, []string{"from", "to"}),
		pickupsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "pickup_numbers_issued_total",
			Help:      "Pickup numbers allocated, by store.",
		}, []string{"store"}),
		stockDeductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "deductions_total",
			Help:      "Stock deduction runs by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latencyMS,
		m.ordersCreated,
		m.statusChanges,
		m.pickupsIssued,
		m.stockDeductions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OrderCreated counts a newly created order.
func (m *Metrics) OrderCreated(storeID string) {
	m.ordersCreated.WithLabelValues(storeID).Inc()
}

// OrderStatusChanged counts a status transition.
func (m *Metrics) OrderStatusChanged(from, to domain.OrderStatus) {
	m.statusChanges.WithLabelValues(string(from), string(to)).Inc()
}

// PickupAllocated counts an issued pickup number.
func (m *Metrics) PickupAllocated(storeID string) {
	m.pickupsIssued.WithLabelValues(storeID).Inc()
}

// StockDeduction counts a deduction run by its outcome.
func (m *Metrics) StockDeduction(outcome domain.StockDeductionStatus) {
	m.stockDeductions.WithLabelValues(string(outcome)).Inc()
}

// MetricsMiddleware records request counts and latency per chi route pattern; unmatched paths are
// counted under a single "unmatched" route.
func (m *Metrics) MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := newResponseRecorder(w)
			start := time.Now()
			defer func() {
				route := metricRoute(r)
				m.requests.WithLabelValues(route, clean(r.Method, methodLimit), strconv.Itoa(recorder.Status())).Inc()
				m.latencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1000)
			}()
			next.ServeHTTP(recorder, r)
		})
	}
}

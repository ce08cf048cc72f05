package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/memcrypt/console-gateway/services/audit"
	"github.com/memcrypt/console-gateway/services/membership"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
)

const namespace = "console_gateway"

// KeySetStats exposes the state of the identity provider key set
type KeySetStats interface {
	Loaded() bool
	Fetches() int64
}

// AuditStats exposes the audit queue counters
type AuditStats interface {
	GetStats() audit.Stats
}

// CacheStats exposes the membership cache counters
type CacheStats interface {
	Stats() membership.CacheStats
}

// Metrics holds the gateway's Prometheus collectors on a private registry.
// It satisfies middleware.AccessMetrics.
type Metrics struct {
	registry *prometheus.Registry

	authentications  *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	breakerState     *prometheus.GaugeVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		authentications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_total",
			Help:      "Credential checks by outcome",
		}, []string{"outcome"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Access decisions by outcome and deny reason",
		}, []string{"decision", "reason"}),
		decisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_decision_duration_seconds",
			Help:      "Time spent evaluating the rule table, predicates included",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"breaker"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry backing the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAuthentication counts one credential check
func (m *Metrics) ObserveAuthentication(outcome string) {
	m.authentications.WithLabelValues(outcome).Inc()
}

// ObserveDecision counts one access decision. reason is empty for allows.
func (m *Metrics) ObserveDecision(decision, reason string, elapsed time.Duration) {
	m.decisions.WithLabelValues(decision, reason).Inc()
	m.decisionDuration.Observe(elapsed.Seconds())
}

// ObserveBreakerState records a breaker transition. Its signature matches
// the keycloak breaker's OnStateChange hook.
func (m *Metrics) ObserveBreakerState(name string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// RegisterKeySet exports key set state, read at scrape time
func (m *Metrics) RegisterKeySet(keys KeySetStats) {
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jwks_loaded",
		Help:      "1 once the identity provider key set has been fetched",
	}, func() float64 {
		if keys.Loaded() {
			return 1
		}
		return 0
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jwks_fetches_total",
		Help:      "Key set fetch attempts",
	}, func() float64 {
		return float64(keys.Fetches())
	})
}

// RegisterAudit exports the audit queue counters, read at scrape time
func (m *Metrics) RegisterAudit(src AuditStats) {
	factory := promauto.With(m.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_written_total",
		Help:      "Denial audit events persisted",
	}, func() float64 {
		return float64(src.GetStats().Written)
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_dropped_total",
		Help:      "Denial audit events dropped because the buffer was full",
	}, func() float64 {
		return float64(src.GetStats().Dropped)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_events_pending",
		Help:      "Denial audit events waiting in the buffer",
	}, func() float64 {
		return float64(src.GetStats().PendingEvents)
	})
}

// RegisterMembershipCache exports membership cache counters, read at scrape time
func (m *Metrics) RegisterMembershipCache(src CacheStats) {
	factory := promauto.With(m.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "membership_cache_hits_total",
		Help:      "Membership lookups served from cache",
	}, func() float64 {
		return float64(src.Stats().Hits)
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "membership_cache_misses_total",
		Help:      "Membership lookups that went to the database",
	}, func() float64 {
		return float64(src.Stats().Misses)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "membership_cache_entries",
		Help:      "Current number of cached memberships",
	}, func() float64 {
		return float64(src.Stats().Size)
	})
}

// Middleware records request count and latency per chi route pattern.
// Unmatched paths share the "unmatched" label to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

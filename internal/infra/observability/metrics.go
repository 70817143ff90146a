package observability

import (
	"time"

	"github.com/conectados/conectados-api/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conectados_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conectados_external_errors_total",
				Help: "Total errors from the record store and external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conectados_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conectados_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		registrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conectados_registrations_total",
				Help: "Registration submissions by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		duplicates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conectados_duplicates_blocked_total",
				Help: "Registrations blocked by the duplicate scan.",
			},
			[]string{"classification"},
		),
		reconciles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conectados_reconcile_runs_total",
				Help: "Referral counter reconciliation runs by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.storeErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrRegistration counts a registration attempt (kind: member|friend, outcome: success|invalid|capacity|error).
func (m *Metrics) IncrRegistration(kind, outcome string) {
	m.registrations.WithLabelValues(kind, outcome).Inc()
}

// IncrDuplicate counts a duplicate block.
func (m *Metrics) IncrDuplicate(outcome domain.DuplicateOutcome) {
	m.duplicates.WithLabelValues(string(outcome)).Inc()
}

// IncrReconcile counts a reconcile run (outcome: ok|skipped|failed).
func (m *Metrics) IncrReconcile(outcome string) {
	m.reconciles.WithLabelValues(outcome).Inc()
}

// Snapshot returns the registration counters suitable for GET /v1/admin/metrics.
func (m *Metrics) Snapshot() *domain.RegistrationMetrics {
	failed := int64(0)
	for _, kind := range []string{domain.ResultMember, domain.ResultFriend} {
		failed += int64(getCounterValue(m.registrations, kind, "error"))
	}

	return &domain.RegistrationMetrics{
		MembersRegistered:   int64(getCounterValue(m.registrations, domain.ResultMember, "success")),
		FriendsRegistered:   int64(getCounterValue(m.registrations, domain.ResultFriend, "success")),
		RegistrationsFailed: failed,
		DuplicatesSame:      int64(getCounterValue(m.duplicates, string(domain.DuplicateBlockedSameCampaign))),
		DuplicatesCross:     int64(getCounterValue(m.duplicates, string(domain.DuplicateBlockedCrossCampaign))),
		CapacityRejected:    int64(getCounterValue(m.registrations, domain.ResultMember, "capacity")),
		ReconcileOK:         int64(getCounterValue(m.reconciles, "ok")),
		ReconcileFailed:     int64(getCounterValue(m.reconciles, "failed")),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

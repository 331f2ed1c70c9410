package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

var recommendationKinds = []domain.RecommendationKind{
	domain.KindSmartRetry,
	domain.KindMandateRenewal,
	domain.KindPaymentDateShift,
	domain.KindPaymentSplit,
	domain.KindProactiveAlert,
	domain.KindUpsellOrCostOptimization,
	domain.KindChurnOutreach,
	domain.KindManualContact,
}

// Metrics holds all Prometheus metrics for the risk engine.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	evaluationDuration prometheus.Histogram
	evaluations        *prometheus.CounterVec
	mandates           *prometheus.CounterVec
	recommendations    *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	storeErrors        *prometheus.CounterVec
	collections        prometheus.Counter
	requestDuration    *prometheus.HistogramVec
}

// NewMetrics creates a dedicated registry so repeated construction in tests
// never collides on collector names.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		evaluationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "risk_engine_evaluation_duration_seconds",
				Help:    "Duration of engine evaluation runs.",
				Buckets: prometheus.DefBuckets,
			},
		),
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_engine_evaluations_total",
				Help: "Total evaluation runs by outcome.",
			},
			[]string{"outcome"},
		),
		mandates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_engine_mandates_total",
				Help: "Total mandates processed by result.",
			},
			[]string{"result"},
		),
		recommendations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_engine_recommendations_total",
				Help: "Total recommendations emitted by kind.",
			},
			[]string{"kind"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_engine_cache_hits_total",
				Help: "Total result cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_engine_cache_misses_total",
				Help: "Total result cache misses.",
			},
			[]string{"cache"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_engine_store_errors_total",
				Help: "Total errors from the history store and cache.",
			},
			[]string{"store"},
		),
		collections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "risk_engine_collections_recorded_total",
				Help: "Total collection events appended to the log.",
			},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "risk_engine_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// ObserveEvaluation records one engine run.
func (m *Metrics) ObserveEvaluation(d time.Duration, evaluated, rejected int, partial bool) {
	m.evaluationDuration.Observe(d.Seconds())
	outcome := "complete"
	if partial {
		outcome = "partial"
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	m.mandates.WithLabelValues("evaluated").Add(float64(evaluated))
	m.mandates.WithLabelValues("rejected").Add(float64(rejected))
}

// ObserveRecommendation counts one emitted recommendation.
func (m *Metrics) ObserveRecommendation(kind domain.RecommendationKind) {
	m.recommendations.WithLabelValues(string(kind)).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrStoreError increments the store error counter.
func (m *Metrics) IncrStoreError(store string) {
	m.storeErrors.WithLabelValues(store).Inc()
}

// IncrCollections counts appended collection events.
func (m *Metrics) IncrCollections(n int) {
	m.collections.Add(float64(n))
}

// RecordRequest records the duration of an HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Snapshot returns cumulative engine metrics for the JSON metrics endpoint.
func (m *Metrics) Snapshot() *domain.EngineMetrics {
	complete := getCounterValue(m.evaluations, "complete")
	partial := getCounterValue(m.evaluations, "partial")
	hits := getCounterValue(m.cacheHits, "evaluation")
	misses := getCounterValue(m.cacheMisses, "evaluation")

	recs := make(map[domain.RecommendationKind]int64, len(recommendationKinds))
	for _, kind := range recommendationKinds {
		if n := getCounterValue(m.recommendations, string(kind)); n > 0 {
			recs[kind] = int64(n)
		}
	}

	avgMs := float64(0)
	h := &dto.Metric{}
	if err := m.evaluationDuration.(prometheus.Metric).Write(h); err == nil && h.Histogram != nil {
		if count := h.Histogram.GetSampleCount(); count > 0 {
			avgMs = h.Histogram.GetSampleSum() / float64(count) * 1000
		}
	}

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.EngineMetrics{
		Evaluations:         int64(complete + partial),
		PartialEvaluations:  int64(partial),
		MandatesEvaluated:   int64(getCounterValue(m.mandates, "evaluated")),
		MandatesRejected:    int64(getCounterValue(m.mandates, "rejected")),
		AvgEvaluationMs:     avgMs,
		Recommendations:     recs,
		CacheHitRate:        hitRate,
		StoreErrors:         int64(getCounterValue(m.storeErrors, "postgres") + getCounterValue(m.storeErrors, "redis")),
		CollectionsRecorded: int64(counterValue(m.collections)),
		Period:              "all_time",
	}
}

// getCounterValue extracts the current value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return counterValue(cv.WithLabelValues(label))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

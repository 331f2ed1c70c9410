package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/pkg/response"
)

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RedisPinger wraps a redis ping so the handler does not depend on the client type.
type RedisPinger func(ctx context.Context) error

type HealthHandler struct {
	db      Pinger
	redis   RedisPinger
	timeout time.Duration
}

func NewHealthHandler(db Pinger, redis RedisPinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{
		db:      db,
		redis:   redis,
		timeout: timeout,
	}
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health performs a basic health check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string),
	}

	response.Success(w, status)
}

// Ready performs readiness check including database and redis connectivity
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		status.Status = "error"
		status.Checks["database"] = "failed: " + err.Error()
	} else {
		status.Checks["database"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis(ctx); err != nil {
			// The cache is optional: evaluations still run without it.
			status.Checks["redis"] = "degraded: " + err.Error()
		} else {
			status.Checks["redis"] = "ok"
		}
	}

	if status.Status == "error" {
		response.JSON(w, http.StatusServiceUnavailable, status)
		return
	}

	response.Success(w, status)
}

// Snapshotter is implemented by observability.Metrics.
type Snapshotter interface {
	Snapshot() *domain.EngineMetrics
}

type MetricsHandler struct {
	metrics  Snapshotter
	registry *prometheus.Registry
}

func NewMetricsHandler(metrics Snapshotter, registry *prometheus.Registry) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, registry: registry}
}

// Engine serves the JSON metrics snapshot
func (h *MetricsHandler) Engine(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.metrics.Snapshot())
}

// Prometheus serves the registry in exposition format
func (h *MetricsHandler) Prometheus() http.Handler {
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
}

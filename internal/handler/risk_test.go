package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	customError "github.com/segyhp/payment-risk-engine/pkg/errors"
	"github.com/segyhp/payment-risk-engine/tests/mocks"
)

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(svc EvaluationService) *mux.Router {
	r := mux.NewRouter()
	NewRiskHandler(svc).RegisterRoutes(r.PathPrefix("/api/v1").Subrouter())
	return r
}

func serve(r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestRiskHandler_PortfolioSummary(t *testing.T) {
	svc := mocks.NewMockEvaluationService()
	asOf := time.Date(2026, 8, 25, 23, 59, 59, 0, time.UTC)
	svc.On("EvaluatePortfolio", mock.Anything, asOf).Return(&domain.EvaluationResult{
		AsOf: asOf,
		Summary: domain.PortfolioSummary{
			Evaluated:     3,
			Rejected:      1,
			MonthlyVolume: decimal.NewFromInt(1540),
		},
	}, nil)

	rec := serve(newRouter(svc), http.MethodGet, "/api/v1/portfolio/summary?as_of=2026-08-25", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var summary domain.PortfolioSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 1, summary.Rejected)
	assert.True(t, summary.MonthlyVolume.Equal(decimal.NewFromInt(1540)))
	svc.AssertExpectations(t)
}

func TestRiskHandler_AsOfParsing(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		asOf   time.Time
		status int
	}{
		{name: "omitted", query: "", asOf: time.Time{}, status: http.StatusOK},
		{name: "timestamp", query: "?as_of=2026-08-25T14:00:00%2B02:00", asOf: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC), status: http.StatusOK},
		{name: "bare date", query: "?as_of=2026-08-25", asOf: time.Date(2026, 8, 25, 23, 59, 59, 0, time.UTC), status: http.StatusOK},
		{name: "garbage", query: "?as_of=yesterday", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := mocks.NewMockEvaluationService()
			if tt.status == http.StatusOK {
				svc.On("EvaluatePayer", mock.Anything, "payer-1", tt.asOf).Return(&domain.EvaluationResult{AsOf: tt.asOf}, nil)
			}

			rec := serve(newRouter(svc), http.MethodGet, "/api/v1/payers/payer-1/evaluation"+tt.query, nil)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusBadRequest {
				assert.Equal(t, customError.ErrCodeValidation, decodeEnvelope(t, rec).Code)
				svc.AssertNotCalled(t, "EvaluatePayer", mock.Anything, mock.Anything, mock.Anything)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestRiskHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		target string
		setup  func(*mocks.MockEvaluationService)
		status int
		code   string
	}{
		{
			name:   "unknown payer",
			target: "/api/v1/payers/ghost/evaluation",
			setup: func(m *mocks.MockEvaluationService) {
				m.On("EvaluatePayer", mock.Anything, "ghost", time.Time{}).Return(nil, customError.WrapPayerNotFound("ghost"))
			},
			status: http.StatusNotFound,
			code:   customError.ErrCodePayerNotFound,
		},
		{
			name:   "unknown mandate",
			target: "/api/v1/mandates/ghost/evaluation",
			setup: func(m *mocks.MockEvaluationService) {
				m.On("GetMandateEvaluation", mock.Anything, "ghost", time.Time{}).Return(nil, customError.WrapMandateNotFound("ghost"))
			},
			status: http.StatusNotFound,
			code:   customError.ErrCodeMandateNotFound,
		},
		{
			name:   "store failure",
			target: "/api/v1/portfolio/evaluation",
			setup: func(m *mocks.MockEvaluationService) {
				m.On("EvaluatePortfolio", mock.Anything, time.Time{}).Return(nil, customError.WrapDatabaseError(errors.New("connection refused")))
			},
			status: http.StatusInternalServerError,
			code:   customError.ErrCodeDatabaseError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := mocks.NewMockEvaluationService()
			tt.setup(svc)

			rec := serve(newRouter(svc), http.MethodGet, tt.target, nil)

			assert.Equal(t, tt.status, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestRiskHandler_RecordCollections(t *testing.T) {
	event := domain.CollectionEvent{
		MandateID:   "energy",
		AttemptedAt: time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC),
		Outcome:     domain.OutcomeReturned,
		ReturnCode:  "AM04",
		Amount:      decimal.NewFromInt(145),
	}

	t.Run("created", func(t *testing.T) {
		svc := mocks.NewMockEvaluationService()
		stored := event
		stored.ID = 42
		svc.On("RecordCollections", mock.Anything, mock.MatchedBy(func(req domain.RecordCollectionsRequest) bool {
			return len(req.Events) == 1 && req.Events[0].ReturnCode == "AM04"
		})).Return([]domain.CollectionEvent{stored}, nil)

		rec := serve(newRouter(svc), http.MethodPost, "/api/v1/collections",
			domain.RecordCollectionsRequest{Events: []domain.CollectionEvent{event}})

		require.Equal(t, http.StatusCreated, rec.Code)
		var body domain.RecordCollectionsResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
		require.Len(t, body.Events, 1)
		assert.Equal(t, int64(42), body.Events[0].ID)
		svc.AssertExpectations(t)
	})

	t.Run("empty batch", func(t *testing.T) {
		svc := mocks.NewMockEvaluationService()

		rec := serve(newRouter(svc), http.MethodPost, "/api/v1/collections", domain.RecordCollectionsRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "RecordCollections", mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := mocks.NewMockEvaluationService()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/collections", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()

		newRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "RecordCollections", mock.Anything, mock.Anything)
	})
}

func TestRiskHandler_RegisterMandate(t *testing.T) {
	svc := mocks.NewMockEvaluationService()
	mandate := domain.Mandate{
		ID:           "energy",
		PayerID:      "payer-1",
		Amount:       decimal.NewFromInt(145),
		ScheduledDay: 15,
		Category:     domain.CategoryUtilities,
		SignedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	svc.On("RegisterMandate", mock.Anything, mock.AnythingOfType("*domain.Mandate")).Return(nil)

	rec := serve(newRouter(svc), http.MethodPost, "/api/v1/mandates", mandate)

	assert.Equal(t, http.StatusCreated, rec.Code)
	svc.AssertExpectations(t)
}

func TestRiskHandler_RecordBalance(t *testing.T) {
	svc := mocks.NewMockEvaluationService()
	asOf := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	svc.On("RecordBalance", mock.Anything, "payer-1", mock.MatchedBy(func(req domain.BalanceRequest) bool {
		return req.Balance.Equal(decimal.NewFromInt(320)) && req.AsOf.Equal(asOf)
	})).Return(nil)

	rec := serve(newRouter(svc), http.MethodPut, "/api/v1/payers/payer-1/balance",
		domain.BalanceRequest{Balance: decimal.NewFromInt(320), AsOf: asOf})

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestRiskHandler_MethodNotAllowed(t *testing.T) {
	svc := mocks.NewMockEvaluationService()

	rec := serve(newRouter(svc), http.MethodDelete, "/api/v1/collections", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(context.Context) error {
	return p.err
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name     string
		db       error
		redis    error
		status   int
		database string
		cache    string
	}{
		{name: "all healthy", status: http.StatusOK, database: "ok", cache: "ok"},
		{name: "cache down", redis: errors.New("dial tcp: refused"), status: http.StatusOK, database: "ok", cache: "degraded: dial tcp: refused"},
		{name: "database down", db: errors.New("timeout"), status: http.StatusServiceUnavailable, database: "failed: timeout", cache: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			redisErr := tt.redis
			h := NewHealthHandler(fakePinger{err: tt.db}, func(context.Context) error { return redisErr }, time.Second)
			rec := httptest.NewRecorder()

			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.status, rec.Code)
			var status HealthStatus
			require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &status))
			assert.Equal(t, tt.database, status.Checks["database"])
			assert.Equal(t, tt.cache, status.Checks["redis"])
		})
	}
}

type stubSnapshot struct{}

func (stubSnapshot) Snapshot() *domain.EngineMetrics {
	return &domain.EngineMetrics{
		Evaluations:     4,
		CacheHitRate:    0.5,
		Recommendations: map[domain.RecommendationKind]int64{domain.KindSmartRetry: 2},
		Period:          "since start",
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "risk_engine_sample_total", Help: "sample"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewMetricsHandler(stubSnapshot{}, reg)

	t.Run("engine snapshot", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Engine(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/engine", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var snap domain.EngineMetrics
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &snap))
		assert.Equal(t, int64(4), snap.Evaluations)
		assert.Equal(t, int64(2), snap.Recommendations[domain.KindSmartRetry])
	})

	t.Run("prometheus exposition", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Prometheus().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "risk_engine_sample_total 1")
	})
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	customError "github.com/segyhp/payment-risk-engine/pkg/errors"
	"github.com/segyhp/payment-risk-engine/pkg/response"
)

// EvaluationService is implemented by service.EvaluationService.
type EvaluationService interface {
	Evaluate(ctx context.Context, in domain.EvaluationInput) (*domain.EvaluationResult, error)
	EvaluatePortfolio(ctx context.Context, asOf time.Time) (*domain.EvaluationResult, error)
	EvaluatePayer(ctx context.Context, payerID string, asOf time.Time) (*domain.EvaluationResult, error)
	GetMandateEvaluation(ctx context.Context, mandateID string, asOf time.Time) (*domain.MandateEvaluation, error)
	RegisterMandate(ctx context.Context, mandate *domain.Mandate) error
	RecordCollections(ctx context.Context, req domain.RecordCollectionsRequest) ([]domain.CollectionEvent, error)
	RecordIncome(ctx context.Context, income *domain.IncomeEvent) error
	RecordBalance(ctx context.Context, payerID string, req domain.BalanceRequest) error
	ListRecommendations(ctx context.Context, payerID string) ([]domain.Recommendation, error)
}

type RiskHandler struct {
	service   EvaluationService
	validator *validator.Validate
}

func NewRiskHandler(service EvaluationService) *RiskHandler {
	return &RiskHandler{
		service:   service,
		validator: domain.NewValidator(),
	}
}

// RegisterRoutes mounts the risk API under r.
func (h *RiskHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/evaluations", h.Evaluate).Methods(http.MethodPost)
	r.HandleFunc("/portfolio/evaluation", h.EvaluatePortfolio).Methods(http.MethodGet)
	r.HandleFunc("/portfolio/summary", h.PortfolioSummary).Methods(http.MethodGet)
	r.HandleFunc("/payers/{payerID}/evaluation", h.EvaluatePayer).Methods(http.MethodGet)
	r.HandleFunc("/payers/{payerID}/recommendations", h.ListRecommendations).Methods(http.MethodGet)
	r.HandleFunc("/payers/{payerID}/balance", h.RecordBalance).Methods(http.MethodPut)
	r.HandleFunc("/mandates", h.RegisterMandate).Methods(http.MethodPost)
	r.HandleFunc("/mandates/{mandateID}/evaluation", h.GetMandateEvaluation).Methods(http.MethodGet)
	r.HandleFunc("/collections", h.RecordCollections).Methods(http.MethodPost)
	r.HandleFunc("/income", h.RecordIncome).Methods(http.MethodPost)
}

// Evaluate runs the engine over the posted portfolio without using the store
func (h *RiskHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var in domain.EvaluationInput
	if err := decode(r, &in); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	res, err := h.service.Evaluate(r.Context(), in)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, res)
}

// EvaluatePortfolio evaluates every stored mandate
func (h *RiskHandler) EvaluatePortfolio(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	res, err := h.service.EvaluatePortfolio(r.Context(), asOf)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, res)
}

// PortfolioSummary returns only the aggregate figures of the portfolio evaluation
func (h *RiskHandler) PortfolioSummary(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	res, err := h.service.EvaluatePortfolio(r.Context(), asOf)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, res.Summary)
}

func (h *RiskHandler) EvaluatePayer(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	res, err := h.service.EvaluatePayer(r.Context(), mux.Vars(r)["payerID"], asOf)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, res)
}

func (h *RiskHandler) GetMandateEvaluation(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	view, err := h.service.GetMandateEvaluation(r.Context(), mux.Vars(r)["mandateID"], asOf)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, view)
}

func (h *RiskHandler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.ListRecommendations(r.Context(), mux.Vars(r)["payerID"])
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, recs)
}

func (h *RiskHandler) RegisterMandate(w http.ResponseWriter, r *http.Request) {
	var mandate domain.Mandate
	if err := decode(r, &mandate); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	if err := h.service.RegisterMandate(r.Context(), &mandate); err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, mandate)
}

func (h *RiskHandler) RecordCollections(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordCollectionsRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.FromError(w, customError.WrapValidation(err))
		return
	}

	events, err := h.service.RecordCollections(r.Context(), req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, domain.RecordCollectionsResponse{Events: events})
}

func (h *RiskHandler) RecordIncome(w http.ResponseWriter, r *http.Request) {
	var income domain.IncomeEvent
	if err := decode(r, &income); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	if err := h.service.RecordIncome(r.Context(), &income); err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, income)
}

func (h *RiskHandler) RecordBalance(w http.ResponseWriter, r *http.Request) {
	var req domain.BalanceRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	if err := h.service.RecordBalance(r.Context(), mux.Vars(r)["payerID"], req); err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, req)
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// parseAsOf reads the optional as_of query parameter. A bare date means the
// last second of that day.
func parseAsOf(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, customError.WrapValidation(
			customError.NewValidationError("", "as_of", "must be a date or RFC 3339 timestamp", err))
	}
	return t.AddDate(0, 0, 1).Add(-time.Second), nil
}

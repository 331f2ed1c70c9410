package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/segyhp/payment-risk-engine/internal/config"
	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/internal/engine"
	"github.com/segyhp/payment-risk-engine/internal/recommend"
	"github.com/segyhp/payment-risk-engine/internal/repository"
	customError "github.com/segyhp/payment-risk-engine/pkg/errors"
)

var tracer = otel.Tracer("service/evaluation")

// incomeLookback covers a year of income so the dominant income day is stable.
const incomeLookback = 400 * 24 * time.Hour

// Metrics is the subset of observability.Metrics the service records to.
type Metrics interface {
	IncrCacheHit(cache string)
	IncrCacheMiss(cache string)
	IncrStoreError(store string)
	IncrCollections(n int)
}

type nopMetrics struct{}

func (nopMetrics) IncrCacheHit(string)   {}
func (nopMetrics) IncrCacheMiss(string)  {}
func (nopMetrics) IncrStoreError(string) {}
func (nopMetrics) IncrCollections(int)   {}

// Repositories groups the history store ports.
type Repositories struct {
	Mandates        repository.MandateRepository
	Collections     repository.CollectionRepository
	Income          repository.IncomeRepository
	Balances        repository.BalanceRepository
	Recommendations repository.RecommendationRepository
}

type EvaluationService struct {
	repos    Repositories
	cache    repository.ResultCache
	engine   *engine.Engine
	config   *config.Config
	logger   *zap.Logger
	metrics  Metrics
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*EvaluationService)

// WithCache enables the result cache. Without it every call evaluates.
func WithCache(cache repository.ResultCache) Option {
	return func(s *EvaluationService) {
		s.cache = cache
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *EvaluationService) {
		s.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *EvaluationService) {
		s.metrics = m
	}
}

// WithClock replaces time.Now as the default evaluation date.
func WithClock(now func() time.Time) Option {
	return func(s *EvaluationService) {
		s.now = now
	}
}

func NewEvaluationService(repos Repositories, eng *engine.Engine, cfg *config.Config, opts ...Option) *EvaluationService {
	s := &EvaluationService{
		repos:    repos,
		engine:   eng,
		config:   cfg,
		logger:   zap.NewNop(),
		metrics:  nopMetrics{},
		validate: domain.NewValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate runs the engine over caller-supplied data without touching the store.
func (s *EvaluationService) Evaluate(ctx context.Context, in domain.EvaluationInput) (*domain.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "EvaluationService.Evaluate")
	defer span.End()

	if in.AsOf.IsZero() {
		in.AsOf = s.now().UTC()
	}
	res, err := s.engine.Evaluate(ctx, in)
	if err != nil && res == nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err != nil {
		s.logger.Warn("evaluation interrupted", zap.Error(err), zap.Int("completed", len(res.Assessments)))
	}
	return res, nil
}

// EvaluatePortfolio evaluates every stored mandate as of asOf (today when zero).
func (s *EvaluationService) EvaluatePortfolio(ctx context.Context, asOf time.Time) (*domain.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "EvaluationService.EvaluatePortfolio")
	defer span.End()

	asOf = s.asOf(asOf)
	key := repository.PortfolioCacheKey(asOf)
	if cached, ok := s.cached(ctx, key); ok {
		return cached, nil
	}

	mandates, err := s.repos.Mandates.List(ctx)
	if err != nil {
		return nil, s.dbError(ctx, err)
	}

	res, err := s.run(ctx, mandates, asOf)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("mandates", len(mandates)),
		attribute.Int("recommendations", len(res.Recommendations)),
	)

	s.store(ctx, key, res)
	return res, nil
}

// EvaluatePayer evaluates all mandates of one payer.
func (s *EvaluationService) EvaluatePayer(ctx context.Context, payerID string, asOf time.Time) (*domain.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "EvaluationService.EvaluatePayer")
	defer span.End()
	span.SetAttributes(attribute.String("payer.id", payerID))

	asOf = s.asOf(asOf)
	key := repository.PayerCacheKey(payerID, asOf)
	if cached, ok := s.cached(ctx, key); ok {
		return cached, nil
	}

	mandates, err := s.repos.Mandates.ListByPayer(ctx, payerID)
	if err != nil {
		return nil, s.dbError(ctx, err)
	}
	if len(mandates) == 0 {
		return nil, customError.WrapPayerNotFound(payerID)
	}

	res, err := s.run(ctx, mandates, asOf)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.store(ctx, key, res)
	return res, nil
}

// GetMandateEvaluation returns one mandate's slice of its payer's evaluation.
func (s *EvaluationService) GetMandateEvaluation(ctx context.Context, mandateID string, asOf time.Time) (*domain.MandateEvaluation, error) {
	ctx, span := tracer.Start(ctx, "EvaluationService.GetMandateEvaluation")
	defer span.End()
	span.SetAttributes(attribute.String("mandate.id", mandateID))

	mandate, err := s.repos.Mandates.GetByID(ctx, mandateID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.WrapMandateNotFound(mandateID)
	}
	if err != nil {
		return nil, s.dbError(ctx, err)
	}

	res, err := s.EvaluatePayer(ctx, mandate.PayerID, asOf)
	if err != nil {
		return nil, err
	}

	assessment, ok := res.AssessmentFor(mandateID)
	if !ok {
		// Stored mandates that fail boundary validation show up as rejections.
		for _, r := range res.Rejections {
			if r.MandateID == mandateID {
				return nil, customError.WrapValidation(errors.New(r.Reason))
			}
		}
		return nil, customError.WrapMandateNotFound(mandateID)
	}

	view := &domain.MandateEvaluation{
		AsOf:            res.AsOf,
		Mandate:         *mandate,
		Status:          res.Statuses[mandateID],
		Assessment:      assessment,
		Recommendations: []domain.Recommendation{},
	}
	for i := range res.RetryPlans {
		if res.RetryPlans[i].MandateID == mandateID {
			plan := res.RetryPlans[i]
			view.RetryPlan = &plan
		}
	}
	for _, rec := range res.Recommendations {
		if rec.MandateID == mandateID {
			view.Recommendations = append(view.Recommendations, rec)
		}
	}
	return view, nil
}

// RegisterMandate validates and stores a mandate.
func (s *EvaluationService) RegisterMandate(ctx context.Context, mandate *domain.Mandate) error {
	ctx, span := tracer.Start(ctx, "EvaluationService.RegisterMandate")
	defer span.End()

	if err := s.engine.ValidateMandate(*mandate); err != nil {
		return customError.WrapValidation(err)
	}
	if mandate.CreatedAt.IsZero() {
		mandate.CreatedAt = s.now().UTC()
	}
	if err := s.repos.Mandates.Upsert(ctx, mandate); err != nil {
		return s.dbError(ctx, err)
	}

	s.invalidate(ctx, mandate.PayerID)
	return nil
}

// RecordCollections appends events to the collection log. The whole request
// is rejected when any event is invalid or names an unknown mandate.
func (s *EvaluationService) RecordCollections(ctx context.Context, req domain.RecordCollectionsRequest) ([]domain.CollectionEvent, error) {
	ctx, span := tracer.Start(ctx, "EvaluationService.RecordCollections")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, customError.WrapValidation(err)
	}

	payers := make(map[string]bool)
	owner := make(map[string]string)
	events := make([]*domain.CollectionEvent, 0, len(req.Events))
	for i := range req.Events {
		ev := req.Events[i]
		if err := s.engine.ValidateEvent(ev); err != nil {
			return nil, customError.WrapValidation(err)
		}
		if _, seen := owner[ev.MandateID]; !seen {
			m, err := s.repos.Mandates.GetByID(ctx, ev.MandateID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, customError.WrapValidation(customError.NewValidationError(
					ev.MandateID, "mandate_id", "references an unknown mandate", customError.ErrUnknownMandate))
			}
			if err != nil {
				return nil, s.dbError(ctx, err)
			}
			owner[ev.MandateID] = m.PayerID
		}
		payers[owner[ev.MandateID]] = true
		events = append(events, &ev)
	}

	if err := s.repos.Collections.Append(ctx, events); err != nil {
		return nil, s.dbError(ctx, err)
	}
	s.metrics.IncrCollections(len(events))

	for payerID := range payers {
		s.invalidate(ctx, payerID)
	}

	stored := make([]domain.CollectionEvent, 0, len(events))
	for _, ev := range events {
		stored = append(stored, *ev)
	}
	return stored, nil
}

// RecordIncome stores an expected income event.
func (s *EvaluationService) RecordIncome(ctx context.Context, income *domain.IncomeEvent) error {
	ctx, span := tracer.Start(ctx, "EvaluationService.RecordIncome")
	defer span.End()

	if err := s.validate.Struct(income); err != nil {
		return customError.WrapValidation(err)
	}
	if err := s.repos.Income.Create(ctx, income); err != nil {
		return s.dbError(ctx, err)
	}

	s.invalidate(ctx, income.PayerID)
	return nil
}

// RecordBalance stores the latest observed balance of a payer.
func (s *EvaluationService) RecordBalance(ctx context.Context, payerID string, req domain.BalanceRequest) error {
	ctx, span := tracer.Start(ctx, "EvaluationService.RecordBalance")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return customError.WrapValidation(err)
	}
	if err := s.repos.Balances.Upsert(ctx, payerID, req.Balance, req.AsOf); err != nil {
		return s.dbError(ctx, err)
	}

	s.invalidate(ctx, payerID)
	return nil
}

// ListRecommendations returns the recommendations stored by the last evaluation.
func (s *EvaluationService) ListRecommendations(ctx context.Context, payerID string) ([]domain.Recommendation, error) {
	ctx, span := tracer.Start(ctx, "EvaluationService.ListRecommendations")
	defer span.End()

	recs, err := s.repos.Recommendations.ListByPayer(ctx, payerID)
	if err != nil {
		return nil, s.dbError(ctx, err)
	}
	return recs, nil
}

// run loads history for mandates, evaluates, and persists recommendations.
func (s *EvaluationService) run(ctx context.Context, mandates []domain.Mandate, asOf time.Time) (*domain.EvaluationResult, error) {
	ids := make([]string, 0, len(mandates))
	var payerIDs []string
	seen := make(map[string]bool)
	for _, m := range mandates {
		ids = append(ids, m.ID)
		if !seen[m.PayerID] {
			seen[m.PayerID] = true
			payerIDs = append(payerIDs, m.PayerID)
		}
	}

	events, err := s.repos.Collections.ListByMandates(ctx, ids, asOf)
	if err != nil {
		return nil, s.dbError(ctx, err)
	}
	horizon := time.Duration(s.config.Engine.ForecastHorizonDays) * 24 * time.Hour
	income, err := s.repos.Income.ListByPayers(ctx, payerIDs, asOf.Add(-incomeLookback), asOf.Add(horizon))
	if err != nil {
		return nil, s.dbError(ctx, err)
	}
	balances, err := s.repos.Balances.GetByPayers(ctx, payerIDs)
	if err != nil {
		return nil, s.dbError(ctx, err)
	}

	res, err := s.engine.Evaluate(ctx, domain.EvaluationInput{
		Mandates: mandates,
		Events:   events,
		Income:   income,
		Balances: balances,
		AsOf:     asOf,
	})
	if res == nil {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("evaluation interrupted",
			zap.Error(err),
			zap.Int("completed", len(res.Assessments)),
			zap.Int("mandates", len(mandates)),
		)
	}

	s.persistRecommendations(ctx, mandates, res)
	return res, nil
}

// persistRecommendations merges the fresh set into each payer's stored set.
// Mandates that did not complete keep their previous recommendations.
func (s *EvaluationService) persistRecommendations(ctx context.Context, mandates []domain.Mandate, res *domain.EvaluationResult) {
	if s.repos.Recommendations == nil {
		return
	}

	payerOf := make(map[string]string, len(mandates))
	var payerIDs []string
	for _, m := range mandates {
		if _, ok := payerOf[m.PayerID]; !ok {
			payerIDs = append(payerIDs, m.PayerID)
		}
		payerOf[m.ID] = m.PayerID
		payerOf[m.PayerID] = m.PayerID
	}

	fresh := make(map[string][]domain.Recommendation)
	for _, rec := range res.Recommendations {
		payerID := payerOf[rec.TargetID]
		fresh[payerID] = append(fresh[payerID], rec)
	}
	reevaluated := make(map[string][]string)
	for _, a := range res.Assessments {
		payerID := payerOf[a.MandateID]
		reevaluated[payerID] = append(reevaluated[payerID], a.MandateID)
	}
	for _, r := range res.Rejections {
		if payerID, ok := payerOf[r.MandateID]; ok {
			reevaluated[payerID] = append(reevaluated[payerID], r.MandateID)
		}
	}

	for _, payerID := range payerIDs {
		if len(reevaluated[payerID]) == 0 {
			continue
		}
		previous, err := s.repos.Recommendations.ListByPayer(ctx, payerID)
		if err != nil {
			s.storeWarning("recommendations not loaded", payerID, err)
			continue
		}
		targets := append(reevaluated[payerID], payerID)
		merged := recommend.Merge(previous, fresh[payerID], targets...)
		if err := s.repos.Recommendations.ReplaceForPayer(ctx, payerID, merged); err != nil {
			s.storeWarning("recommendations not stored", payerID, err)
		}
	}
}

func (s *EvaluationService) storeWarning(msg, payerID string, err error) {
	s.metrics.IncrStoreError("postgres")
	s.logger.Warn(msg, zap.String("payer_id", payerID), zap.Error(err))
}

func (s *EvaluationService) asOf(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return s.now().UTC()
	}
	return asOf
}

func (s *EvaluationService) cached(ctx context.Context, key string) (*domain.EvaluationResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	res, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		s.metrics.IncrCacheHit("evaluation")
		return res, true
	case errors.Is(err, repository.ErrCacheMiss):
		s.metrics.IncrCacheMiss("evaluation")
	default:
		s.metrics.IncrCacheMiss("evaluation")
		s.metrics.IncrStoreError("redis")
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(customError.WrapCacheError(err)))
	}
	return nil, false
}

// store caches complete results only.
func (s *EvaluationService) store(ctx context.Context, key string, res *domain.EvaluationResult) {
	if s.cache == nil || res.Partial {
		return
	}
	if err := s.cache.Set(ctx, key, res); err != nil {
		s.metrics.IncrStoreError("redis")
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(customError.WrapCacheError(err)))
	}
}

func (s *EvaluationService) invalidate(ctx context.Context, payerID string) {
	if s.cache == nil {
		return
	}
	err := s.cache.Invalidate(ctx, repository.PayerCachePattern(payerID), repository.PortfolioCachePattern())
	if err != nil {
		s.metrics.IncrStoreError("redis")
		s.logger.Warn("cache invalidation failed", zap.String("payer_id", payerID), zap.Error(customError.WrapCacheError(err)))
	}
}

func (s *EvaluationService) dbError(ctx context.Context, err error) error {
	s.metrics.IncrStoreError("postgres")
	trace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
	return customError.WrapDatabaseError(err)
}

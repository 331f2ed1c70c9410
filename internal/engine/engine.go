// Package engine is the evaluation facade: it validates a portfolio, runs
// classify, score, forecast, retry and recommend for every mandate on a
// bounded worker pool and reduces the results into one EvaluationResult.
package engine

import (
	"context"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/segyhp/payment-risk-engine/internal/classifier"
	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/internal/forecast"
	"github.com/segyhp/payment-risk-engine/internal/recommend"
	"github.com/segyhp/payment-risk-engine/internal/retry"
	"github.com/segyhp/payment-risk-engine/internal/scoring"
	pkgerrors "github.com/segyhp/payment-risk-engine/pkg/errors"
)

var tracer = otel.Tracer("engine")

// Settings aggregates the component settings. Workers <= 0 means GOMAXPROCS.
type Settings struct {
	Scoring   scoring.Settings
	Forecast  forecast.Settings
	Retry     retry.Settings
	Recommend recommend.Settings
	Workers   int
}

func DefaultSettings() Settings {
	return Settings{
		Scoring:   scoring.DefaultSettings(),
		Forecast:  forecast.DefaultSettings(),
		Retry:     retry.DefaultSettings(),
		Recommend: recommend.DefaultSettings(),
	}
}

// Recorder receives evaluation metrics.
type Recorder interface {
	ObserveEvaluation(d time.Duration, evaluated, rejected int, partial bool)
	ObserveRecommendation(kind domain.RecommendationKind)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvaluation(time.Duration, int, int, bool) {}
func (nopRecorder) ObserveRecommendation(domain.RecommendationKind) {}

// Engine holds no per-run state and is safe for concurrent Evaluate calls.
type Engine struct {
	settings   Settings
	classifier *classifier.Classifier
	scorer     *scoring.Scorer
	forecaster *forecast.Forecaster
	optimizer  *retry.Optimizer
	generator  *recommend.Generator
	validate   *validator.Validate
	logger     *zap.Logger
	metrics    Recorder
	churn      scoring.ChurnModel
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(r Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

// WithChurnModel replaces the logistic churn transform.
func WithChurnModel(m scoring.ChurnModel) Option {
	return func(e *Engine) {
		e.churn = m
	}
}

func New(settings Settings, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		logger:   zap.NewNop(),
		metrics:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}

	var scorerOpts []scoring.Option
	if e.churn != nil {
		scorerOpts = append(scorerOpts, scoring.WithChurnModel(e.churn))
	}
	e.classifier = classifier.New()
	e.scorer = scoring.NewScorer(settings.Scoring, e.classifier, scorerOpts...)
	e.forecaster = forecast.New(settings.Forecast)
	e.optimizer = retry.New(settings.Retry)
	e.generator = recommend.New(settings.Recommend)
	e.validate = domain.NewValidator()
	return e
}

// ChurnThreshold is the configured outreach threshold.
func (e *Engine) ChurnThreshold() float64 {
	return e.generator.ChurnThreshold()
}

type mandateResult struct {
	assessment domain.RiskAssessment
	status     domain.MandateStatus
	plan       *domain.RetryPlan
	recs       []domain.Recommendation
}

// Evaluate runs the whole pipeline. Invalid mandates are reported in
// Rejections without affecting the others. When ctx is cancelled mid-run the
// mandates that completed are returned with Partial set, together with the
// context error.
func (e *Engine) Evaluate(ctx context.Context, in domain.EvaluationInput) (*domain.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Evaluate")
	defer span.End()
	start := time.Now()

	if in.AsOf.IsZero() {
		return nil, pkgerrors.WrapValidation(pkgerrors.NewValidationError("", "as_of", "is required", nil))
	}

	b := e.prepare(in)
	span.SetAttributes(
		attribute.Int("mandates", len(b.mandates)),
		attribute.Int("rejected", len(b.rejections)),
		attribute.Int("payers", len(b.payers)),
	)
	for _, r := range b.rejections {
		e.logger.Warn("mandate rejected",
			zap.String("mandate_id", r.MandateID),
			zap.String("reason", r.Reason),
		)
	}

	stats := retry.BuildStats(b.mandates, b.events, b.income)

	forecasts, err := e.forecastPayers(ctx, b)
	var results []*mandateResult
	if err == nil {
		results, err = e.evaluateMandates(ctx, b, forecasts, stats)
	}

	res := e.aggregate(b, forecasts, results)
	res.Partial = err != nil

	elapsed := time.Since(start)
	e.metrics.ObserveEvaluation(elapsed, res.Summary.Evaluated, res.Summary.Rejected, res.Partial)
	for _, rec := range res.Recommendations {
		if rec.Scope == domain.ScopeMandate {
			e.metrics.ObserveRecommendation(rec.Kind)
		}
	}

	if err != nil {
		span.RecordError(err)
		e.logger.Warn("evaluation interrupted",
			zap.Int("evaluated", res.Summary.Evaluated),
			zap.Int("mandates", len(b.mandates)),
			zap.Error(err),
		)
		return res, err
	}

	e.logger.Info("portfolio evaluated",
		zap.Int("mandates", res.Summary.Evaluated),
		zap.Int("rejected", res.Summary.Rejected),
		zap.Int("recommendations", len(res.Recommendations)),
		zap.Duration("duration", elapsed),
	)
	return res, nil
}

func (e *Engine) forecastPayers(ctx context.Context, b *batch) ([]*domain.PayerForecast, error) {
	out := make([]*domain.PayerForecast, len(b.payers))
	err := e.fanOut(ctx, len(b.payers), func(i int) {
		payer := b.payers[i]
		var collectable []domain.Mandate
		for _, m := range b.byPayer[payer] {
			if b.status[m.ID].Collectable() {
				collectable = append(collectable, m)
			}
		}
		f := e.forecaster.Forecast(forecast.Request{
			PayerID:        payer,
			Mandates:       collectable,
			Income:         b.incomeByPayer[payer],
			OpeningBalance: b.balances[payer],
			From:           b.asOf,
		})
		out[i] = &f
	})
	return out, err
}

func (e *Engine) evaluateMandates(ctx context.Context, b *batch, forecasts []*domain.PayerForecast, stats *retry.Stats) ([]*mandateResult, error) {
	byPayer := make(map[string]*domain.PayerForecast, len(forecasts))
	for _, f := range forecasts {
		byPayer[f.PayerID] = f
	}

	out := make([]*mandateResult, len(b.mandates))
	err := e.fanOut(ctx, len(b.mandates), func(i int) {
		out[i] = e.evaluateMandate(b, b.mandates[i], byPayer[b.mandates[i].PayerID], stats)
	})
	return out, err
}

func (e *Engine) evaluateMandate(b *batch, m domain.Mandate, fc *domain.PayerForecast, stats *retry.Stats) *mandateResult {
	events := b.history[m.ID]
	returns := b.returns[m.ID]

	r := &mandateResult{
		assessment: e.scorer.Score(m, events, b.asOf),
		status:     b.status[m.ID],
	}

	if n := len(events); n > 0 && events[n-1].Returned() && r.status.Collectable() &&
		returns[len(returns)-1].Classification.Retryable {
		plan, ok := e.optimizer.Recommend(retry.Request{
			Mandate:  m,
			Failed:   events[n-1],
			Forecast: fc,
			Stats:    stats,
			AsOf:     b.asOf,
		})
		if ok {
			r.plan = &plan
		}
	}

	if r.status != domain.MandateStatusCancelled {
		r.recs = e.generator.Generate(recommend.Input{
			Mandate:    m,
			Events:     events,
			Returns:    returns,
			Assessment: r.assessment,
			Forecast:   fc,
			Retry:      r.plan,
			Stats:      stats,
			AsOf:       b.asOf,
		})
	}
	return r
}

// fanOut runs task for every index on a pool of at most Workers goroutines
// and waits for all started tasks. Indices not started before ctx is done
// are skipped and the context error is returned.
func (e *Engine) fanOut(ctx context.Context, n int, task func(i int)) error {
	var g errgroup.Group
	g.SetLimit(e.workers())
	for i := range n {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			task(i)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) workers() int {
	if e.settings.Workers > 0 {
		return e.settings.Workers
	}
	return runtime.GOMAXPROCS(0)
}

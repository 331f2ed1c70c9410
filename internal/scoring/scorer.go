// Package scoring aggregates a mandate's collection history into a risk score
// and a churn probability.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/segyhp/payment-risk-engine/internal/classifier"
	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/pkg/utils"
)

// Weights combine the three score terms. They are normalized by their sum.
type Weights struct {
	Severity    float64
	FailureRate float64
	Volatility  float64
}

func (w Weights) total() float64 {
	return w.Severity + w.FailureRate + w.Volatility
}

// Settings configures the scorer.
type Settings struct {
	HalfLife     time.Duration
	Weights      Weights
	RecentWindow int
}

// DefaultSettings returns a 90 day half-life, 0.50/0.35/0.15 weights and a six attempt window.
func DefaultSettings() Settings {
	return Settings{
		HalfLife:     90 * 24 * time.Hour,
		Weights:      Weights{Severity: 0.50, FailureRate: 0.35, Volatility: 0.15},
		RecentWindow: 6,
	}
}

// Scorer is stateless after construction and safe for concurrent use.
type Scorer struct {
	settings   Settings
	classifier *classifier.Classifier
	churn      ChurnModel
}

type Option func(*Scorer)

// WithChurnModel swaps the churn model.
func WithChurnModel(m ChurnModel) Option {
	return func(s *Scorer) {
		s.churn = m
	}
}

func NewScorer(settings Settings, c *classifier.Classifier, opts ...Option) *Scorer {
	if settings.RecentWindow <= 0 {
		settings.RecentWindow = DefaultSettings().RecentWindow
	}
	if settings.HalfLife <= 0 {
		settings.HalfLife = DefaultSettings().HalfLife
	}
	if settings.Weights.total() <= 0 {
		settings.Weights = DefaultSettings().Weights
	}
	s := &Scorer{
		settings:   settings,
		classifier: c,
		churn:      DefaultChurnModel(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChurnModel exposes the configured churn model.
func (s *Scorer) ChurnModel() ChurnModel {
	return s.churn
}

// Score assesses one mandate. events must belong to the mandate and be ordered
// by AttemptedAt.
func (s *Scorer) Score(m domain.Mandate, events []domain.CollectionEvent, asOf time.Time) domain.RiskAssessment {
	assessment := domain.RiskAssessment{
		MandateID:           m.ID,
		ContributingFactors: []domain.Factor{},
		EvaluatedAt:         asOf,
	}
	if len(events) == 0 {
		assessment.ChurnProbability = s.churn.ChurnProbability(0, nil)
		return assessment
	}

	w := s.settings.Weights
	total := w.total()

	terms := []domain.Factor{
		s.recencySeverity(events, asOf),
		s.recentFailureRate(events),
		s.volatility(events, asOf),
	}
	weights := []float64{w.Severity / total, w.FailureRate / total, w.Volatility / total}

	combined := 0.0
	for i := range terms {
		terms[i].Weight = weights[i] * terms[i].Value
		combined += terms[i].Weight
		if terms[i].Weight > 0 {
			assessment.ContributingFactors = append(assessment.ContributingFactors, terms[i])
		}
	}
	sortFactors(assessment.ContributingFactors)

	score := int(math.Round(100 * combined))
	assessment.RiskScore = max(0, min(100, score))
	assessment.ChurnProbability = s.churn.ChurnProbability(assessment.RiskScore, assessment.ContributingFactors)
	return assessment
}

// decay halves an event's weight every half-life.
func (s *Scorer) decay(at, asOf time.Time) float64 {
	halfLifeDays := s.settings.HalfLife.Hours() / 24
	return math.Pow(0.5, utils.AgeInDays(at, asOf)/halfLifeDays)
}

// recencySeverity combines decayed return severities as a noisy-OR, so every
// additional return can only raise the term. Settled attempts are left to the
// failure-rate term.
func (s *Scorer) recencySeverity(events []domain.CollectionEvent, asOf time.Time) domain.Factor {
	unaffected := 1.0
	var latest time.Time
	returned := 0
	for _, ev := range events {
		if !ev.Returned() {
			continue
		}
		returned++
		p := utils.Clamp01(s.classifier.Classify(ev.ReturnCode).BaseSeverity * s.decay(ev.AttemptedAt, asOf))
		unaffected *= 1 - p
		latest = ev.AttemptedAt
	}
	return domain.Factor{
		Label:         domain.FactorRecencySeverity,
		Value:         utils.Clamp01(1 - unaffected),
		LatestEventAt: latest,
		Detail:        fmt.Sprintf("%d returned of %d attempts, half-life %.0f days", returned, len(events), s.settings.HalfLife.Hours()/24),
	}
}

func (s *Scorer) recentFailureRate(events []domain.CollectionEvent) domain.Factor {
	window := events[max(0, len(events)-s.settings.RecentWindow):]
	failures := 0
	var latest time.Time
	for _, ev := range window {
		if ev.Returned() {
			failures++
			latest = ev.AttemptedAt
		}
	}
	return domain.Factor{
		Label:         domain.FactorRecentFailureRate,
		Value:         float64(failures) / float64(len(window)),
		LatestEventAt: latest,
		Detail:        fmt.Sprintf("%d of last %d attempts returned", failures, len(window)),
	}
}

// volatility flags consecutive returns of different categories. The term is
// the decay of the most recent such change, so it fades like the others.
func (s *Scorer) volatility(events []domain.CollectionEvent, asOf time.Time) domain.Factor {
	f := domain.Factor{Label: domain.FactorVolatility}
	var prev domain.FailureCategory
	changes := 0
	for _, ev := range events {
		if !ev.Returned() {
			continue
		}
		category := s.classifier.Classify(ev.ReturnCode).Category
		if prev != "" && category != prev {
			changes++
			f.Value = s.decay(ev.AttemptedAt, asOf)
			f.LatestEventAt = ev.AttemptedAt
			f.Detail = fmt.Sprintf("%d category changes, latest %s after %s", changes, category, prev)
		}
		prev = category
	}
	return f
}

// sortFactors orders by weight, most recent event first on ties.
func sortFactors(factors []domain.Factor) {
	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].Weight != factors[j].Weight {
			return factors[i].Weight > factors[j].Weight
		}
		if !factors[i].LatestEventAt.Equal(factors[j].LatestEventAt) {
			return factors[i].LatestEventAt.After(factors[j].LatestEventAt)
		}
		return factors[i].Label < factors[j].Label
	})
}

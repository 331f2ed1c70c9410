package scoring

import (
	"math"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

// ChurnModel turns a risk assessment into a churn probability. A trained
// model can replace the logistic default without touching callers.
type ChurnModel interface {
	ChurnProbability(riskScore int, factors []domain.Factor) float64
}

// LogisticChurnModel is p = 1 / (1 + e^-(Intercept + Slope*score)).
type LogisticChurnModel struct {
	Intercept float64
	Slope     float64
}

// NewLogisticChurnModel calibrates the curve so that score 0 maps to floor
// and score 100 maps to ceiling. Both must lie strictly inside (0,1) and
// floor must be below ceiling.
func NewLogisticChurnModel(floor, ceiling float64) LogisticChurnModel {
	intercept := logit(floor)
	return LogisticChurnModel{
		Intercept: intercept,
		Slope:     (logit(ceiling) - intercept) / 100,
	}
}

// DefaultChurnModel maps score 0 to 0.02 and score 100 to 0.95.
func DefaultChurnModel() LogisticChurnModel {
	return NewLogisticChurnModel(0.02, 0.95)
}

func (m LogisticChurnModel) ChurnProbability(riskScore int, _ []domain.Factor) float64 {
	return 1 / (1 + math.Exp(-(m.Intercept + m.Slope*float64(riskScore))))
}

// ScoreForProbability inverts the curve: the smallest integer score whose
// probability reaches p.
func (m LogisticChurnModel) ScoreForProbability(p float64) int {
	return int(math.Ceil((logit(p) - m.Intercept) / m.Slope))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

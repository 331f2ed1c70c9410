// Package recommend turns classifier, scoring, forecast and retry output into
// typed, ranked recommendations.
package recommend

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/internal/retry"
	"github.com/segyhp/payment-risk-engine/pkg/utils"
)

// Rule order. Lower fires first and ranks higher.
const (
	priorityManualContact = iota + 1
	prioritySmartRetry
	priorityRenewal
	priorityCostOptimization
	priorityProactiveAlert
	priorityDateShift
	priorityChurnOutreach
	prioritySplit
	priorityUpsell
)

var recommendationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("payment-risk-engine/recommendation"))

// PartnerRate is a known discount for a mandate category.
type PartnerRate struct {
	Partner  string
	Discount float64
}

type Settings struct {
	ChurnThreshold  float64
	RenewalLeadDays int
	RecentWindow    int
	// SplitMinFailures consecutive returns within SplitPeriodMonths trigger a split.
	SplitMinFailures  int
	SplitPeriodMonths int
	UpsellMaxRisk     int
	UpsellMinCycles   int
	UpsellUplift      float64
	PartnerRates      map[domain.MandateCategory]PartnerRate
}

func DefaultSettings() Settings {
	return Settings{
		ChurnThreshold:    0.70,
		RenewalLeadDays:   30,
		RecentWindow:      6,
		SplitMinFailures:  3,
		SplitPeriodMonths: 6,
		UpsellMaxRisk:     15,
		UpsellMinCycles:   12,
		UpsellUplift:      0.10,
		PartnerRates: map[domain.MandateCategory]PartnerRate{
			domain.CategoryInternet: {Partner: "ISP partnership", Discount: 0.20},
			domain.CategoryMobile:   {Partner: "Carrier bundle", Discount: 0.10},
		},
	}
}

// Input is everything the rules look at for one mandate.
type Input struct {
	Mandate domain.Mandate
	// Events is the mandate's history in chronological order.
	Events []domain.CollectionEvent
	// Returns is the classifier output for the returned events, same order.
	Returns    []domain.ClassifiedEvent
	Assessment domain.RiskAssessment
	Forecast   *domain.PayerForecast
	Retry      *domain.RetryPlan
	Stats      *retry.Stats
	AsOf       time.Time
}

type Generator struct {
	settings Settings
}

func New(settings Settings) *Generator {
	d := DefaultSettings()
	if settings.ChurnThreshold <= 0 {
		settings.ChurnThreshold = d.ChurnThreshold
	}
	if settings.RecentWindow <= 0 {
		settings.RecentWindow = d.RecentWindow
	}
	if settings.SplitMinFailures <= 0 {
		settings.SplitMinFailures = d.SplitMinFailures
	}
	if settings.SplitPeriodMonths <= 0 {
		settings.SplitPeriodMonths = d.SplitPeriodMonths
	}
	if settings.UpsellMinCycles <= 0 {
		settings.UpsellMinCycles = d.UpsellMinCycles
	}
	return &Generator{settings: settings}
}

// ChurnThreshold is the probability at which outreach is recommended.
func (g *Generator) ChurnThreshold() float64 {
	return g.settings.ChurnThreshold
}

// Generate evaluates every rule in priority order. Several kinds may fire for
// the same mandate; within a kind the first rule wins.
func (g *Generator) Generate(in Input) []domain.Recommendation {
	m := in.Mandate
	latest, failing := latestReturn(in)
	current := g.currentSuccessRate(in)
	baseline, _ := in.Stats.CategoryRate(m.Category)
	drivers := describeFactors(in.Assessment.ContributingFactors)

	var recs []domain.Recommendation
	add := func(r domain.Recommendation) {
		r.Scope = domain.ScopeMandate
		r.TargetID = m.ID
		r.MandateID = m.ID
		r.ID = NewID(r.Key())
		r.Confidence = utils.Clamp01(r.Confidence)
		recs = append(recs, r)
	}

	accountGone := failing && latest.Classification.Category == domain.FailureAccountClosed
	if failing && (accountGone || !latest.Classification.Recognized) {
		lead := fmt.Sprintf("return %s (%s) needs the payer's new account details", latest.Classification.Code, latest.Classification.Category)
		if !latest.Classification.Recognized {
			lead = fmt.Sprintf("return code %q is not recognized and needs manual review", latest.Event.ReturnCode)
		}
		add(domain.Recommendation{
			Kind:           domain.KindManualContact,
			ExpectedImpact: utils.Annualize(m.Amount, baseline),
			Confidence:     latest.Classification.BaseSeverity,
			Rationale:      rationale(lead, drivers),
			Priority:       priorityManualContact,
		})
	}

	if failing && !accountGone && latest.Classification.Category == domain.FailureInsufficientFunds &&
		in.Retry != nil && in.Retry.ExpectedSuccessProbability > current {
		p := in.Retry.ExpectedSuccessProbability
		retryAt := in.Retry.RetryAt
		lead := fmt.Sprintf("retry on %s when the projected balance is %s (success %.0f%%, now %.0f%%)",
			retryAt.Format("2006-01-02 15:04"), in.Retry.ProjectedBalance.StringFixed(2), p*100, current*100)
		add(domain.Recommendation{
			Kind:           domain.KindSmartRetry,
			ExpectedImpact: utils.Annualize(m.Amount, p-current),
			Confidence:     p,
			Rationale:      rationale(lead, drivers),
			Priority:       prioritySmartRetry,
			RetryAt:        &retryAt,
		})
	}

	if lead, ok := g.renewalReason(in, latest, failing); ok {
		add(domain.Recommendation{
			Kind:           domain.KindMandateRenewal,
			ExpectedImpact: utils.Annualize(m.Amount, baseline),
			Confidence:     baseline,
			Rationale:      rationale(lead, drivers),
			Priority:       priorityRenewal,
		})
	}

	if failing && latest.Classification.Category == domain.FailureAmountExceeded {
		if rate, ok := g.settings.PartnerRates[m.Category]; ok && rate.Discount > 0 && rate.Discount < 1 {
			proposed := m.Amount.Mul(utils.DecimalFromFloat(1 - rate.Discount)).Round(2)
			lead := fmt.Sprintf("amount %s exceeds the payer's debit limit; %s lowers it to %s",
				m.Amount.StringFixed(2), rate.Partner, proposed.StringFixed(2))
			add(domain.Recommendation{
				Kind:           domain.KindUpsellOrCostOptimization,
				ExpectedImpact: utils.Annualize(proposed, baseline-current),
				Confidence:     baseline,
				Rationale:      rationale(lead, drivers),
				Priority:       priorityCostOptimization,
				ProposedAmount: &proposed,
				Partner:        rate.Partner,
			})
		}
	}

	atRiskOn, atRisk := in.Forecast.MandateAtRisk(m.ID)
	if atRisk {
		confidence := baseline
		if in.Forecast.LowConfidence {
			confidence /= 2
		}
		lead := fmt.Sprintf("projected balance is negative when the debit on %s is due", atRiskOn.Format("2006-01-02"))
		add(domain.Recommendation{
			Kind:           domain.KindProactiveAlert,
			ExpectedImpact: m.Amount.Mul(utils.DecimalFromFloat(baseline)).Round(2),
			Confidence:     confidence,
			Rationale:      rationale(lead, drivers),
			Priority:       priorityProactiveAlert,
		})
	}

	if incomeDay, ok := in.Stats.DominantIncomeDay(m.PayerID); ok {
		proposedDay := dayAfterIncome(incomeDay)
		lateFailure := false
		if failing && latest.Classification.Category == domain.FailureInsufficientFunds {
			days, known := in.Stats.DaysSinceIncome(m.PayerID, latest.Event.AttemptedAt)
			b := retry.BucketFor(days, known)
			lateFailure = b == retry.BucketWeekTwo || b == retry.BucketLate
		}
		if proposedDay != m.ScheduledDay && (atRisk || lateFailure) {
			aligned, _ := in.Stats.SuccessRate(m.Category, retry.BucketIncomeDay)
			lead := fmt.Sprintf("income arrives on day %d; moving collection from day %d to day %d",
				incomeDay, m.ScheduledDay, proposedDay)
			if proposedDay < incomeDay {
				lead += " of the following month"
			}
			add(domain.Recommendation{
				Kind:           domain.KindPaymentDateShift,
				ExpectedImpact: utils.Annualize(m.Amount, aligned-current),
				Confidence:     aligned,
				Rationale:      rationale(lead, drivers),
				Priority:       priorityDateShift,
				ProposedDay:    &proposedDay,
			})
		}
	}

	if churn := in.Assessment.ChurnProbability; churn >= g.settings.ChurnThreshold {
		lead := fmt.Sprintf("churn probability %.0f%% at risk score %d", churn*100, in.Assessment.RiskScore)
		add(domain.Recommendation{
			Kind:           domain.KindChurnOutreach,
			ExpectedImpact: utils.Annualize(m.Amount, churn),
			Confidence:     churn,
			Rationale:      rationale(lead, drivers),
			Priority:       priorityChurnOutreach,
		})
	}

	if streak, categories := g.trailingFailures(in); streak >= g.settings.SplitMinFailures && categories >= 2 {
		half := m.Amount.Div(decimal.NewFromInt(2)).Round(2)
		lead := fmt.Sprintf("%d consecutive returns across %d failure categories in %d months; collect %s twice a month",
			streak, categories, g.settings.SplitPeriodMonths, half.StringFixed(2))
		add(domain.Recommendation{
			Kind:           domain.KindPaymentSplit,
			ExpectedImpact: utils.Annualize(m.Amount, baseline-current),
			Confidence:     baseline,
			Rationale:      rationale(lead, drivers),
			Priority:       prioritySplit,
			ProposedAmount: &half,
		})
	}

	if cycles := trailingSettled(in.Events); in.Assessment.RiskScore < g.settings.UpsellMaxRisk && cycles >= g.settings.UpsellMinCycles {
		uplift := utils.DecimalFromFloat(g.settings.UpsellUplift)
		proposed := m.Amount.Mul(decimal.NewFromInt(1).Add(uplift)).Round(2)
		keep := 1 - in.Assessment.ChurnProbability
		impact := m.Amount.Mul(decimal.NewFromInt(12)).Mul(utils.DecimalFromFloat(keep)).Mul(uplift).Round(2)
		lead := fmt.Sprintf("%d consecutive settled collections at risk score %d", cycles, in.Assessment.RiskScore)
		add(domain.Recommendation{
			Kind:           domain.KindUpsellOrCostOptimization,
			ExpectedImpact: impact,
			Confidence:     keep,
			Rationale:      rationale(lead, drivers),
			Priority:       priorityUpsell,
			ProposedAmount: &proposed,
		})
	}

	return Dedup(recs)
}

// dayAfterIncome is the collection day that follows income in every month.
// Days past the 28th clamp in short months and could land on the income day
// itself, so those roll over to the 1st.
func dayAfterIncome(incomeDay int) int {
	if incomeDay >= 28 {
		return 1
	}
	return incomeDay + 1
}

// ForPayer aggregates mandate churn into one portfolio-scope outreach for the
// payer. ok is false when no mandate of the payer crosses the threshold.
func (g *Generator) ForPayer(payerID string, mandates []domain.Mandate, assessments map[string]domain.RiskAssessment) (domain.Recommendation, bool) {
	var (
		impact  = decimal.Zero
		highest float64
		flagged []string
	)
	for _, m := range mandates {
		a, ok := assessments[m.ID]
		if !ok || a.ChurnProbability < g.settings.ChurnThreshold {
			continue
		}
		flagged = append(flagged, m.ID)
		impact = impact.Add(utils.Annualize(m.Amount, a.ChurnProbability))
		highest = max(highest, a.ChurnProbability)
	}
	if len(flagged) == 0 {
		return domain.Recommendation{}, false
	}
	sort.Strings(flagged)

	lead := fmt.Sprintf("%d of %d mandates above churn threshold %.2f: %s",
		len(flagged), len(mandates), g.settings.ChurnThreshold, strings.Join(flagged, ", "))
	rec := domain.Recommendation{
		Scope:          domain.ScopePortfolio,
		Kind:           domain.KindChurnOutreach,
		TargetID:       payerID,
		ExpectedImpact: impact,
		Confidence:     highest,
		Rationale:      lead,
		Priority:       priorityChurnOutreach,
	}
	rec.ID = NewID(rec.Key())
	return rec, true
}

// NewID derives a stable recommendation id from its dedup key.
func NewID(key string) string {
	return uuid.NewSHA1(recommendationNamespace, []byte(key)).String()
}

// Dedup keeps the first recommendation per key, preserving order.
func Dedup(recs []domain.Recommendation) []domain.Recommendation {
	seen := make(map[string]bool, len(recs))
	out := make([]domain.Recommendation, 0, len(recs))
	for _, r := range recs {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}

func (g *Generator) renewalReason(in Input, latest domain.ClassifiedEvent, failing bool) (string, bool) {
	if failing && latest.Classification.Category == domain.FailureNoValidMandate {
		return fmt.Sprintf("return %s: the bank holds no valid mandate", latest.Classification.Code), true
	}
	exp := in.Mandate.ExpiresAt
	if exp == nil {
		return "", false
	}
	days := utils.DaysBetween(in.AsOf, *exp)
	switch {
	case days <= 0:
		return fmt.Sprintf("mandate expired on %s", exp.Format("2006-01-02")), true
	case days <= g.settings.RenewalLeadDays:
		return fmt.Sprintf("mandate expires in %d days on %s", days, exp.Format("2006-01-02")), true
	}
	return "", false
}

// currentSuccessRate is the settled share of the recent attempts, or the
// category rate when the mandate has no history.
func (g *Generator) currentSuccessRate(in Input) float64 {
	events := in.Events
	if len(events) == 0 {
		rate, _ := in.Stats.CategoryRate(in.Mandate.Category)
		return rate
	}
	if len(events) > g.settings.RecentWindow {
		events = events[len(events)-g.settings.RecentWindow:]
	}
	settled := 0
	for _, ev := range events {
		if !ev.Returned() {
			settled++
		}
	}
	return float64(settled) / float64(len(events))
}

// trailingFailures counts the consecutive returns at the end of the history
// that fall inside the split period, and how many categories they span.
func (g *Generator) trailingFailures(in Input) (streak, categories int) {
	since := in.AsOf.AddDate(0, -g.settings.SplitPeriodMonths, 0)
	seen := make(map[domain.FailureCategory]bool)
	ri := len(in.Returns) - 1
	for i := len(in.Events) - 1; i >= 0; i-- {
		ev := in.Events[i]
		if !ev.Returned() || ev.AttemptedAt.Before(since) || ri < 0 {
			break
		}
		seen[in.Returns[ri].Classification.Category] = true
		ri--
		streak++
	}
	return streak, len(seen)
}

func trailingSettled(events []domain.CollectionEvent) int {
	n := 0
	for i := len(events) - 1; i >= 0 && !events[i].Returned(); i-- {
		n++
	}
	return n
}

// latestReturn is the classified last event when that event was a return.
func latestReturn(in Input) (domain.ClassifiedEvent, bool) {
	if len(in.Events) == 0 || len(in.Returns) == 0 || !in.Events[len(in.Events)-1].Returned() {
		return domain.ClassifiedEvent{}, false
	}
	return in.Returns[len(in.Returns)-1], true
}

func describeFactors(factors []domain.Factor) string {
	parts := make([]string, 0, len(factors))
	for _, f := range factors {
		if f.Weight <= 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %.2f", f.Label, f.Weight))
	}
	if len(parts) == 0 {
		return "no adverse collection history"
	}
	return strings.Join(parts, ", ")
}

func rationale(lead, drivers string) string {
	return lead + "; drivers: " + drivers
}

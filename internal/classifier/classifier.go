// Package classifier maps settlement return codes to failure categories.
package classifier

import (
	"strings"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

// GenericSeverity is the mid-range severity given to codes outside the table.
const GenericSeverity = 0.5

type entry struct {
	category    domain.FailureCategory
	description string
	severity    float64
	retryable   bool
}

// SEPA R-transaction reason codes seen on the collection side.
var defaultTable = map[string]entry{
	"AM04": {domain.FailureInsufficientFunds, "Insufficient funds", 0.55, true},
	"MD01": {domain.FailureNoValidMandate, "No valid mandate", 0.80, false},
	"MD02": {domain.FailureNoValidMandate, "Mandate data missing or incorrect", 0.70, false},
	"AC04": {domain.FailureAccountClosed, "Account closed", 1.00, false},
	"AC06": {domain.FailureAccountClosed, "Account blocked", 0.90, false},
	"MD07": {domain.FailureAccountClosed, "Debtor deceased", 1.00, false},
	"SL01": {domain.FailureAmountExceeded, "Amount exceeds debtor limit", 0.50, true},
	"AM05": {domain.FailureAmountExceeded, "Duplicate or over-limit collection", 0.45, true},
	"MS02": {domain.FailureRefusal, "Refusal by debtor", 0.75, false},
	"AG01": {domain.FailureRefusal, "Transaction forbidden on account", 0.70, false},
	"MS03": {domain.FailureGeneric, "Reason not specified", GenericSeverity, true},
}

var aliases = map[string]string{
	"insufficient-funds": "AM04",
	"no-valid-mandate":   "MD01",
	"account-closed":     "AC04",
	"amount-exceeded":    "SL01",
	"refusal":            "MS02",
	"generic":            "MS03",
}

// Classifier is a deterministic return-code lookup. It is safe for concurrent use.
type Classifier struct {
	table map[string]entry
}

// New returns a classifier backed by the default code table.
func New() *Classifier {
	return &Classifier{table: defaultTable}
}

// Classify never fails: unknown codes degrade to Generic with Recognized=false.
func (c *Classifier) Classify(returnCode string) domain.Classification {
	code := normalize(returnCode)
	e, ok := c.table[code]
	if !ok {
		return domain.Classification{
			Code:         code,
			Category:     domain.FailureGeneric,
			Description:  "Unrecognized return code",
			BaseSeverity: GenericSeverity,
			Retryable:    true,
			Recognized:   false,
		}
	}
	return domain.Classification{
		Code:         code,
		Category:     e.category,
		Description:  e.description,
		BaseSeverity: e.severity,
		Retryable:    e.retryable,
		Recognized:   true,
	}
}

// ClassifyEvents classifies every returned event, keeping input order.
func (c *Classifier) ClassifyEvents(events []domain.CollectionEvent) []domain.ClassifiedEvent {
	out := make([]domain.ClassifiedEvent, 0, len(events))
	for _, ev := range events {
		if !ev.Returned() {
			continue
		}
		out = append(out, domain.ClassifiedEvent{Event: ev, Classification: c.Classify(ev.ReturnCode)})
	}
	return out
}

func normalize(code string) string {
	code = strings.TrimSpace(code)
	if canonical, ok := aliases[strings.ToLower(code)]; ok {
		return canonical
	}
	return strings.ToUpper(code)
}

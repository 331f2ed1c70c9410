package engine

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	pkgerrors "github.com/segyhp/payment-risk-engine/pkg/errors"
)

// batch is the validated, read-only view of one evaluation input. It is
// built before any worker starts and never written afterwards.
type batch struct {
	asOf       time.Time
	mandates   []domain.Mandate
	history    map[string][]domain.CollectionEvent
	returns    map[string][]domain.ClassifiedEvent
	status     map[string]domain.MandateStatus
	events     []domain.CollectionEvent
	income     []domain.IncomeEvent
	balances   map[string]decimal.Decimal
	payers     []string
	byPayer    map[string][]domain.Mandate
	rejections []domain.Rejection

	incomeByPayer map[string][]domain.IncomeEvent
}

func (e *Engine) prepare(in domain.EvaluationInput) *batch {
	b := &batch{
		asOf:          in.AsOf,
		history:       make(map[string][]domain.CollectionEvent),
		returns:       make(map[string][]domain.ClassifiedEvent),
		status:        make(map[string]domain.MandateStatus),
		balances:      in.Balances,
		byPayer:       make(map[string][]domain.Mandate),
		incomeByPayer: make(map[string][]domain.IncomeEvent),
	}
	if b.balances == nil {
		b.balances = map[string]decimal.Decimal{}
	}

	rejected := make(map[string]bool)
	reject := func(err *pkgerrors.ValidationError) {
		if rejected[err.MandateID] {
			return
		}
		rejected[err.MandateID] = true
		b.rejections = append(b.rejections, domain.Rejection{MandateID: err.MandateID, Reason: err.Error()})
	}

	known := make(map[string]int, len(in.Mandates))
	for _, m := range in.Mandates {
		known[m.ID]++
	}
	for _, m := range in.Mandates {
		if known[m.ID] > 1 {
			reject(pkgerrors.NewValidationError(m.ID, "id", "is not unique", pkgerrors.ErrDuplicateMandate))
			continue
		}
		if verr := e.checkMandate(m); verr != nil {
			reject(verr)
		}
	}

	for _, ev := range in.Events {
		if known[ev.MandateID] == 0 {
			reject(pkgerrors.NewValidationError(ev.MandateID, "mandate_id", "references an unknown mandate", pkgerrors.ErrUnknownMandate))
			continue
		}
		if verr := e.checkEvent(ev); verr != nil {
			reject(verr)
		}
	}

	for _, inc := range in.Income {
		if err := e.validate.Struct(inc); err != nil {
			e.logger.Warn("income event skipped",
				zap.String("payer_id", inc.PayerID),
				zap.Error(err),
			)
			continue
		}
		b.income = append(b.income, inc)
		b.incomeByPayer[inc.PayerID] = append(b.incomeByPayer[inc.PayerID], inc)
	}

	for _, m := range in.Mandates {
		if rejected[m.ID] {
			continue
		}
		b.mandates = append(b.mandates, m)
		if _, ok := b.byPayer[m.PayerID]; !ok {
			b.payers = append(b.payers, m.PayerID)
		}
		b.byPayer[m.PayerID] = append(b.byPayer[m.PayerID], m)
	}

	for _, ev := range in.Events {
		if rejected[ev.MandateID] || known[ev.MandateID] == 0 || ev.AttemptedAt.After(in.AsOf) {
			continue
		}
		b.history[ev.MandateID] = append(b.history[ev.MandateID], ev)
	}
	for _, m := range b.mandates {
		events := b.history[m.ID]
		sort.SliceStable(events, func(i, j int) bool {
			if !events[i].AttemptedAt.Equal(events[j].AttemptedAt) {
				return events[i].AttemptedAt.Before(events[j].AttemptedAt)
			}
			return events[i].ID < events[j].ID
		})
		b.events = append(b.events, events...)
		b.returns[m.ID] = e.classifier.ClassifyEvents(events)
		b.status[m.ID] = DeriveStatus(m, events, b.returns[m.ID], in.AsOf)
	}
	return b
}

// ValidateMandate applies the boundary rules to a single mandate.
func (e *Engine) ValidateMandate(m domain.Mandate) error {
	if verr := e.checkMandate(m); verr != nil {
		return verr
	}
	return nil
}

// ValidateEvent applies the boundary rules to a single collection event.
// Whether the mandate exists is left to the caller.
func (e *Engine) ValidateEvent(ev domain.CollectionEvent) error {
	if verr := e.checkEvent(ev); verr != nil {
		return verr
	}
	return nil
}

func (e *Engine) checkMandate(m domain.Mandate) *pkgerrors.ValidationError {
	if err := e.validate.Struct(m); err != nil {
		return fieldError(m.ID, err)
	}
	return nil
}

func (e *Engine) checkEvent(ev domain.CollectionEvent) *pkgerrors.ValidationError {
	if err := e.validate.Struct(ev); err != nil {
		return fieldError(ev.MandateID, err)
	}
	if ev.Returned() != (strings.TrimSpace(ev.ReturnCode) != "") {
		return pkgerrors.NewValidationError(ev.MandateID, "return_code", "must be set exactly for returned events", pkgerrors.ErrInvalidReturnCode)
	}
	return nil
}

func fieldError(mandateID string, err error) *pkgerrors.ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return pkgerrors.NewValidationError(mandateID, "", err.Error(), err)
	}
	fe := verrs[0]
	return pkgerrors.NewValidationError(mandateID, fe.Field(), describe(fe), err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "decimal_gt0":
		return "must be positive"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// Package classify decides the terminal status of an extraction result.
package classify

import (
	"fmt"

	"github.com/mvrga/speer/internal/models"
	"github.com/mvrga/speer/internal/validate"
)

// Classification is the verdict for one record.
type Classification struct {
	Status       models.Status
	PaymentReady bool
	// Errors is the extraction errors followed by validation findings.
	Errors []string
}

// rule checks one field. A nil check only requires presence; showValue puts
// the offending value into the finding instead of the validation error.
type rule struct {
	field     models.FieldName
	check     func(string) error
	showValue bool
}

// reviewRules must all pass for a record to be ok. Order is the order of findings.
var reviewRules = []rule{
	{field: models.FieldInvoiceNumber},
	{field: models.FieldAmount, check: validate.Amount, showValue: true},
	{field: models.FieldIBAN, check: validate.IBAN},
}

// paymentRules must all pass, on top of an ok status, for a payment instruction.
var paymentRules = []rule{
	{field: models.FieldIBAN, check: validate.IBAN},
	{field: models.FieldBIC, check: validate.BIC},
	{field: models.FieldAmount, check: validate.Amount},
	{field: models.FieldCurrency, check: validate.Currency},
}

// Classify is a pure function of the extraction result.
func Classify(result models.ExtractionResult) Classification {
	errs := append([]string(nil), result.Errors...)

	if result.StrategyUsed == models.StrategyNone || result.StrategyUsed == models.StrategyUnsupported {
		return Classification{Status: models.StatusNeedsReview, Errors: errs}
	}

	for _, r := range reviewRules {
		if finding := r.apply(result.Fields); finding != "" {
			errs = append(errs, finding)
		}
	}
	if len(errs) > 0 {
		return Classification{Status: models.StatusNeedsReview, Errors: errs}
	}

	ready := true
	for _, r := range paymentRules {
		if r.apply(result.Fields) != "" {
			ready = false
			break
		}
	}
	return Classification{Status: models.StatusOK, PaymentReady: ready, Errors: errs}
}

func (r rule) apply(fields models.Fields) string {
	v, ok := fields.Get(r.field)
	if !ok {
		return fmt.Sprintf("missing %s", r.field)
	}
	if r.check == nil {
		return ""
	}
	if err := r.check(v); err != nil {
		if r.showValue {
			return fmt.Sprintf("invalid %s: %s", r.field, v)
		}
		return fmt.Sprintf("invalid %s: %v", r.field, err)
	}
	return ""
}

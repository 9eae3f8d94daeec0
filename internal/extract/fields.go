package extract

import (
	"github.com/mvrga/speer/internal/models"
	"github.com/mvrga/speer/internal/validate"
)

// FieldParser pulls payment-critical fields out of free text produced by
// the PDF text layer or OCR.
type FieldParser struct {
	directory *BankDirectory
}

func NewFieldParser(directory *BankDirectory) *FieldParser {
	return &FieldParser{directory: directory}
}

// Parse returns the fields it could resolve and one error per ambiguous field.
// Missing fields are not errors here; classification reports them.
func (p *FieldParser) Parse(text string) (models.Fields, []string) {
	fields := models.Fields{}
	var errs []string

	set := func(name models.FieldName, values []string) {
		v, errMsg := resolve(name, values)
		if errMsg != "" {
			errs = append(errs, errMsg)
			return
		}
		if v != "" {
			fields[name] = v
		}
	}

	set(models.FieldInvoiceNumber, values(firstGroup(text, invoiceNumberPatterns, normalizeInvoiceNumber)))
	set(models.FieldInvoiceDate, values(firstGroup(text, invoiceDatePatterns, validate.ParseDate)))

	amounts := firstGroup(text, amountPatterns, validate.ParseAmount)
	set(models.FieldAmount, values(amounts))

	var adjacent []string
	if amount, ok := fields.Get(models.FieldAmount); ok {
		for _, c := range amounts {
			if c.value == amount && c.currency != "" {
				adjacent = append(adjacent, c.currency)
			}
		}
	}
	if len(adjacent) > 0 {
		set(models.FieldCurrency, adjacent)
	} else {
		set(models.FieldCurrency, values(firstGroup(text, currencyPatterns, validate.NormalizeCurrency)))
	}

	ibans := firstGroup(text, ibanPatterns[:1], normalizeLabeledIBAN)
	if len(ibans) == 0 {
		ibans = firstGroup(text, ibanPatterns[1:], normalizeBareIBAN)
	}
	set(models.FieldIBAN, values(ibans))

	set(models.FieldBIC, values(firstGroup(text, bicPatterns, normalizeIdentity)))
	if _, ok := fields.Get(models.FieldBIC); !ok {
		if iban, ok := fields.Get(models.FieldIBAN); ok {
			if bic, ok := p.directory.Lookup(iban); ok {
				fields[models.FieldBIC] = bic
			}
		}
	}

	return fields, errs
}

func values(candidates []candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.value)
	}
	return out
}

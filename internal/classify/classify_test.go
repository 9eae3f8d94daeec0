package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvrga/speer/internal/classify"
	"github.com/mvrga/speer/internal/models"
)

func complete() models.Fields {
	return models.Fields{
		models.FieldInvoiceNumber: "123",
		models.FieldAmount:        "450.00",
		models.FieldCurrency:      "EUR",
		models.FieldIBAN:          "DE89370400440532013000",
		models.FieldBIC:           "COBADEFFXXX",
	}
}

func without(f models.Fields, names ...models.FieldName) models.Fields {
	out := f.Clone()
	for _, n := range names {
		delete(out, n)
	}
	return out
}

func with(f models.Fields, name models.FieldName, value string) models.Fields {
	out := f.Clone()
	out[name] = value
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		result    models.ExtractionResult
		want      models.Status
		wantReady bool
		wantErrs  []string
	}{
		{
			name:      "complete record is payment ready",
			result:    models.ExtractionResult{StrategyUsed: models.StrategyPDFText, Fields: complete()},
			want:      models.StatusOK,
			wantReady: true,
		},
		{
			name:   "missing bic is ok but not payment ready",
			result: models.ExtractionResult{StrategyUsed: models.StrategyXML, Fields: without(complete(), models.FieldBIC)},
			want:   models.StatusOK,
		},
		{
			name:   "missing currency is ok but not payment ready",
			result: models.ExtractionResult{StrategyUsed: models.StrategyXML, Fields: without(complete(), models.FieldCurrency)},
			want:   models.StatusOK,
		},
		{
			name:     "missing invoice number",
			result:   models.ExtractionResult{StrategyUsed: models.StrategyPDFText, Fields: without(complete(), models.FieldInvoiceNumber)},
			want:     models.StatusNeedsReview,
			wantErrs: []string{"missing invoice_number"},
		},
		{
			name:     "negative amount",
			result:   models.ExtractionResult{StrategyUsed: models.StrategyPDFText, Fields: with(complete(), models.FieldAmount, "-5.00")},
			want:     models.StatusNeedsReview,
			wantErrs: []string{"invalid amount: -5.00"},
		},
		{
			name:     "iban checksum mismatch",
			result:   models.ExtractionResult{StrategyUsed: models.StrategyPDFText, Fields: with(complete(), models.FieldIBAN, "DE89370400440532013001")},
			want:     models.StatusNeedsReview,
			wantErrs: []string{"invalid iban: checksum mismatch"},
		},
		{
			name: "extraction errors come first",
			result: models.ExtractionResult{
				StrategyUsed: models.StrategyOCR,
				Fields:       without(complete(), models.FieldAmount, models.FieldIBAN),
				Errors:       []string{"ocr: low confidence 0.42"},
			},
			want:     models.StatusNeedsReview,
			wantErrs: []string{"ocr: low confidence 0.42", "missing amount", "missing iban"},
		},
		{
			name: "extraction error alone forces review",
			result: models.ExtractionResult{
				StrategyUsed: models.StrategyPDFText,
				Fields:       complete(),
				Errors:       []string{"ambiguous invoice_date: 2024-01-01, 2024-02-01"},
			},
			want:     models.StatusNeedsReview,
			wantErrs: []string{"ambiguous invoice_date: 2024-01-01, 2024-02-01"},
		},
		{
			name: "unsupported keeps the single format error",
			result: models.ExtractionResult{
				StrategyUsed: models.StrategyNone,
				Fields:       models.Fields{},
				Errors:       []string{"unsupported format: zip"},
			},
			want:     models.StatusNeedsReview,
			wantErrs: []string{"unsupported format: zip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify.Classify(tt.result)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.wantReady, got.PaymentReady)
			assert.Equal(t, tt.wantErrs, got.Errors)
			if got.PaymentReady {
				assert.Equal(t, models.StatusOK, got.Status)
			}
		})
	}
}

func TestClassify_DoesNotMutateInput(t *testing.T) {
	errs := make([]string, 1, 4)
	errs[0] = "pdf_text: no extractable text layer"
	result := models.ExtractionResult{StrategyUsed: models.StrategyPDFText, Fields: models.Fields{}, Errors: errs}

	got := classify.Classify(result)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, []string{
		"pdf_text: no extractable text layer",
		"missing invoice_number",
		"missing amount",
		"missing iban",
	}, got.Errors)
	assert.Empty(t, errs[:2][1], "backing array of the input must stay untouched")
}

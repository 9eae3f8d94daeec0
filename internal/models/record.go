package models

import "time"

// FieldName identifies one payment-critical invoice field.
type FieldName string

const (
	FieldInvoiceNumber FieldName = "invoice_number"
	FieldInvoiceDate   FieldName = "invoice_date"
	FieldAmount        FieldName = "amount"
	FieldCurrency      FieldName = "currency"
	FieldIBAN          FieldName = "iban"
	FieldBIC           FieldName = "bic"
)

// AllFields lists every extractable field in report column order.
var AllFields = []FieldName{
	FieldInvoiceNumber,
	FieldInvoiceDate,
	FieldAmount,
	FieldCurrency,
	FieldIBAN,
	FieldBIC,
}

// Fields maps a field to its normalized value. Absent fields have no key.
type Fields map[FieldName]string

// Get returns the value and whether it is present and non-empty.
func (f Fields) Get(name FieldName) (string, bool) {
	v, ok := f[name]
	return v, ok && v != ""
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Strategy is the extraction path selected for a file.
type Strategy string

const (
	StrategyXML         Strategy = "xml"
	StrategyPDFText     Strategy = "pdf_text"
	StrategyOCR         Strategy = "ocr"
	StrategyUnsupported Strategy = "unsupported"
	// StrategyNone is reported as StrategyUsed when no extraction was attempted.
	StrategyNone Strategy = "none"
)

// Status is the terminal classification of a Record.
type Status string

const (
	StatusOK          Status = "ok"
	StatusNeedsReview Status = "needs_review"
)

// Attempt is one step of the extraction cascade.
type Attempt struct {
	Strategy   Strategy `json:"strategy" firestore:"strategy"`
	Errors     []string `json:"errors" firestore:"errors"`
	TextLength int      `json:"text_length" firestore:"textLength"`
}

// ExtractionResult is the output of running the extractor on one evidence item.
type ExtractionResult struct {
	Fields       Fields
	StrategyUsed Strategy
	Errors       []string
	Attempts     []Attempt
}

// Record is the audit ledger entry for one evidence item within one run.
type Record struct {
	RunID        string    `json:"run_id" firestore:"runId"`
	Seq          int       `json:"seq" firestore:"seq"`
	FilePath     string    `json:"file_path" firestore:"filePath"`
	SHA256       string    `json:"sha256" firestore:"sha256"`
	OriginalName string    `json:"original_name" firestore:"originalName"`
	ByteSize     int64     `json:"byte_size" firestore:"byteSize"`
	MediaType    string    `json:"media_type" firestore:"mediaType"`
	StrategyUsed Strategy  `json:"strategy_used" firestore:"strategyUsed"`
	Fields       Fields    `json:"fields" firestore:"fields"`
	Status       Status    `json:"status" firestore:"status"`
	PaymentReady bool      `json:"payment_ready" firestore:"paymentReady"`
	Errors       []string  `json:"errors" firestore:"errors"`
	Attempts     []Attempt `json:"attempts" firestore:"attempts"`
	CreatedAt    time.Time `json:"created_at" firestore:"createdAt"`
}

// Run is one ingestion batch.
type Run struct {
	RunID       string     `json:"run_id" firestore:"runId"`
	Timestamp   time.Time  `json:"timestamp" firestore:"timestamp"`
	SealedAt    *time.Time `json:"sealed_at,omitempty" firestore:"sealedAt,omitempty"`
	RecordCount int        `json:"record_count" firestore:"recordCount"`
}

// Sealed reports whether the run no longer accepts records.
func (r Run) Sealed() bool {
	return r.SealedAt != nil
}

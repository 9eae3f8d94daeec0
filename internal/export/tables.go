package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/mvrga/speer/internal/models"
)

// Table is a rectangular export; Name doubles as the spreadsheet tab name.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// AuditDocument is the JSON audit trail of one run.
type AuditDocument struct {
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	SealedAt  *time.Time      `json:"sealed_at,omitempty"`
	Records   []models.Record `json:"records"`
}

// Bundle is every artifact derived from one run's ledger entries.
type Bundle struct {
	Run      models.Run
	Evidence Table
	Payment  Table
	Review   Table
	Audit    AuditDocument
}

// PaymentHeader is the bank import column order.
var PaymentHeader = []string{"IBAN", "BIC", "amount", "currency", "invoice_number"}

func fieldHeader() []string {
	out := make([]string, len(models.AllFields))
	for i, f := range models.AllFields {
		out[i] = string(f)
	}
	return out
}

func evidenceHeader() []string {
	h := []string{"seq", "file_path", "sha256", "original_name", "byte_size", "media_type", "strategy_used"}
	h = append(h, fieldHeader()...)
	return append(h, "status", "payment_ready", "errors")
}

func reviewHeader() []string {
	h := []string{"seq", "original_name", "file_path", "sha256", "strategy_used"}
	h = append(h, fieldHeader()...)
	return append(h, "errors")
}

func fieldValues(f models.Fields) []string {
	out := make([]string, len(models.AllFields))
	for i, name := range models.AllFields {
		out[i] = f[name]
	}
	return out
}

func joinErrors(errs []string) string {
	return strings.Join(errs, "; ")
}

// buildBundle derives every table from records already in Seq order.
func buildBundle(run models.Run, records []models.Record) Bundle {
	b := Bundle{
		Run:      run,
		Evidence: Table{Name: "evidence", Header: evidenceHeader(), Rows: [][]string{}},
		Payment:  Table{Name: "payment", Header: append([]string(nil), PaymentHeader...), Rows: [][]string{}},
		Review:   Table{Name: "review", Header: reviewHeader(), Rows: [][]string{}},
		Audit: AuditDocument{
			RunID:     run.RunID,
			Timestamp: run.Timestamp,
			SealedAt:  run.SealedAt,
			Records:   records,
		},
	}

	for _, r := range records {
		row := []string{
			strconv.Itoa(r.Seq), r.FilePath, r.SHA256, r.OriginalName,
			strconv.FormatInt(r.ByteSize, 10), r.MediaType, string(r.StrategyUsed),
		}
		row = append(row, fieldValues(r.Fields)...)
		row = append(row, string(r.Status), strconv.FormatBool(r.PaymentReady), joinErrors(r.Errors))
		b.Evidence.Rows = append(b.Evidence.Rows, row)

		if r.PaymentReady {
			b.Payment.Rows = append(b.Payment.Rows, []string{
				r.Fields[models.FieldIBAN],
				r.Fields[models.FieldBIC],
				r.Fields[models.FieldAmount],
				r.Fields[models.FieldCurrency],
				r.Fields[models.FieldInvoiceNumber],
			})
		}

		if r.Status == models.StatusNeedsReview {
			review := []string{strconv.Itoa(r.Seq), r.OriginalName, r.FilePath, r.SHA256, string(r.StrategyUsed)}
			review = append(review, fieldValues(r.Fields)...)
			review = append(review, joinErrors(r.Errors))
			b.Review.Rows = append(b.Review.Rows, review)
		}
	}
	return b
}

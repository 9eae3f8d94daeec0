package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrga/speer/internal/models"
)

const invoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
         xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
         xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>INV-9</cbc:ID>
  <cbc:DocumentCurrencyCode>EUR</cbc:DocumentCurrencyCode>
  <cac:PaymentMeans>
    <cac:PayeeFinancialAccount><cbc:ID>DE89370400440532013000</cbc:ID></cac:PayeeFinancialAccount>
  </cac:PaymentMeans>
  <cac:LegalMonetaryTotal><cbc:PayableAmount currencyID="EUR">99.90</cbc:PayableAmount></cac:LegalMonetaryTotal>
</Invoice>`

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speer.yaml")
	cfg := fmt.Sprintf(`dataDir: %s
storage:
  backend: filesystem
  prefix: evidence
ledger:
  backend: file
export:
  backend: filesystem
  prefix: exports
  format: csv
logging:
  level: error
`, dataDir)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeSummary(t *testing.T, out string) models.RunSummary {
	t.Helper()
	var summary models.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	return summary
}

func TestIngestShowExport(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeConfig(t, dataDir)
	inputs := t.TempDir()
	invoice := filepath.Join(inputs, "invoice.xml")
	archive := filepath.Join(inputs, "archive.zip")
	require.NoError(t, os.WriteFile(invoice, []byte(invoiceXML), 0o644))
	require.NoError(t, os.WriteFile(archive, []byte("PK\x03\x04"), 0o644))
	metricsFile := filepath.Join(t.TempDir(), "speer.prom")

	out, err := execute(t, "ingest", "--config", configPath, "--metrics-file", metricsFile, invoice, archive)
	require.NoError(t, err)
	summary := decodeSummary(t, out)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.OK)
	assert.Equal(t, 1, summary.NeedsReview)
	require.NotNil(t, summary.Exports)
	assert.Equal(t, 1, summary.Exports.PaymentRows)

	payment, err := os.ReadFile(summary.Exports.PaymentURI)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(payment)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"DE89370400440532013000", "COBADEFFXXX", "99.90", "EUR", "INV-9"}, rows[1])

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "speer_records_total")

	out, err = execute(t, "show", "--config", configPath, summary.RunID)
	require.NoError(t, err)
	shown := decodeSummary(t, out)
	require.Len(t, shown.Records, 2)
	assert.Equal(t, "invoice.xml", shown.Records[0].OriginalName)
	assert.Equal(t, []string{"unsupported format: zip"}, shown.Records[1].Errors)
	assert.Equal(t, summary.Exports, shown.Exports)

	out, err = execute(t, "export", "--config", configPath, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, summary.Exports, decodeSummary(t, out).Exports)
}

func TestIngest_KeepOpen(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeConfig(t, dataDir)
	archive := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(archive, []byte("PK"), 0o644))

	out, err := execute(t, "ingest", "--config", configPath, "--keep-open", "--run-id", "batch1", archive)
	require.NoError(t, err)
	summary := decodeSummary(t, out)
	assert.Equal(t, "batch1", summary.RunID)
	assert.Nil(t, summary.Exports)

	out, err = execute(t, "show", "--config", configPath, "batch1")
	require.NoError(t, err)
	assert.Nil(t, decodeSummary(t, out).Exports, "open runs have no exports")

	out, err = execute(t, "ingest", "--config", configPath, "--run-id", "batch1", archive)
	require.NoError(t, err)
	summary = decodeSummary(t, out)
	assert.Equal(t, 2, summary.Processed)
	require.NotNil(t, summary.Exports)

	_, err = execute(t, "ingest", "--config", configPath, "--run-id", "batch1", archive)
	assert.Error(t, err, "a sealed run accepts no further uploads")
}

func TestExport_UnknownRun(t *testing.T) {
	configPath := writeConfig(t, t.TempDir())
	_, err := execute(t, "export", "--config", configPath, "missing")
	assert.Error(t, err)
}

func TestIngest_RequiresFiles(t *testing.T) {
	_, err := execute(t, "ingest")
	assert.Error(t, err)
}

func TestIngest_UnreadableFileLeavesRunUntouched(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeConfig(t, dataDir)
	inputs := t.TempDir()
	archive := filepath.Join(inputs, "archive.zip")
	require.NoError(t, os.WriteFile(archive, []byte("PK"), 0o644))
	missing := filepath.Join(inputs, "missing.pdf")

	_, err := execute(t, "ingest", "--config", configPath, "--keep-open", "--run-id", "open1", archive)
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
	}{
		{"new run", []string{"ingest", "--config", configPath, archive, missing}},
		{"existing run", []string{"ingest", "--config", configPath, "--run-id", "open1", archive, missing}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.ErrorContains(t, err, "missing.pdf")
		})
	}

	runs, err := os.ReadDir(filepath.Join(dataDir, "ledger"))
	require.NoError(t, err)
	require.Len(t, runs, 1, "no run is started for a failed ingest")

	out, err := execute(t, "show", "--config", configPath, "open1")
	require.NoError(t, err)
	summary := decodeSummary(t, out)
	assert.Equal(t, 1, summary.Processed)
}

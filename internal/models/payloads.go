package models

// These structs define the JSON payloads exchanged by the Cloud Functions
// and the workflow they hand off to.

// ExportRunRequest is the input for the export-run function.
type ExportRunRequest struct {
	RunID string `json:"runId"`
	// Seal closes the run before exporting. Exports of an open run are rejected.
	Seal bool `json:"seal"`
}

// ExportManifest lists where each export artifact of a run was written.
type ExportManifest struct {
	RunID        string `json:"run_id"`
	AuditURI     string `json:"audit"`
	EvidenceURI  string `json:"evidence_report"`
	PaymentURI   string `json:"payment_instructions"`
	ReviewURI    string `json:"review"`
	EvidenceRows int    `json:"evidence_rows"`
	PaymentRows  int    `json:"payment_rows"`
	ReviewRows   int    `json:"review_rows"`
}

// RunSummary is returned to callers once a run has been exported.
type RunSummary struct {
	RunID       string          `json:"run_id"`
	Processed   int             `json:"processed"`
	OK          int             `json:"ok"`
	NeedsReview int             `json:"needs_review"`
	Records     []Record        `json:"records"`
	Exports     *ExportManifest `json:"exports,omitempty"`
}

// WorkflowArgument is the payload handed to the downstream review workflow.
type WorkflowArgument struct {
	RunID       string `json:"runId"`
	PaymentURI  string `json:"paymentUri"`
	ReviewURI   string `json:"reviewUri"`
	PaymentRows int    `json:"paymentRows"`
	ReviewRows  int    `json:"reviewRows"`
}

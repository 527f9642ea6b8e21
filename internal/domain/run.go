package domain

import "time"

// RunStatus tracks the lifecycle of an asynchronous report run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ReportRun is the terminal artifact of one report generation: the resolved
// DSD records plus the audit trail needed for regulatory review. Immutable
// once created.
type ReportRun struct {
	ID          string         `json:"id"`
	Variant     ReportVariant  `json:"variant"`
	Source      string         `json:"source,omitempty"` // label for the source filing, e.g. a file name
	Status      RunStatus      `json:"status"`
	Records     []OutputRecord `json:"records,omitempty"`
	Findings    []string       `json:"findings,omitempty"` // pre-flight validation messages, if any
	Summary     RunSummary     `json:"summary"`
	Error       string         `json:"error,omitempty"`
	GeneratedAt time.Time      `json:"generatedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// RunSummary aggregates a run's records for operator-facing output.
type RunSummary struct {
	RecordCount int            `json:"recordCount"`
	TotalValue  float64        `json:"totalValue"`
	Top         []OutputRecord `json:"top,omitempty"` // largest records by absolute value
}

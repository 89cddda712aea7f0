package models

// OutcomeStatus classifies what happened to a single conversion during a run.
type OutcomeStatus string

const (
	OutcomeAttributed       OutcomeStatus = "attributed"
	OutcomeSkippedNoSession OutcomeStatus = "skipped_no_sessions"
	OutcomeAlreadyStored    OutcomeStatus = "already_stored"
	OutcomeFailedRemote     OutcomeStatus = "failed_remote"
	OutcomeFailedValidation OutcomeStatus = "failed_validation"
)

// ConversionOutcome records the per-conversion result of a pipeline run so
// that skips and failures are first-class data, not just log lines.
type ConversionOutcome struct {
	ConvID string        `json:"conv_id"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// RunSummary is what a completed run reports back to the caller. A run with
// failed conversions still completes; only adapter-level fatal errors abort.
type RunSummary struct {
	RunID            string `json:"run_id"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	Processed        int    `json:"processed"`
	Attributed       int    `json:"attributed"`
	AlreadyStored    int    `json:"already_stored"`
	Skipped          int    `json:"skipped"`
	FailedRemote     int    `json:"failed_remote"`
	FailedValidation int    `json:"failed_validation"`
	ResultsInserted  int64  `json:"results_inserted"`
	ReportRows       int    `json:"report_rows"`
}

// Count tallies one outcome into the summary.
func (s *RunSummary) Count(o ConversionOutcome) {
	s.Processed++
	switch o.Status {
	case OutcomeAttributed:
		s.Attributed++
	case OutcomeAlreadyStored:
		s.AlreadyStored++
	case OutcomeSkippedNoSession:
		s.Skipped++
	case OutcomeFailedRemote:
		s.FailedRemote++
	case OutcomeFailedValidation:
		s.FailedValidation++
	}
}

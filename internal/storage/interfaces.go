package storage

import (
	"context"

	"github.com/radiusdt/attribution-pipeline/internal/models"
)

// Store is the record store adapter for the pipeline. Reads are windowed
// on calendar dates (YYYY-MM-DD, inclusive on both ends); writes are
// transactional per call and safe to re-run.
type Store interface {
	// FetchConversions returns conversions whose event day falls inside
	// [startDate, endDate], ordered by (event_time, conv_id) ascending.
	// An empty window is not an error.
	FetchConversions(ctx context.Context, startDate, endDate string) ([]models.Conversion, error)

	// FetchSessions returns all sessions for the given users regardless of
	// date (journeys may start before the run window), cost joined in,
	// ordered by (event_time, session_id) ascending.
	FetchSessions(ctx context.Context, userIDs []string) ([]models.Session, error)

	// FetchSessionsInWindow returns sessions whose event day falls inside
	// [startDate, endDate], for cost aggregation and report joining.
	FetchSessionsInWindow(ctx context.Context, startDate, endDate string) ([]models.Session, error)

	// FetchConversionsByID returns the conversions with the given IDs, for
	// revenue lookups on attribution rows written by earlier runs.
	FetchConversionsByID(ctx context.Context, convIDs []string) ([]models.Conversion, error)

	// AttributedConversionIDs reports which of the given conversions already
	// have stored attribution rows.
	AttributedConversionIDs(ctx context.Context, convIDs []string) (map[string]bool, error)

	// UpsertAttributionResults inserts results with insert-or-ignore
	// semantics on (conv_id, session_id) inside one transaction, returning
	// the number of rows actually inserted. Duplicates are a no-op; any
	// other constraint or connection error aborts the whole call.
	UpsertAttributionResults(ctx context.Context, results []models.AttributionResult) (int64, error)

	// FetchAttributionForSessions returns stored attribution rows for the
	// given sessions.
	FetchAttributionForSessions(ctx context.Context, sessionIDs []string) ([]models.AttributionResult, error)

	// ReplaceChannelReport deletes report rows inside [startDate, endDate]
	// and inserts the given rows, in one transaction. Rows outside the
	// window are left untouched.
	ReplaceChannelReport(ctx context.Context, startDate, endDate string, rows []models.ChannelReportRow) error

	// CheckAttributionSums returns the conversions whose stored weights do
	// not sum to 1 within epsilon. A non-empty result is a data-quality
	// warning, not an error.
	CheckAttributionSums(ctx context.Context) ([]string, error)
}

// ReportSink receives a copy of the channel report for analytics. Sinks are
// best-effort; the store remains the system of record.
type ReportSink interface {
	WriteReport(ctx context.Context, rows []models.ChannelReportRow) error
}

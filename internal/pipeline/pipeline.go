// Package pipeline orchestrates one attribution run: extract, build
// journeys, submit, persist, aggregate, export.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/radiusdt/attribution-pipeline/internal/ihc"
	"github.com/radiusdt/attribution-pipeline/internal/journey"
	"github.com/radiusdt/attribution-pipeline/internal/metrics"
	"github.com/radiusdt/attribution-pipeline/internal/models"
	"github.com/radiusdt/attribution-pipeline/internal/report"
	"github.com/radiusdt/attribution-pipeline/internal/storage"
	"go.uber.org/zap"
)

// Config carries one run's parameters.
type Config struct {
	StartDate  string // YYYY-MM-DD, inclusive
	EndDate    string // YYYY-MM-DD, inclusive
	OutputPath string // CSV export destination; empty disables the export
	DryRun     bool   // build and log journeys, no submission or writes
}

// Submitter drives the remote scoring calls. Satisfied by *ihc.Submitter.
type Submitter interface {
	Submit(ctx context.Context, journeys []models.Journey) ([]models.AttributionResult, []models.ConversionOutcome)
}

// Pipeline runs the attribution flow end to end. Per-conversion and
// per-chunk failures are collected into the run summary; only storage and
// export failures abort a run.
type Pipeline struct {
	cfg       Config
	store     storage.Store
	builder   *journey.Builder
	submitter Submitter
	reporter  *report.Reporter
	sink      storage.ReportSink
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func New(cfg Config, store storage.Store, submitter Submitter, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		builder:   journey.NewBuilder(logger),
		submitter: submitter,
		reporter:  report.NewReporter(logger),
		logger:    logger,
		metrics:   m,
	}
}

// SetReportSink attaches an optional analytics mirror for the report.
func (p *Pipeline) SetReportSink(sink storage.ReportSink) { p.sink = sink }

// Run executes one pipeline run over the configured window.
func (p *Pipeline) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		StartDate: p.cfg.StartDate,
		EndDate:   p.cfg.EndDate,
	}
	logger := p.logger.With(zap.String("run_id", summary.RunID))

	logger.Info("starting attribution run",
		zap.String("start_date", p.cfg.StartDate),
		zap.String("end_date", p.cfg.EndDate),
		zap.Bool("dry_run", p.cfg.DryRun),
	)

	conversions, err := p.store.FetchConversions(ctx, p.cfg.StartDate, p.cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("fetching conversions: %w", err)
	}
	if len(conversions) == 0 {
		logger.Warn("no conversions in window")
	}

	journeys, outcomes, err := p.buildJourneys(ctx, logger, conversions)
	if err != nil {
		return nil, err
	}

	if p.cfg.DryRun {
		for _, o := range outcomes {
			summary.Count(o)
		}
		summary.Processed += len(journeys)
		logger.Info("dry run complete, skipping submission and writes",
			zap.Int("journeys", len(journeys)),
		)
		return summary, nil
	}

	journeys, skipped, err := p.filterAttributed(ctx, logger, journeys)
	if err != nil {
		return nil, err
	}
	outcomes = append(outcomes, skipped...)

	results, submitOutcomes := p.submitter.Submit(ctx, journeys)
	outcomes = append(outcomes, submitOutcomes...)

	inserted, err := p.store.UpsertAttributionResults(ctx, results)
	if err != nil {
		return nil, fmt.Errorf("persisting attribution results: %w", err)
	}
	summary.ResultsInserted = inserted
	p.metrics.AddInserted(inserted)
	logger.Info("attribution results persisted",
		zap.Int("received", len(results)),
		zap.Int64("inserted", inserted),
	)

	p.checkSums(ctx, logger)

	rows, err := p.buildReport(ctx, logger)
	if err != nil {
		return nil, err
	}
	summary.ReportRows = len(rows)
	p.metrics.SetReportRows(len(rows))

	for _, o := range outcomes {
		summary.Count(o)
		p.metrics.CountOutcome(string(o.Status))
	}

	logger.Info("attribution run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("attributed", summary.Attributed),
		zap.Int("already_stored", summary.AlreadyStored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed_remote", summary.FailedRemote),
		zap.Int("failed_validation", summary.FailedValidation),
		zap.Int64("results_inserted", summary.ResultsInserted),
		zap.Int("report_rows", summary.ReportRows),
	)
	return summary, nil
}

// buildJourneys fetches the conversions' sessions and constructs validated
// journeys.
func (p *Pipeline) buildJourneys(ctx context.Context, logger *zap.Logger, conversions []models.Conversion) ([]models.Journey, []models.ConversionOutcome, error) {
	userIDs := uniqueUsers(conversions)

	sessions, err := p.store.FetchSessions(ctx, userIDs)
	if err != nil {
		// An empty result would silently skip every conversion, so a
		// session fetch failure is fatal like any other adapter error.
		return nil, nil, fmt.Errorf("fetching sessions: %w", err)
	}

	journeys, outcomes := p.builder.Build(conversions, sessions)
	journeys, failed := journey.Validate(journeys)
	outcomes = append(outcomes, failed...)

	stats := journey.Summarize(journeys)
	p.metrics.AddJourneys(stats.Journeys, stats.Touchpoints)
	logger.Info("journeys built",
		zap.Int("conversions", len(conversions)),
		zap.Int("journeys", stats.Journeys),
		zap.Int("touchpoints", stats.Touchpoints),
		zap.Float64("avg_touchpoints", stats.AvgTouchpoints),
		zap.Int("skipped", len(outcomes)-len(failed)),
		zap.Int("invalid", len(failed)),
	)
	return journeys, outcomes, nil
}

// filterAttributed drops journeys whose conversions already have stored
// weights, so a re-run of the same window does not resubmit them.
func (p *Pipeline) filterAttributed(ctx context.Context, logger *zap.Logger, journeys []models.Journey) ([]models.Journey, []models.ConversionOutcome, error) {
	if len(journeys) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, 0, len(journeys))
	for _, j := range journeys {
		ids = append(ids, j.ConvID)
	}

	attributed, err := p.store.AttributedConversionIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("checking stored attribution: %w", err)
	}
	if len(attributed) == 0 {
		return journeys, nil, nil
	}

	kept := journeys[:0]
	var outcomes []models.ConversionOutcome
	for _, j := range journeys {
		if attributed[j.ConvID] {
			outcomes = append(outcomes, models.ConversionOutcome{
				ConvID: j.ConvID,
				Status: models.OutcomeAlreadyStored,
			})
			continue
		}
		kept = append(kept, j)
	}

	logger.Info("skipping already attributed conversions",
		zap.Int("already_stored", len(outcomes)),
		zap.Int("to_submit", len(kept)),
	)
	return kept, outcomes, nil
}

// checkSums logs conversions whose stored weights do not sum to 1. This is
// a data-quality signal, never fatal: a partially attributed window will
// fill in on the next run.
func (p *Pipeline) checkSums(ctx context.Context, logger *zap.Logger) {
	bad, err := p.store.CheckAttributionSums(ctx)
	if err != nil {
		logger.Warn("attribution sum check failed", zap.Error(err))
		return
	}
	if len(bad) > 0 {
		logger.Warn("conversions with attribution sums off 1.0",
			zap.Int("count", len(bad)),
			zap.Strings("conv_ids", bad),
		)
	}
}

// buildReport recomputes the channel report for the window from the
// currently stored weights, overwrites the window's rows in the store,
// mirrors them to the analytics sink and exports the CSV.
func (p *Pipeline) buildReport(ctx context.Context, logger *zap.Logger) ([]models.ChannelReportRow, error) {
	sessions, err := p.store.FetchSessionsInWindow(ctx, p.cfg.StartDate, p.cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("fetching window sessions: %w", err)
	}

	sessionIDs := make([]string, 0, len(sessions))
	for _, s := range sessions {
		sessionIDs = append(sessionIDs, s.SessionID)
	}

	results, err := p.store.FetchAttributionForSessions(ctx, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching stored attribution: %w", err)
	}

	// Revenue can belong to conversions outside the window when their
	// journeys reach back into it, so resolve conversions by id.
	convIDs := uniqueConvIDs(results)
	conversions, err := p.store.FetchConversionsByID(ctx, convIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching conversions for report: %w", err)
	}

	rows := p.reporter.Aggregate(sessions, conversions, results)

	if err := p.store.ReplaceChannelReport(ctx, p.cfg.StartDate, p.cfg.EndDate, rows); err != nil {
		return nil, fmt.Errorf("writing channel report: %w", err)
	}

	if p.sink != nil {
		if err := p.sink.WriteReport(ctx, rows); err != nil {
			logger.Warn("report sink write failed", zap.Error(err))
		}
	}

	if p.cfg.OutputPath != "" {
		if err := report.ExportCSV(p.cfg.OutputPath, rows); err != nil {
			return nil, fmt.Errorf("exporting report: %w", err)
		}
		logger.Info("report exported", zap.String("path", p.cfg.OutputPath))
	}

	cost, revenue, roas := report.Totals(rows)
	fields := []zap.Field{
		zap.Int("rows", len(rows)),
		zap.Float64("total_cost", cost),
		zap.Float64("total_ihc_revenue", revenue),
	}
	if roas != nil {
		fields = append(fields, zap.Float64("overall_roas", *roas))
	}
	logger.Info("channel report written", fields...)

	return rows, nil
}

func uniqueUsers(conversions []models.Conversion) []string {
	seen := make(map[string]bool, len(conversions))
	var out []string
	for _, c := range conversions {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			out = append(out, c.UserID)
		}
	}
	return out
}

func uniqueConvIDs(results []models.AttributionResult) []string {
	seen := make(map[string]bool, len(results))
	var out []string
	for _, r := range results {
		if !seen[r.ConvID] {
			seen[r.ConvID] = true
			out = append(out, r.ConvID)
		}
	}
	return out
}

var _ Submitter = (*ihc.Submitter)(nil)

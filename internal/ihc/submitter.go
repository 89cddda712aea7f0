package ihc

import (
	"context"

	"github.com/radiusdt/attribution-pipeline/internal/metrics"
	"github.com/radiusdt/attribution-pipeline/internal/models"
	"go.uber.org/zap"
)

// Scorer is the remote scoring call the submitter drives. Satisfied by
// *Client; tests substitute a fake.
type Scorer interface {
	ComputeIHC(ctx context.Context, journeys []models.Journey) ([]models.AttributionResult, error)
}

// Submitter partitions journeys into size-bounded chunks, submits each
// chunk and reconciles the echoed weights. A chunk that still fails after
// the client's retries marks only its own conversions as failed; the run
// continues with the remaining chunks.
type Submitter struct {
	scorer      Scorer
	chunkSize   int
	maxSessions int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewSubmitter(scorer Scorer, chunkSize, maxSessions int, logger *zap.Logger, m *metrics.Metrics) *Submitter {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	if maxSessions <= 0 {
		maxSessions = 3000
	}
	return &Submitter{
		scorer:      scorer,
		chunkSize:   chunkSize,
		maxSessions: maxSessions,
		logger:      logger,
		metrics:     m,
	}
}

// Submit sends all journeys chunk by chunk. It returns every successfully
// parsed weight plus one outcome per submitted conversion. Cancellation is
// honored between chunks: remaining conversions are marked failed and the
// collected results are still returned so they can be persisted.
func (s *Submitter) Submit(ctx context.Context, journeys []models.Journey) ([]models.AttributionResult, []models.ConversionOutcome) {
	chunks := Chunk(journeys, s.chunkSize, s.maxSessions)

	var results []models.AttributionResult
	var outcomes []models.ConversionOutcome

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("run canceled, skipping remaining chunks",
				zap.Int("remaining", len(chunks)-i),
			)
			for _, c := range chunks[i:] {
				outcomes = append(outcomes, failChunk(c, "run canceled before submission")...)
			}
			break
		}

		s.logger.Info("submitting chunk",
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(chunks)),
			zap.Int("journeys", len(chunk)),
		)

		chunkResults, err := s.scorer.ComputeIHC(ctx, chunk)
		if err != nil {
			s.metrics.CountChunk("failed")
			s.logger.Error("chunk submission failed",
				zap.Int("chunk", i+1),
				zap.Strings("conv_ids", convIDs(chunk)),
				zap.Error(err),
			)
			outcomes = append(outcomes, failChunk(chunk, err.Error())...)
			continue
		}

		s.metrics.CountChunk("ok")
		matched, chunkOutcomes := s.reconcile(chunk, chunkResults)
		results = append(results, matched...)
		outcomes = append(outcomes, chunkOutcomes...)
	}

	return results, outcomes
}

// reconcile maps echoed weights back to the submitted chunk strictly by
// (conversion_id, session_id) identity, never by position: the service may
// return fewer or more entries than were submitted.
func (s *Submitter) reconcile(chunk []models.Journey, results []models.AttributionResult) ([]models.AttributionResult, []models.ConversionOutcome) {
	submitted := make(map[string]map[string]bool, len(chunk))
	for _, j := range chunk {
		pairs := make(map[string]bool, len(j.Touchpoints))
		for _, tp := range j.Touchpoints {
			pairs[tp.SessionID] = true
		}
		submitted[j.ConvID] = pairs
	}

	matched := make([]models.AttributionResult, 0, len(results))
	credited := make(map[string]bool)
	for _, r := range results {
		pairs, ok := submitted[r.ConvID]
		if !ok || !pairs[r.SessionID] {
			s.logger.Warn("dropping result for unknown identifier pair",
				zap.String("conv_id", r.ConvID),
				zap.String("session_id", r.SessionID),
			)
			continue
		}
		if !r.Valid() {
			s.logger.Warn("dropping result with out-of-range weight",
				zap.String("conv_id", r.ConvID),
				zap.String("session_id", r.SessionID),
				zap.Float64("ihc", r.IHC),
			)
			continue
		}
		matched = append(matched, r)
		credited[r.ConvID] = true
	}

	var outcomes []models.ConversionOutcome
	for _, j := range chunk {
		if credited[j.ConvID] {
			outcomes = append(outcomes, models.ConversionOutcome{
				ConvID: j.ConvID,
				Status: models.OutcomeAttributed,
			})
			continue
		}
		outcomes = append(outcomes, models.ConversionOutcome{
			ConvID: j.ConvID,
			Status: models.OutcomeFailedRemote,
			Reason: "scoring service returned no weights for conversion",
		})
	}
	return matched, outcomes
}

// Chunk partitions journeys into slices of at most maxJourneys journeys
// and maxSessions touchpoints each, preserving order. A single journey
// larger than maxSessions still gets its own chunk rather than being
// split, since the service scores whole journeys.
func Chunk(journeys []models.Journey, maxJourneys, maxSessions int) [][]models.Journey {
	var chunks [][]models.Journey
	var current []models.Journey
	sessions := 0

	for _, j := range journeys {
		if len(current) > 0 &&
			(len(current) >= maxJourneys || sessions+j.Len() > maxSessions) {
			chunks = append(chunks, current)
			current = nil
			sessions = 0
		}
		current = append(current, j)
		sessions += j.Len()
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func failChunk(chunk []models.Journey, reason string) []models.ConversionOutcome {
	outcomes := make([]models.ConversionOutcome, 0, len(chunk))
	for _, j := range chunk {
		outcomes = append(outcomes, models.ConversionOutcome{
			ConvID: j.ConvID,
			Status: models.OutcomeFailedRemote,
			Reason: reason,
		})
	}
	return outcomes
}

func convIDs(journeys []models.Journey) []string {
	ids := make([]string, 0, len(journeys))
	for _, j := range journeys {
		ids = append(ids, j.ConvID)
	}
	return ids
}

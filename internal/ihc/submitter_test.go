package ihc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/attribution-pipeline/internal/models"
)

type fakeScorer struct {
	calls   [][]models.Journey
	compute func(chunk []models.Journey) ([]models.AttributionResult, error)
}

func (f *fakeScorer) ComputeIHC(ctx context.Context, journeys []models.Journey) ([]models.AttributionResult, error) {
	f.calls = append(f.calls, journeys)
	return f.compute(journeys)
}

// echoScorer returns an even weight split across each journey's touchpoints.
func echoScorer() *fakeScorer {
	f := &fakeScorer{}
	f.compute = func(chunk []models.Journey) ([]models.AttributionResult, error) {
		var out []models.AttributionResult
		for _, j := range chunk {
			for _, tp := range j.Touchpoints {
				out = append(out, models.AttributionResult{
					ConvID:    j.ConvID,
					SessionID: tp.SessionID,
					IHC:       1.0 / float64(len(j.Touchpoints)),
				})
			}
		}
		return out, nil
	}
	return f
}

func makeJourneys(n, touchpoints int) []models.Journey {
	at := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	journeys := make([]models.Journey, 0, n)
	for i := 0; i < n; i++ {
		j := models.Journey{
			ConvID:   fmt.Sprintf("c%d", i),
			UserID:   fmt.Sprintf("u%d", i),
			ConvTime: at.Add(time.Duration(i) * time.Hour),
		}
		for k := 0; k < touchpoints; k++ {
			j.Touchpoints = append(j.Touchpoints, models.Touchpoint{
				SessionID: fmt.Sprintf("c%d-s%d", i, k),
				Channel:   "Social",
				EventTime: j.ConvTime.Add(-time.Duration(touchpoints-k) * time.Minute),
				Role:      models.RoleHolder,
			})
		}
		journeys = append(journeys, j)
	}
	return journeys
}

// TestChunk_ByJourneyCount splits n journeys into ceil(n/k) chunks in order.
func TestChunk_ByJourneyCount(t *testing.T) {
	journeys := makeJourneys(25, 1)
	chunks := Chunk(journeys, 10, 3000)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 5)
	assert.Equal(t, "c0", chunks[0][0].ConvID)
	assert.Equal(t, "c24", chunks[2][4].ConvID)
}

// TestChunk_BySessionCount starts a new chunk when the touchpoint budget
// would be exceeded.
func TestChunk_BySessionCount(t *testing.T) {
	journeys := makeJourneys(4, 3)
	chunks := Chunk(journeys, 100, 7)

	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 2)
}

// TestChunk_OversizedJourney keeps a journey larger than the session budget
// whole, in a chunk of its own.
func TestChunk_OversizedJourney(t *testing.T) {
	journeys := append(makeJourneys(1, 2), makeJourneys(1, 10)[0])
	journeys[1].ConvID = "big"
	chunks := Chunk(journeys, 100, 5)

	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 1)
	require.Len(t, chunks[1], 1)
	assert.Equal(t, "big", chunks[1][0].ConvID)
	assert.Equal(t, 10, chunks[1][0].Len())
}

// TestChunk_Empty returns no chunks for no journeys.
func TestChunk_Empty(t *testing.T) {
	assert.Empty(t, Chunk(nil, 10, 3000))
}

// TestSubmit_AllChunksSucceed attributes every conversion and keeps the
// journeys-per-call bound.
func TestSubmit_AllChunksSucceed(t *testing.T) {
	scorer := echoScorer()
	s := NewSubmitter(scorer, 10, 3000, zap.NewNop(), nil)

	journeys := makeJourneys(25, 2)
	results, outcomes := s.Submit(context.Background(), journeys)

	assert.Len(t, scorer.calls, 3)
	assert.Len(t, results, 50)
	require.Len(t, outcomes, 25)
	for _, o := range outcomes {
		assert.Equal(t, models.OutcomeAttributed, o.Status)
	}
}

// TestSubmit_FailedChunkIsolated marks only the failing chunk's conversions
// failed and still processes the rest.
func TestSubmit_FailedChunkIsolated(t *testing.T) {
	var call int
	scorer := &fakeScorer{}
	scorer.compute = func(chunk []models.Journey) ([]models.AttributionResult, error) {
		call++
		if call == 2 {
			return nil, &APIError{StatusCode: 503, Message: "unavailable", Retryable: true}
		}
		var out []models.AttributionResult
		for _, j := range chunk {
			out = append(out, models.AttributionResult{ConvID: j.ConvID, SessionID: j.Touchpoints[0].SessionID, IHC: 1.0})
		}
		return out, nil
	}
	s := NewSubmitter(scorer, 10, 3000, zap.NewNop(), nil)

	journeys := makeJourneys(25, 1)
	results, outcomes := s.Submit(context.Background(), journeys)

	assert.Len(t, results, 15)
	require.Len(t, outcomes, 25)

	byStatus := map[models.OutcomeStatus]int{}
	for _, o := range outcomes {
		byStatus[o.Status]++
	}
	assert.Equal(t, 15, byStatus[models.OutcomeAttributed])
	assert.Equal(t, 10, byStatus[models.OutcomeFailedRemote])
}

// TestSubmit_ReconcilesByIdentity matches weights by id pair even when the
// service reorders them, and drops pairs that were never submitted.
func TestSubmit_ReconcilesByIdentity(t *testing.T) {
	scorer := &fakeScorer{}
	scorer.compute = func(chunk []models.Journey) ([]models.AttributionResult, error) {
		return []models.AttributionResult{
			{ConvID: "intruder", SessionID: "sx", IHC: 1.0},
			{ConvID: "c1", SessionID: "c1-s1", IHC: 0.4},
			{ConvID: "c1", SessionID: "c1-s0", IHC: 0.6},
		}, nil
	}
	s := NewSubmitter(scorer, 10, 3000, zap.NewNop(), nil)

	journeys := makeJourneys(2, 2)
	results, outcomes := s.Submit(context.Background(), journeys)

	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ConvID)
	assert.Equal(t, "c1", results[1].ConvID)

	require.Len(t, outcomes, 2)
	assert.Equal(t, models.OutcomeAttributed, outcomeFor(t, outcomes, "c1").Status)
	assert.Equal(t, models.OutcomeFailedRemote, outcomeFor(t, outcomes, "c0").Status)
}

// TestSubmit_DropsInvalidWeights discards out-of-range weights rather than
// persisting them.
func TestSubmit_DropsInvalidWeights(t *testing.T) {
	scorer := &fakeScorer{}
	scorer.compute = func(chunk []models.Journey) ([]models.AttributionResult, error) {
		return []models.AttributionResult{
			{ConvID: "c0", SessionID: "c0-s0", IHC: 1.7},
		}, nil
	}
	s := NewSubmitter(scorer, 10, 3000, zap.NewNop(), nil)

	results, outcomes := s.Submit(context.Background(), makeJourneys(1, 1))
	assert.Empty(t, results)
	require.Len(t, outcomes, 1)
	assert.Equal(t, models.OutcomeFailedRemote, outcomes[0].Status)
}

// TestSubmit_CanceledContext fails the remaining chunks without calling the
// scorer and still returns what was collected so far.
func TestSubmit_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scorer := echoScorer()
	s := NewSubmitter(scorer, 10, 3000, zap.NewNop(), nil)

	results, outcomes := s.Submit(ctx, makeJourneys(25, 1))
	assert.Empty(t, scorer.calls)
	assert.Empty(t, results)
	require.Len(t, outcomes, 25)
	for _, o := range outcomes {
		assert.Equal(t, models.OutcomeFailedRemote, o.Status)
	}
}

func outcomeFor(t *testing.T, outcomes []models.ConversionOutcome, convID string) models.ConversionOutcome {
	t.Helper()
	for _, o := range outcomes {
		if o.ConvID == convID {
			return o
		}
	}
	t.Fatalf("no outcome for conversion %s", convID)
	return models.ConversionOutcome{}
}

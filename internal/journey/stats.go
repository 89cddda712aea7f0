package journey

import (
	"fmt"

	"github.com/radiusdt/attribution-pipeline/internal/models"
)

// Stats summarizes a set of journeys for run logging.
type Stats struct {
	Journeys           int     `json:"journeys"`
	Touchpoints        int     `json:"touchpoints"`
	AvgTouchpoints     float64 `json:"avg_touchpoints"`
	MinTouchpoints     int     `json:"min_touchpoints"`
	MaxTouchpoints     int     `json:"max_touchpoints"`
	SingleTouchJourney int     `json:"single_touch_journeys"`
}

// Summarize computes descriptive statistics over the built journeys.
func Summarize(journeys []models.Journey) Stats {
	if len(journeys) == 0 {
		return Stats{}
	}

	s := Stats{Journeys: len(journeys), MinTouchpoints: journeys[0].Len()}
	for _, j := range journeys {
		n := j.Len()
		s.Touchpoints += n
		if n < s.MinTouchpoints {
			s.MinTouchpoints = n
		}
		if n > s.MaxTouchpoints {
			s.MaxTouchpoints = n
		}
		if n == 1 {
			s.SingleTouchJourney++
		}
	}
	s.AvgTouchpoints = float64(s.Touchpoints) / float64(s.Journeys)
	return s
}

// Validate splits journeys into submittable ones and validation failures.
// A journey is malformed when an identifier is missing, a timestamp is
// zero, or a touchpoint postdates its conversion; the scoring service
// rejects such payloads, so they are surfaced before submission instead.
func Validate(journeys []models.Journey) (valid []models.Journey, failed []models.ConversionOutcome) {
	for _, j := range journeys {
		if err := validateJourney(j); err != nil {
			failed = append(failed, models.ConversionOutcome{
				ConvID: j.ConvID,
				Status: models.OutcomeFailedValidation,
				Reason: err.Error(),
			})
			continue
		}
		valid = append(valid, j)
	}
	return valid, failed
}

func validateJourney(j models.Journey) error {
	if j.ConvID == "" {
		return fmt.Errorf("journey has empty conversion id")
	}
	if j.ConvTime.IsZero() {
		return fmt.Errorf("journey %s has zero conversion time", j.ConvID)
	}
	if len(j.Touchpoints) == 0 {
		return fmt.Errorf("journey %s has no touchpoints", j.ConvID)
	}
	for _, tp := range j.Touchpoints {
		if tp.SessionID == "" {
			return fmt.Errorf("journey %s has touchpoint with empty session id", j.ConvID)
		}
		if tp.Channel == "" {
			return fmt.Errorf("journey %s session %s has empty channel", j.ConvID, tp.SessionID)
		}
		if tp.EventTime.IsZero() {
			return fmt.Errorf("journey %s session %s has zero timestamp", j.ConvID, tp.SessionID)
		}
		if tp.EventTime.After(j.ConvTime) {
			return fmt.Errorf("journey %s session %s postdates the conversion", j.ConvID, tp.SessionID)
		}
		if tp.Role == "" {
			return fmt.Errorf("journey %s session %s has no role", j.ConvID, tp.SessionID)
		}
	}
	return nil
}

package journey

import (
	"sort"
	"time"

	"github.com/radiusdt/attribution-pipeline/internal/models"
	"go.uber.org/zap"
)

// Builder turns flat session and conversion rows into well-formed journeys.
// Every session is assigned to at most one conversion, and only to a
// conversion of the same user that happened at or after the session.
type Builder struct {
	logger *zap.Logger
}

func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build assigns sessions to conversions and tags touchpoint roles.
//
// Conversions are walked per user in (event_time, conv_id) order. Each
// conversion consumes the user's unassigned sessions with event_time in
// (lastConsumed, conv.event_time], closed on the upper bound, so a session
// at exactly the conversion's timestamp belongs to that conversion. Two
// conversions sharing a timestamp are ordered by conv_id and the boundary
// sessions go to whichever is processed first.
//
// Conversions with no eligible sessions produce a skipped outcome instead
// of an empty journey; they have nothing to attribute. The returned
// journeys are ordered by (conversion event_time, conv_id) so batching is
// reproducible across runs.
func (b *Builder) Build(conversions []models.Conversion, sessions []models.Session) ([]models.Journey, []models.ConversionOutcome) {
	ordered := make([]models.Conversion, len(conversions))
	copy(ordered, conversions)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].EventTime.Equal(ordered[j].EventTime) {
			return ordered[i].EventTime.Before(ordered[j].EventTime)
		}
		return ordered[i].ConvID < ordered[j].ConvID
	})

	sessionsByUser := make(map[string][]models.Session)
	for _, s := range sessions {
		sessionsByUser[s.UserID] = append(sessionsByUser[s.UserID], s)
	}
	for _, userSessions := range sessionsByUser {
		sort.Slice(userSessions, func(i, j int) bool {
			if !userSessions[i].EventTime.Equal(userSessions[j].EventTime) {
				return userSessions[i].EventTime.Before(userSessions[j].EventTime)
			}
			return userSessions[i].SessionID < userSessions[j].SessionID
		})
	}

	type cursor struct {
		lastConsumed time.Time
		consumed     bool
	}
	cursors := make(map[string]*cursor)

	var journeys []models.Journey
	var outcomes []models.ConversionOutcome

	for _, conv := range ordered {
		cur := cursors[conv.UserID]
		if cur == nil {
			cur = &cursor{}
			cursors[conv.UserID] = cur
		}

		var touchpoints []models.Touchpoint
		for _, s := range sessionsByUser[conv.UserID] {
			if s.EventTime.After(conv.EventTime) {
				break
			}
			if cur.consumed && !s.EventTime.After(cur.lastConsumed) {
				continue
			}
			touchpoints = append(touchpoints, models.Touchpoint{
				SessionID: s.SessionID,
				Channel:   s.Channel,
				EventTime: s.EventTime,
			})
		}

		cur.lastConsumed = conv.EventTime
		cur.consumed = true

		if len(touchpoints) == 0 {
			b.logger.Warn("conversion has no eligible sessions",
				zap.String("conv_id", conv.ConvID),
				zap.String("user_id", conv.UserID),
			)
			outcomes = append(outcomes, models.ConversionOutcome{
				ConvID: conv.ConvID,
				Status: models.OutcomeSkippedNoSession,
				Reason: "no unassigned sessions before conversion",
			})
			continue
		}

		tagRoles(touchpoints)
		journeys = append(journeys, models.Journey{
			ConvID:      conv.ConvID,
			UserID:      conv.UserID,
			ConvTime:    conv.EventTime,
			Revenue:     conv.Revenue,
			Touchpoints: touchpoints,
		})
	}

	return journeys, outcomes
}

// tagRoles marks the first touchpoint as initializer, the last as closer
// and everything between as holder. A single touchpoint is both.
func tagRoles(touchpoints []models.Touchpoint) {
	if len(touchpoints) == 1 {
		touchpoints[0].Role = models.RoleInitializerCloser
		return
	}
	for i := range touchpoints {
		switch i {
		case 0:
			touchpoints[i].Role = models.RoleInitializer
		case len(touchpoints) - 1:
			touchpoints[i].Role = models.RoleCloser
		default:
			touchpoints[i].Role = models.RoleHolder
		}
	}
}

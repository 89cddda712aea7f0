package models

import "time"

// Role marks a touchpoint's position within a journey.
type Role string

const (
	RoleInitializer Role = "initializer"
	RoleHolder      Role = "holder"
	RoleCloser      Role = "closer"
	// RoleInitializerCloser is used when a journey has a single touchpoint,
	// which is both the first and the last interaction.
	RoleInitializerCloser Role = "initializer_closer"
)

// Touchpoint is one session placed inside a journey.
type Touchpoint struct {
	SessionID string    `json:"session_id"`
	Channel   string    `json:"channel_name"`
	EventTime time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
}

// Journey is the ordered sequence of a user's touchpoints leading to one
// conversion. Journeys exist only in memory for the duration of a run.
type Journey struct {
	ConvID      string       `json:"conversion_id"`
	UserID      string       `json:"-"`
	ConvTime    time.Time    `json:"-"`
	Revenue     float64      `json:"-"`
	Touchpoints []Touchpoint `json:"touchpoints"`
}

// Len returns the number of touchpoints in the journey.
func (j Journey) Len() int { return len(j.Touchpoints) }

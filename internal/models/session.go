package models

import "time"

// Session represents a single marketing touchpoint read from the store.
// Sessions are immutable inputs; cost is joined from the session costs
// table and defaults to zero when no cost row exists.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Channel   string    `json:"channel_name"`
	EventTime time.Time `json:"event_time"`
	Cost      float64   `json:"cost"`
}

// Date returns the session's event day in YYYY-MM-DD form.
func (s Session) Date() string {
	return s.EventTime.Format("2006-01-02")
}

package models

import "time"

// Conversion represents an outcome event (an order) read from the store.
type Conversion struct {
	ConvID    string    `json:"conv_id"`
	UserID    string    `json:"user_id"`
	EventTime time.Time `json:"event_time"`
	Revenue   float64   `json:"revenue"`
}

// Date returns the conversion's event day in YYYY-MM-DD form.
func (c Conversion) Date() string {
	return c.EventTime.Format("2006-01-02")
}

package models

// AttributionResult is the fractional credit the scoring service assigned
// to one session for one conversion. Persisted with a uniqueness constraint
// on (conv_id, session_id); re-inserting the same pair is a no-op.
type AttributionResult struct {
	ConvID    string  `json:"conversion_id"`
	SessionID string  `json:"session_id"`
	IHC       float64 `json:"ihc"`
}

// Valid reports whether the weight is inside the contractual [0,1] range.
func (r AttributionResult) Valid() bool {
	return r.ConvID != "" && r.SessionID != "" && r.IHC >= 0 && r.IHC <= 1
}

// ChannelReportRow is one line of the per-channel, per-date performance
// report. CPO and ROAS are nil when their denominator is zero.
type ChannelReportRow struct {
	Channel    string   `json:"channel_name"`
	Date       string   `json:"date"`
	Cost       float64  `json:"cost"`
	IHC        float64  `json:"ihc"`
	IHCRevenue float64  `json:"ihc_revenue"`
	CPO        *float64 `json:"cpo,omitempty"`
	ROAS       *float64 `json:"roas,omitempty"`
}

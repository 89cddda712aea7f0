package ihc

// RedistributionRule controls how credit is moved away from a set of
// channels for one journey role.
type RedistributionRule struct {
	Direction        string   `json:"direction"`
	ReceiveThreshold float64  `json:"receive_threshold"`
	Channels         []string `json:"redistribution_channel_labels"`
}

// RedistributionParameter asks the scoring service to shift credit away
// from the given channels (typically "Direct") onto surrounding
// touchpoints.
type RedistributionParameter struct {
	Initializer RedistributionRule `json:"initializer"`
	Holder      RedistributionRule `json:"holder"`
	Closer      RedistributionRule `json:"closer"`
}

// DefaultRedistribution returns the standard redistribution away from the
// given channels. With no channels it defaults to "Direct".
func DefaultRedistribution(channels ...string) *RedistributionParameter {
	if len(channels) == 0 {
		channels = []string{"Direct"}
	}
	return &RedistributionParameter{
		Initializer: RedistributionRule{
			Direction:        "earlier_sessions_only",
			ReceiveThreshold: 0,
			Channels:         channels,
		},
		Holder: RedistributionRule{
			Direction:        "any_session",
			ReceiveThreshold: 0,
			Channels:         channels,
		},
		Closer: RedistributionRule{
			Direction:        "later_sessions_only",
			ReceiveThreshold: 0.1,
			Channels:         channels,
		},
	}
}

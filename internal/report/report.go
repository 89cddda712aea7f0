// Package report joins stored attribution weights with session cost and
// conversion revenue into the per-channel, per-date performance report.
package report

import (
	"sort"

	"github.com/radiusdt/attribution-pipeline/internal/models"
	"go.uber.org/zap"
)

// Reporter computes channel/date metrics from a run window's data.
type Reporter struct {
	logger *zap.Logger
}

func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{logger: logger}
}

type channelDate struct {
	channel string
	date    string
}

// Aggregate builds the channel report. Cost is accumulated from every
// in-window session whether or not it earned attribution credit: spend is
// a property of the channel and day, not of attribution success. IHC and
// attributed revenue come from the stored weights joined against their
// session (for channel and day) and conversion (for revenue).
//
// CPO is cost/ihc, omitted when ihc is zero; ROAS is ihc_revenue/cost,
// omitted when cost is zero. Rows come back sorted by (date, channel).
func (r *Reporter) Aggregate(sessions []models.Session, conversions []models.Conversion, results []models.AttributionResult) []models.ChannelReportRow {
	sessionByID := make(map[string]models.Session, len(sessions))
	for _, s := range sessions {
		sessionByID[s.SessionID] = s
	}
	revenueByConv := make(map[string]float64, len(conversions))
	for _, c := range conversions {
		revenueByConv[c.ConvID] = c.Revenue
	}

	type bucket struct {
		cost       float64
		ihc        float64
		ihcRevenue float64
	}
	buckets := make(map[channelDate]*bucket)
	get := func(key channelDate) *bucket {
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		return b
	}

	for _, s := range sessions {
		if s.Channel == "" {
			r.logger.Warn("session has no channel, excluded from report",
				zap.String("session_id", s.SessionID),
			)
			continue
		}
		get(channelDate{s.Channel, s.Date()}).cost += s.Cost
	}

	for _, res := range results {
		s, ok := sessionByID[res.SessionID]
		if !ok || s.Channel == "" {
			continue
		}
		revenue, ok := revenueByConv[res.ConvID]
		if !ok {
			r.logger.Warn("attribution row references unknown conversion",
				zap.String("conv_id", res.ConvID),
				zap.String("session_id", res.SessionID),
			)
		}
		b := get(channelDate{s.Channel, s.Date()})
		b.ihc += res.IHC
		b.ihcRevenue += res.IHC * revenue
	}

	rows := make([]models.ChannelReportRow, 0, len(buckets))
	for key, b := range buckets {
		row := models.ChannelReportRow{
			Channel:    key.channel,
			Date:       key.date,
			Cost:       b.cost,
			IHC:        b.ihc,
			IHCRevenue: b.ihcRevenue,
		}
		if b.ihc != 0 {
			cpo := b.cost / b.ihc
			row.CPO = &cpo
		}
		if b.cost != 0 {
			roas := b.ihcRevenue / b.cost
			row.ROAS = &roas
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].Channel < rows[j].Channel
	})
	return rows
}

// Totals sums the report for run-level logging. ROAS is nil when there is
// no spend.
func Totals(rows []models.ChannelReportRow) (cost, revenue float64, roas *float64) {
	for _, row := range rows {
		cost += row.Cost
		revenue += row.IHCRevenue
	}
	if cost != 0 {
		v := revenue / cost
		roas = &v
	}
	return cost, revenue, roas
}

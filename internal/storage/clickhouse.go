package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/radiusdt/attribution-pipeline/internal/models"
)

// ClickHouseReportSink mirrors channel report rows into ClickHouse for
// analytics dashboards. Writes are best-effort; callers log and continue
// on failure.
type ClickHouseReportSink struct {
	conn  driver.Conn
	table string
}

func NewClickHouseReportSink(conn driver.Conn, table string) *ClickHouseReportSink {
	return &ClickHouseReportSink{conn: conn, table: table}
}

func (s *ClickHouseReportSink) WriteReport(ctx context.Context, rows []models.ChannelReportRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (channel_name, date, cost, ihc, ihc_revenue, written_at)", s.table,
	))
	if err != nil {
		return fmt.Errorf("failed to prepare report batch: %w", err)
	}

	now := time.Now().UTC()
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return fmt.Errorf("invalid report date %q: %w", row.Date, err)
		}
		if err := batch.Append(row.Channel, date, row.Cost, row.IHC, row.IHCRevenue, now); err != nil {
			return fmt.Errorf("failed to append report row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send report batch: %w", err)
	}
	return nil
}

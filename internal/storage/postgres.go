package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/attribution-pipeline/internal/models"
)

// attributionSumEpsilon is the tolerance when checking that a conversion's
// stored weights sum to 1.
const attributionSumEpsilon = 0.001

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FetchConversions(ctx context.Context, startDate, endDate string) ([]models.Conversion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conv_id, user_id, event_time, revenue
		FROM conversions
		WHERE event_time::date >= $1::date AND event_time::date <= $2::date
		ORDER BY event_time, conv_id
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversions: %w", err)
	}
	defer rows.Close()

	var conversions []models.Conversion
	for rows.Next() {
		var c models.Conversion
		if err := rows.Scan(&c.ConvID, &c.UserID, &c.EventTime, &c.Revenue); err != nil {
			return nil, err
		}
		conversions = append(conversions, c)
	}

	return conversions, rows.Err()
}

func (s *PostgresStore) FetchSessions(ctx context.Context, userIDs []string) ([]models.Session, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ss.session_id, ss.user_id, ss.channel_name, ss.event_time, COALESCE(sc.cost, 0)
		FROM session_sources ss
		LEFT JOIN session_costs sc ON ss.session_id = sc.session_id
		WHERE ss.user_id = ANY($1)
		ORDER BY ss.event_time, ss.session_id
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (s *PostgresStore) FetchSessionsInWindow(ctx context.Context, startDate, endDate string) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ss.session_id, ss.user_id, ss.channel_name, ss.event_time, COALESCE(sc.cost, 0)
		FROM session_sources ss
		LEFT JOIN session_costs sc ON ss.session_id = sc.session_id
		WHERE ss.event_time::date >= $1::date AND ss.event_time::date <= $2::date
		ORDER BY ss.event_time, ss.session_id
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions in window: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (s *PostgresStore) FetchConversionsByID(ctx context.Context, convIDs []string) ([]models.Conversion, error) {
	if len(convIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT conv_id, user_id, event_time, revenue
		FROM conversions
		WHERE conv_id = ANY($1)
	`, convIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversions by id: %w", err)
	}
	defer rows.Close()

	var conversions []models.Conversion
	for rows.Next() {
		var c models.Conversion
		if err := rows.Scan(&c.ConvID, &c.UserID, &c.EventTime, &c.Revenue); err != nil {
			return nil, err
		}
		conversions = append(conversions, c)
	}

	return conversions, rows.Err()
}

func (s *PostgresStore) AttributedConversionIDs(ctx context.Context, convIDs []string) (map[string]bool, error) {
	if len(convIDs) == 0 {
		return map[string]bool{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT conv_id
		FROM attribution_customer_journey
		WHERE conv_id = ANY($1)
	`, convIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check attributed conversions: %w", err)
	}
	defer rows.Close()

	attributed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		attributed[id] = true
	}

	return attributed, rows.Err()
}

func (s *PostgresStore) UpsertAttributionResults(ctx context.Context, results []models.AttributionResult) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for _, r := range results {
		tag, err := tx.Exec(ctx, `
			INSERT INTO attribution_customer_journey (conv_id, session_id, ihc)
			VALUES ($1, $2, $3)
			ON CONFLICT (conv_id, session_id) DO NOTHING
		`, r.ConvID, r.SessionID, r.IHC)
		if err != nil {
			return 0, fmt.Errorf("failed to insert attribution result for conversion %s: %w", r.ConvID, err)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit attribution results: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) FetchAttributionForSessions(ctx context.Context, sessionIDs []string) ([]models.AttributionResult, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT conv_id, session_id, ihc
		FROM attribution_customer_journey
		WHERE session_id = ANY($1)
	`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attribution results: %w", err)
	}
	defer rows.Close()

	var results []models.AttributionResult
	for rows.Next() {
		var r models.AttributionResult
		if err := rows.Scan(&r.ConvID, &r.SessionID, &r.IHC); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

func (s *PostgresStore) ReplaceChannelReport(ctx context.Context, startDate, endDate string, rows []models.ChannelReportRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM channel_reporting
		WHERE date >= $1::date AND date <= $2::date
	`, startDate, endDate)
	if err != nil {
		return fmt.Errorf("failed to clear channel report window: %w", err)
	}

	for _, row := range rows {
		_, err = tx.Exec(ctx, `
			INSERT INTO channel_reporting (channel_name, date, cost, ihc, ihc_revenue)
			VALUES ($1, $2::date, $3, $4, $5)
		`, row.Channel, row.Date, row.Cost, row.IHC, row.IHCRevenue)
		if err != nil {
			return fmt.Errorf("failed to insert channel report row: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) CheckAttributionSums(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conv_id
		FROM attribution_customer_journey
		GROUP BY conv_id
		HAVING ABS(SUM(ihc) - 1.0) > $1
	`, attributionSumEpsilon)
	if err != nil {
		return nil, fmt.Errorf("failed to check attribution sums: %w", err)
	}
	defer rows.Close()

	var convIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		convIDs = append(convIDs, id)
	}

	return convIDs, rows.Err()
}

func scanSessions(rows pgx.Rows) ([]models.Session, error) {
	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.SessionID, &s.UserID, &s.Channel, &s.EventTime, &s.Cost); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

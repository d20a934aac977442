package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Nijaek/analytics-dashboard/internal/models"
)

// RollupTotals sums pre-aggregated rows whose hour falls in [start, end).
// Unique counts are sums of per-hour uniques, so a session spanning two
// hours is counted in each.
func (s *Store) RollupTotals(ctx context.Context, projectID int64, start, end time.Time) (Totals, error) {
	query := `
		SELECT COALESCE(SUM(count), 0), COALESCE(SUM(unique_sessions), 0), COALESCE(SUM(unique_users), 0)
		FROM hourly_rollups
		WHERE project_id = $1 AND hour >= $2 AND hour < $3
	`

	var t Totals
	err := s.db.QueryRowContext(ctx, query, projectID, start, end).
		Scan(&t.Count, &t.UniqueSessions, &t.UniqueUsers)
	if err != nil {
		return Totals{}, fmt.Errorf("rollup totals: %w", err)
	}
	return t, nil
}

// RollupCountsByName sums pre-aggregated rows per event name over [start, end).
func (s *Store) RollupCountsByName(ctx context.Context, projectID int64, start, end time.Time) ([]models.TopEventRow, error) {
	query := `
		SELECT event_name, SUM(count), SUM(unique_sessions), SUM(unique_users)
		FROM hourly_rollups
		WHERE project_id = $1 AND hour >= $2 AND hour < $3
		GROUP BY event_name
		ORDER BY SUM(count) DESC, event_name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, start, end)
	if err != nil {
		return nil, fmt.Errorf("rollup counts by name: %w", err)
	}
	defer rows.Close()

	out := []models.TopEventRow{}
	for rows.Next() {
		var r models.TopEventRow
		if err := rows.Scan(&r.EventName, &r.Count, &r.UniqueSessions, &r.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan rollup counts: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rollup counts by name: %w", err)
	}
	return out, nil
}

// RollupBuckets buckets pre-aggregated counts over [start, end).
func (s *Store) RollupBuckets(ctx context.Context, projectID int64, start, end time.Time, bucket Bucket) ([]models.TimeseriesPoint, error) {
	unit, err := truncUnit(bucket)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT date_trunc('%s', hour) AS bucket, SUM(count)
		FROM hourly_rollups
		WHERE project_id = $1 AND hour >= $2 AND hour < $3
		GROUP BY bucket
		ORDER BY bucket ASC
	`, unit)

	rows, err := s.db.QueryContext(ctx, query, projectID, start, end)
	if err != nil {
		return nil, fmt.Errorf("rollup buckets: %w", err)
	}
	defer rows.Close()

	out := []models.TimeseriesPoint{}
	for rows.Next() {
		var p models.TimeseriesPoint
		if err := rows.Scan(&p.Bucket, &p.Count); err != nil {
			return nil, fmt.Errorf("scan rollup bucket: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rollup buckets: %w", err)
	}
	return out, nil
}

// Recompute rebuilds every rollup row touched by events at or after
// since. Existing rows are overwritten with freshly aggregated values,
// which also seals hours that stopped receiving events.
func (s *Store) Recompute(ctx context.Context, since time.Time) (int64, error) {
	query := `
		INSERT INTO hourly_rollups (project_id, event_name, hour, count, unique_sessions, unique_users)
		SELECT project_id, event_name, date_trunc('hour', "timestamp") AS hour,
		       COUNT(*), COUNT(DISTINCT session_id), COUNT(DISTINCT distinct_id)
		FROM events
		WHERE "timestamp" >= $1
		GROUP BY project_id, event_name, date_trunc('hour', "timestamp")
		ON CONFLICT (project_id, event_name, hour) DO UPDATE
		SET count = EXCLUDED.count,
		    unique_sessions = EXCLUDED.unique_sessions,
		    unique_users = EXCLUDED.unique_users
	`

	res, err := s.db.ExecContext(ctx, query, since)
	if err != nil {
		return 0, fmt.Errorf("recompute rollups: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recompute rollups: %w", err)
	}
	return n, nil
}

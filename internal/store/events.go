package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Nijaek/analytics-dashboard/internal/models"
)

// EventRecord pairs a buffered event with the project it belongs to
// for persistence.
type EventRecord struct {
	ProjectID int64
	models.BufferedEvent
}

// Bucket selects the date_trunc unit for timeseries reads.
type Bucket string

const (
	BucketHour Bucket = "hour"
	BucketDay  Bucket = "day"
)

func truncUnit(b Bucket) (string, error) {
	switch b {
	case BucketHour, BucketDay:
		return string(b), nil
	default:
		return "", fmt.Errorf("unknown bucket %q", b)
	}
}

// InsertEvents persists a drained batch in a single transaction.
// Conflicts on event_uuid are skipped so redelivered batches do not
// duplicate rows; the returned count excludes skipped events.
func (s *Store) InsertEvents(ctx context.Context, records []EventRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO events (event_uuid, project_id, event_name, distinct_id, session_id, properties, page_url, referrer, user_agent, ip_hash, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_uuid) DO NOTHING
	`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert events: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare insert events: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range records {
		var props []byte
		if len(r.Properties) > 0 {
			props = r.Properties
		}
		res, err := stmt.ExecContext(ctx,
			r.EventUUID, r.ProjectID, r.EventName, r.DistinctID, r.SessionID,
			props, r.PageURL, r.Referrer, r.UserAgent, r.IPHash, r.Timestamp)
		if err != nil {
			return 0, fmt.Errorf("insert event %s: %w", r.EventUUID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert events: %w", err)
	}
	return inserted, nil
}

// RawTotals aggregates raw events over [start, end).
func (s *Store) RawTotals(ctx context.Context, projectID int64, start, end time.Time) (Totals, error) {
	query := `
		SELECT COUNT(*), COUNT(DISTINCT session_id), COUNT(DISTINCT distinct_id)
		FROM events
		WHERE project_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3
	`

	var t Totals
	err := s.db.QueryRowContext(ctx, query, projectID, start, end).
		Scan(&t.Count, &t.UniqueSessions, &t.UniqueUsers)
	if err != nil {
		return Totals{}, fmt.Errorf("raw totals: %w", err)
	}
	return t, nil
}

// RawCountsByName aggregates raw events per event name over [start, end).
func (s *Store) RawCountsByName(ctx context.Context, projectID int64, start, end time.Time) ([]models.TopEventRow, error) {
	query := `
		SELECT event_name, COUNT(*), COUNT(DISTINCT session_id), COUNT(DISTINCT distinct_id)
		FROM events
		WHERE project_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3
		GROUP BY event_name
		ORDER BY COUNT(*) DESC, event_name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, start, end)
	if err != nil {
		return nil, fmt.Errorf("raw counts by name: %w", err)
	}
	defer rows.Close()

	out := []models.TopEventRow{}
	for rows.Next() {
		var r models.TopEventRow
		if err := rows.Scan(&r.EventName, &r.Count, &r.UniqueSessions, &r.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan raw counts: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("raw counts by name: %w", err)
	}
	return out, nil
}

// RawBuckets buckets raw event counts over [start, end).
func (s *Store) RawBuckets(ctx context.Context, projectID int64, start, end time.Time, bucket Bucket) ([]models.TimeseriesPoint, error) {
	unit, err := truncUnit(bucket)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT date_trunc('%s', "timestamp") AS bucket, COUNT(*)
		FROM events
		WHERE project_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3
		GROUP BY bucket
		ORDER BY bucket ASC
	`, unit)

	rows, err := s.db.QueryContext(ctx, query, projectID, start, end)
	if err != nil {
		return nil, fmt.Errorf("raw buckets: %w", err)
	}
	defer rows.Close()

	out := []models.TimeseriesPoint{}
	for rows.Next() {
		var p models.TimeseriesPoint
		if err := rows.Scan(&p.Bucket, &p.Count); err != nil {
			return nil, fmt.Errorf("scan raw bucket: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("raw buckets: %w", err)
	}
	return out, nil
}

// Sessions lists per-session aggregates over [start, end), newest
// activity first, with the total session count for pagination.
func (s *Store) Sessions(ctx context.Context, projectID int64, start, end time.Time, limit, offset int) ([]models.SessionRow, int64, error) {
	countQuery := `
		SELECT COUNT(DISTINCT session_id)
		FROM events
		WHERE project_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3 AND session_id IS NOT NULL
	`

	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, projectID, start, end).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	query := `
		SELECT session_id, MAX(distinct_id), COUNT(*), MIN("timestamp"), MAX("timestamp")
		FROM events
		WHERE project_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3 AND session_id IS NOT NULL
		GROUP BY session_id
		ORDER BY MAX("timestamp") DESC, session_id ASC
		LIMIT $4 OFFSET $5
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, start, end, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []models.SessionRow{}
	for rows.Next() {
		var r models.SessionRow
		if err := rows.Scan(&r.SessionID, &r.DistinctID, &r.EventCount, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return out, total, nil
}

// Users lists per-identity aggregates over [start, end), most active
// first, with the total identity count for pagination.
func (s *Store) Users(ctx context.Context, projectID int64, start, end time.Time, limit, offset int) ([]models.UserRow, int64, error) {
	countQuery := `
		SELECT COUNT(DISTINCT distinct_id)
		FROM events
		WHERE project_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3 AND distinct_id IS NOT NULL
	`

	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, projectID, start, end).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := `
		SELECT distinct_id, COUNT(*), COUNT(DISTINCT session_id), MIN("timestamp"), MAX("timestamp")
		FROM events
		WHERE project_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3 AND distinct_id IS NOT NULL
		GROUP BY distinct_id
		ORDER BY COUNT(*) DESC, distinct_id ASC
		LIMIT $4 OFFSET $5
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, start, end, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []models.UserRow{}
	for rows.Next() {
		var r models.UserRow
		if err := rows.Scan(&r.DistinctID, &r.EventCount, &r.SessionCount, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, 0, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return out, total, nil
}

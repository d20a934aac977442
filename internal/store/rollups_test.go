package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestRollupTotals(t *testing.T) {
	s, mock := newTestStore(t)
	start := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM hourly_rollups`)).
		WithArgs(int64(3), start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sessions", "users"}).
			AddRow(int64(5000), int64(300), int64(210)))

	totals, err := s.RollupTotals(context.Background(), 3, start, end)
	if err != nil {
		t.Fatalf("RollupTotals failed: %v", err)
	}
	if totals.Count != 5000 || totals.UniqueSessions != 300 || totals.UniqueUsers != 210 {
		t.Errorf("unexpected totals: %+v", totals)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRollupCountsByName(t *testing.T) {
	s, mock := newTestStore(t)
	start := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY event_name`)).
		WithArgs(int64(3), start, end).
		WillReturnRows(sqlmock.NewRows([]string{"event_name", "count", "sessions", "users"}).
			AddRow("page_view", int64(4000), int64(280), int64(200)).
			AddRow("click", int64(900), int64(150), int64(120)))

	rows, err := s.RollupCountsByName(context.Background(), 3, start, end)
	if err != nil {
		t.Fatalf("RollupCountsByName failed: %v", err)
	}
	if len(rows) != 2 || rows[0].EventName != "page_view" || rows[1].Count != 900 {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestRollupBucketsDaily(t *testing.T) {
	s, mock := newTestStore(t)
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(72 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`date_trunc('day', hour)`)).
		WithArgs(int64(3), start, end).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "count"}).
			AddRow(start, int64(1200)).
			AddRow(start.Add(24*time.Hour), int64(900)))

	points, err := s.RollupBuckets(context.Background(), 3, start, end, BucketDay)
	if err != nil {
		t.Fatalf("RollupBuckets failed: %v", err)
	}
	if len(points) != 2 || points[0].Count != 1200 {
		t.Errorf("unexpected points: %+v", points)
	}
}

func TestRecompute(t *testing.T) {
	s, mock := newTestStore(t)
	since := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO hourly_rollups`)).
		WithArgs(since).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.Recompute(context.Background(), since)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 rows touched, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

package query

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	"github.com/Nijaek/analytics-dashboard/pkg/pagination"
)

// fixedNow pins the clock mid-hour so the hour floor sits inside every
// default window.
var fixedNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.NewLogger()
	e := NewEngine(store.New(db, logger), logger)
	e.now = func() time.Time { return fixedNow }
	return e, mock
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name    string
		period  string
		start   string
		end     string
		want    Window
		wantErr bool
	}{
		{
			name:   "default period",
			period: "",
			want:   Window{Start: fixedNow.Add(-24 * time.Hour), End: fixedNow},
		},
		{
			name:   "seven days",
			period: "7d",
			want:   Window{Start: fixedNow.Add(-7 * 24 * time.Hour), End: fixedNow},
		},
		{
			name:   "thirty days",
			period: "30d",
			want:   Window{Start: fixedNow.Add(-30 * 24 * time.Hour), End: fixedNow},
		},
		{
			name:  "explicit pair wins over period",
			start: "2026-03-01T00:00:00Z",
			end:   "2026-03-02T00:00:00Z",
			want: Window{
				Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			},
		},
		{name: "unknown period", period: "12h", wantErr: true},
		{name: "start without end", start: "2026-03-01T00:00:00Z", wantErr: true},
		{name: "end without start", end: "2026-03-02T00:00:00Z", wantErr: true},
		{name: "start after end", start: "2026-03-02T00:00:00Z", end: "2026-03-01T00:00:00Z", wantErr: true},
		{name: "start equals end", start: "2026-03-01T00:00:00Z", end: "2026-03-01T00:00:00Z", wantErr: true},
		{name: "garbage start", start: "yesterday", end: "2026-03-02T00:00:00Z", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow(fixedNow, tt.period, tt.start, tt.end)
			if tt.wantErr {
				if apperr.KindOf(err) != apperr.KindValidation {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWindow: %v", err)
			}
			if !w.Start.Equal(tt.want.Start) || !w.End.Equal(tt.want.End) {
				t.Errorf("got [%v, %v), want [%v, %v)", w.Start, w.End, tt.want.Start, tt.want.End)
			}
		})
	}
}

func TestParseGranularity(t *testing.T) {
	if b, err := ParseGranularity(""); err != nil || b != store.BucketHour {
		t.Errorf("empty: got %v, %v", b, err)
	}
	if b, err := ParseGranularity("hourly"); err != nil || b != store.BucketHour {
		t.Errorf("hourly: got %v, %v", b, err)
	}
	if b, err := ParseGranularity("daily"); err != nil || b != store.BucketDay {
		t.Errorf("daily: got %v, %v", b, err)
	}
	if _, err := ParseGranularity("weekly"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("weekly: expected validation error, got %v", err)
	}
}

func TestClampTopLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultTopLimit},
		{-3, DefaultTopLimit},
		{1, 1},
		{50, 50},
		{51, MaxTopLimit},
		{1000, MaxTopLimit},
	}
	for _, tt := range tests {
		if got := ClampTopLimit(tt.in); got != tt.want {
			t.Errorf("ClampTopLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestOverviewMergesRollupAndRaw(t *testing.T) {
	e, mock := newTestEngine(t)
	hourFloor := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	w := Window{Start: fixedNow.Add(-24 * time.Hour), End: fixedNow}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(count), 0)`)).
		WithArgs(int64(3), w.Start, hourFloor).
		WillReturnRows(sqlmock.NewRows([]string{"c", "s", "u"}).AddRow(int64(100), int64(10), int64(5)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), COUNT(DISTINCT session_id)`)).
		WithArgs(int64(3), hourFloor, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"c", "s", "u"}).AddRow(int64(20), int64(4), int64(3)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT event_name, SUM(count)`)).
		WithArgs(int64(3), w.Start, hourFloor).
		WillReturnRows(sqlmock.NewRows([]string{"name", "c", "s", "u"}).
			AddRow("page_view", int64(60), int64(8), int64(4)).
			AddRow("click", int64(40), int64(6), int64(3)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT event_name, COUNT(*)`)).
		WithArgs(int64(3), hourFloor, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"name", "c", "s", "u"}).
			AddRow("click", int64(15), int64(3), int64(2)).
			AddRow("page_view", int64(5), int64(1), int64(1)))

	overview, err := e.Overview(context.Background(), 3, w)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.TotalEvents != 120 || overview.UniqueSessions != 14 || overview.UniqueUsers != 8 {
		t.Errorf("unexpected totals: %+v", overview)
	}
	if overview.TopEvent == nil || *overview.TopEvent != "page_view" {
		t.Errorf("expected top event page_view, got %v", overview.TopEvent)
	}
	if !overview.PeriodStart.Equal(w.Start) || !overview.PeriodEnd.Equal(w.End) {
		t.Errorf("unexpected period echo: %+v", overview)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOverviewPastWindowSkipsRaw(t *testing.T) {
	e, mock := newTestEngine(t)
	w := Window{
		Start: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(count), 0)`)).
		WithArgs(int64(3), w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"c", "s", "u"}).AddRow(int64(500), int64(50), int64(20)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT event_name, SUM(count)`)).
		WithArgs(int64(3), w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"name", "c", "s", "u"}).
			AddRow("page_view", int64(500), int64(50), int64(20)))

	overview, err := e.Overview(context.Background(), 3, w)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.TotalEvents != 500 {
		t.Errorf("unexpected totals: %+v", overview)
	}
	// No raw-side expectations were registered, so any events-table
	// query would have failed the mock.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOverviewCurrentHourSkipsRollups(t *testing.T) {
	e, mock := newTestEngine(t)
	hourFloor := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	w := Window{Start: hourFloor, End: fixedNow}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), COUNT(DISTINCT session_id)`)).
		WithArgs(int64(3), hourFloor, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"c", "s", "u"}).AddRow(int64(9), int64(2), int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT event_name, COUNT(*)`)).
		WithArgs(int64(3), hourFloor, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"name", "c", "s", "u"}).
			AddRow("page_view", int64(9), int64(2), int64(2)))

	overview, err := e.Overview(context.Background(), 3, w)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.TotalEvents != 9 {
		t.Errorf("unexpected totals: %+v", overview)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOverviewEmptyWindow(t *testing.T) {
	e, mock := newTestEngine(t)
	w := Window{
		Start: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(count), 0)`)).
		WithArgs(int64(3), w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"c", "s", "u"}).AddRow(int64(0), int64(0), int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT event_name, SUM(count)`)).
		WithArgs(int64(3), w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"name", "c", "s", "u"}))

	overview, err := e.Overview(context.Background(), 3, w)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.TotalEvents != 0 || overview.TopEvent != nil {
		t.Errorf("expected zero overview with nil top event, got %+v", overview)
	}
}

func TestTimeseriesMergesBoundaryBucket(t *testing.T) {
	e, mock := newTestEngine(t)
	hourFloor := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	w := Window{Start: time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), End: fixedNow}
	day13 := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	day14 := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`date_trunc('day', hour)`)).
		WithArgs(int64(3), w.Start, hourFloor).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "count"}).
			AddRow(day13, int64(100)).
			AddRow(day14, int64(10)))
	mock.ExpectQuery(regexp.QuoteMeta(`date_trunc('day', "timestamp")`)).
		WithArgs(int64(3), hourFloor, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "count"}).
			AddRow(day14, int64(5)))

	points, err := e.Timeseries(context.Background(), 3, w, store.BucketDay)
	if err != nil {
		t.Fatalf("Timeseries: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(points))
	}
	if !points[0].Bucket.Equal(day13) || points[0].Count != 100 {
		t.Errorf("unexpected first bucket: %+v", points[0])
	}
	if !points[1].Bucket.Equal(day14) || points[1].Count != 15 {
		t.Errorf("expected straddling bucket summed to 15, got %+v", points[1])
	}
}

func TestTopEventsTieBreaksLexicographically(t *testing.T) {
	e, mock := newTestEngine(t)
	w := Window{
		Start: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT event_name, SUM(count)`)).
		WithArgs(int64(3), w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"name", "c", "s", "u"}).
			AddRow("zebra", int64(5), int64(1), int64(1)).
			AddRow("apple", int64(5), int64(1), int64(1)))

	rows, err := e.TopEvents(context.Background(), 3, w, 10)
	if err != nil {
		t.Fatalf("TopEvents: %v", err)
	}
	if len(rows) != 2 || rows[0].EventName != "apple" || rows[1].EventName != "zebra" {
		t.Errorf("expected lexicographic tie break, got %+v", rows)
	}
}

func TestTopEventsAppliesLimitAfterMerge(t *testing.T) {
	e, mock := newTestEngine(t)
	hourFloor := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	w := Window{Start: fixedNow.Add(-2 * time.Hour), End: fixedNow}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT event_name, SUM(count)`)).
		WithArgs(int64(3), w.Start, hourFloor).
		WillReturnRows(sqlmock.NewRows([]string{"name", "c", "s", "u"}).
			AddRow("a", int64(10), int64(1), int64(1)).
			AddRow("b", int64(8), int64(1), int64(1)).
			AddRow("c", int64(1), int64(1), int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT event_name, COUNT(*)`)).
		WithArgs(int64(3), hourFloor, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"name", "c", "s", "u"}).
			AddRow("c", int64(20), int64(1), int64(1)))

	rows, err := e.TopEvents(context.Background(), 3, w, 2)
	if err != nil {
		t.Fatalf("TopEvents: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected limit 2 applied, got %d rows", len(rows))
	}
	// c overtakes a only after both sides are merged.
	if rows[0].EventName != "c" || rows[0].Count != 21 || rows[1].EventName != "a" {
		t.Errorf("unexpected merged order: %+v", rows)
	}
}

func TestSessionsAlwaysReadRaw(t *testing.T) {
	e, mock := newTestEngine(t)
	w := Window{Start: fixedNow.Add(-24 * time.Hour), End: fixedNow}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(DISTINCT session_id)`)).
		WithArgs(int64(3), w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY session_id`)).
		WithArgs(int64(3), w.Start, w.End, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "distinct_id", "count", "first", "last"}).
			AddRow("s1", "u1", int64(4), w.Start, w.End.Add(-time.Hour)).
			AddRow("s2", nil, int64(1), w.Start, w.Start.Add(time.Minute)))

	page, err := e.Sessions(context.Background(), 3, w, pagination.Params{})
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 || page.Limit != 50 {
		t.Errorf("unexpected page: total=%d items=%d limit=%d", page.Total, len(page.Items), page.Limit)
	}
	// The whole window went to the events table in one query pair,
	// never to hourly_rollups.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUsersPagination(t *testing.T) {
	e, mock := newTestEngine(t)
	w := Window{Start: fixedNow.Add(-24 * time.Hour), End: fixedNow}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(DISTINCT distinct_id)`)).
		WithArgs(int64(3), w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(120)))
	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY distinct_id`)).
		WithArgs(int64(3), w.Start, w.End, 20, 40).
		WillReturnRows(sqlmock.NewRows([]string{"distinct_id", "events", "sessions", "first", "last"}).
			AddRow("u41", int64(9), int64(2), w.Start, w.End.Add(-time.Minute)))

	page, err := e.Users(context.Background(), 3, w, pagination.Params{Limit: 20, Offset: 40})
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if page.Total != 120 || page.Limit != 20 || page.Offset != 40 || len(page.Items) != 1 {
		t.Errorf("unexpected page: %+v", page)
	}
}

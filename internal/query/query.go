// Package query answers analytics reads by combining two sources:
// pre-aggregated hourly rollups for every full hour before the current
// one, and the raw events table for the still-open hour. Sessions and
// users listings always read raw, since rollups do not keep
// per-session or per-identity detail.
package query

import (
	"context"
	"sort"
	"time"

	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	"github.com/Nijaek/analytics-dashboard/pkg/pagination"
)

const (
	DefaultPeriod   = "24h"
	DefaultTopLimit = 10
	MaxTopLimit     = 50
)

// Window is a half-open query interval [Start, End) in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseWindow resolves query parameters to a window. Explicit start and
// end take precedence over a named period; they must come as a pair.
func ParseWindow(now time.Time, period, startRaw, endRaw string) (Window, error) {
	now = now.UTC()

	if startRaw != "" || endRaw != "" {
		if startRaw == "" || endRaw == "" {
			return Window{}, apperr.Validation("start and end must be provided together")
		}
		start, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return Window{}, apperr.Validation("start must be RFC 3339")
		}
		end, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return Window{}, apperr.Validation("end must be RFC 3339")
		}
		if !start.Before(end) {
			return Window{}, apperr.Validation("start must be before end")
		}
		return Window{Start: start.UTC(), End: end.UTC()}, nil
	}

	if period == "" {
		period = DefaultPeriod
	}
	var span time.Duration
	switch period {
	case "24h":
		span = 24 * time.Hour
	case "7d":
		span = 7 * 24 * time.Hour
	case "30d":
		span = 30 * 24 * time.Hour
	default:
		return Window{}, apperr.Validation("period must be one of 24h, 7d, 30d")
	}
	return Window{Start: now.Add(-span), End: now}, nil
}

// ParseGranularity maps the granularity parameter to a bucket unit.
func ParseGranularity(raw string) (store.Bucket, error) {
	switch raw {
	case "", "hourly":
		return store.BucketHour, nil
	case "daily":
		return store.BucketDay, nil
	default:
		return "", apperr.Validation("granularity must be hourly or daily")
	}
}

// ClampTopLimit normalizes the top-events limit parameter.
func ClampTopLimit(limit int) int {
	if limit <= 0 {
		return DefaultTopLimit
	}
	if limit > MaxTopLimit {
		return MaxTopLimit
	}
	return limit
}

// Engine merges rollup and raw reads for one project at a time.
type Engine struct {
	store  *store.Store
	logger logging.Logger
	now    func() time.Time
}

func NewEngine(st *store.Store, logger logging.Logger) *Engine {
	return &Engine{store: st, logger: logger, now: time.Now}
}

// splitWindow cuts a window at the current hour floor. The rollup side
// covers [Start, min(End, floor)), the raw side [max(Start, floor), End);
// either side may be empty.
func splitWindow(w Window, floor time.Time) (rollup, raw Window, useRollup, useRaw bool) {
	rollupEnd := w.End
	if floor.Before(rollupEnd) {
		rollupEnd = floor
	}
	if w.Start.Before(rollupEnd) {
		rollup = Window{Start: w.Start, End: rollupEnd}
		useRollup = true
	}

	rawStart := w.Start
	if rawStart.Before(floor) {
		rawStart = floor
	}
	if rawStart.Before(w.End) {
		raw = Window{Start: rawStart, End: w.End}
		useRaw = true
	}
	return rollup, raw, useRollup, useRaw
}

// Overview returns window totals and the most frequent event name.
// Unique counts sum per-hour uniques on the rollup side, so an entity
// active in several hours counts once per hour.
func (e *Engine) Overview(ctx context.Context, projectID int64, w Window) (*models.Overview, error) {
	rollup, raw, useRollup, useRaw := splitWindow(w, models.HourFloor(e.now()))

	var totals store.Totals
	if useRollup {
		t, err := e.store.RollupTotals(ctx, projectID, rollup.Start, rollup.End)
		if err != nil {
			return nil, err
		}
		totals.Count += t.Count
		totals.UniqueSessions += t.UniqueSessions
		totals.UniqueUsers += t.UniqueUsers
	}
	if useRaw {
		t, err := e.store.RawTotals(ctx, projectID, raw.Start, raw.End)
		if err != nil {
			return nil, err
		}
		totals.Count += t.Count
		totals.UniqueSessions += t.UniqueSessions
		totals.UniqueUsers += t.UniqueUsers
	}

	merged, err := e.countsByName(ctx, projectID, rollup, raw, useRollup, useRaw)
	if err != nil {
		return nil, err
	}
	var top *string
	if len(merged) > 0 {
		top = &merged[0].EventName
	}

	return &models.Overview{
		TotalEvents:    totals.Count,
		UniqueSessions: totals.UniqueSessions,
		UniqueUsers:    totals.UniqueUsers,
		TopEvent:       top,
		PeriodStart:    w.Start,
		PeriodEnd:      w.End,
	}, nil
}

// Timeseries returns bucketed counts. A bucket straddling the hour
// floor receives contributions from both sides and is summed.
func (e *Engine) Timeseries(ctx context.Context, projectID int64, w Window, bucket store.Bucket) ([]models.TimeseriesPoint, error) {
	rollup, raw, useRollup, useRaw := splitWindow(w, models.HourFloor(e.now()))

	byBucket := map[int64]int64{}
	if useRollup {
		points, err := e.store.RollupBuckets(ctx, projectID, rollup.Start, rollup.End, bucket)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			byBucket[p.Bucket.UTC().Unix()] += p.Count
		}
	}
	if useRaw {
		points, err := e.store.RawBuckets(ctx, projectID, raw.Start, raw.End, bucket)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			byBucket[p.Bucket.UTC().Unix()] += p.Count
		}
	}

	keys := make([]int64, 0, len(byBucket))
	for k := range byBucket {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]models.TimeseriesPoint, len(keys))
	for i, k := range keys {
		out[i] = models.TimeseriesPoint{Bucket: time.Unix(k, 0).UTC(), Count: byBucket[k]}
	}
	return out, nil
}

// TopEvents returns the most frequent event names in the window.
func (e *Engine) TopEvents(ctx context.Context, projectID int64, w Window, limit int) ([]models.TopEventRow, error) {
	rollup, raw, useRollup, useRaw := splitWindow(w, models.HourFloor(e.now()))

	merged, err := e.countsByName(ctx, projectID, rollup, raw, useRollup, useRaw)
	if err != nil {
		return nil, err
	}

	limit = ClampTopLimit(limit)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (e *Engine) countsByName(ctx context.Context, projectID int64, rollup, raw Window, useRollup, useRaw bool) ([]models.TopEventRow, error) {
	byName := map[string]*models.TopEventRow{}

	add := func(rows []models.TopEventRow) {
		for _, r := range rows {
			if cur, ok := byName[r.EventName]; ok {
				cur.Count += r.Count
				cur.UniqueSessions += r.UniqueSessions
				cur.UniqueUsers += r.UniqueUsers
			} else {
				row := r
				byName[r.EventName] = &row
			}
		}
	}

	if useRollup {
		rows, err := e.store.RollupCountsByName(ctx, projectID, rollup.Start, rollup.End)
		if err != nil {
			return nil, err
		}
		add(rows)
	}
	if useRaw {
		rows, err := e.store.RawCountsByName(ctx, projectID, raw.Start, raw.End)
		if err != nil {
			return nil, err
		}
		add(rows)
	}

	merged := make([]models.TopEventRow, 0, len(byName))
	for _, r := range byName {
		merged = append(merged, *r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Count != merged[j].Count {
			return merged[i].Count > merged[j].Count
		}
		return merged[i].EventName < merged[j].EventName
	})
	return merged, nil
}

// Sessions lists per-session activity straight from raw events over
// the whole window, regardless of the hour floor.
func (e *Engine) Sessions(ctx context.Context, projectID int64, w Window, p pagination.Params) (*pagination.Page[models.SessionRow], error) {
	p = pagination.Normalize(p.Limit, p.Offset)
	rows, total, err := e.store.Sessions(ctx, projectID, w.Start, w.End, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	page := pagination.NewPage(rows, total, p)
	return &page, nil
}

// Users lists per-identity activity straight from raw events over the
// whole window.
func (e *Engine) Users(ctx context.Context, projectID int64, w Window, p pagination.Params) (*pagination.Page[models.UserRow], error) {
	p = pagination.Normalize(p.Limit, p.Offset)
	rows, total, err := e.store.Users(ctx, projectID, w.Start, w.End, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	page := pagination.NewPage(rows, total, p)
	return &page, nil
}

// Package worker drains the ingest buffer into Postgres, feeds the
// live channels, and keeps hourly rollups fresh.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nijaek/analytics-dashboard/internal/buffer"
	"github.com/Nijaek/analytics-dashboard/internal/live"
	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	"github.com/Nijaek/analytics-dashboard/pkg/redis"
)

const (
	DefaultBatchSize      = 200
	DefaultBlockTimeout   = 2 * time.Second
	DefaultRollupInterval = 60 * time.Second
	DefaultClaimInterval  = 30 * time.Second
	DefaultClaimIdle      = 60 * time.Second
)

// Metrics are the drain worker instruments, created by
// monitoring.CreateWorkerMetrics.
type Metrics struct {
	Drained       *prometheus.CounterVec
	RollupRuns    *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
}

// Options tune the drain loop. Zero values take the defaults above.
type Options struct {
	Consumer       string
	BatchSize      int64
	BlockTimeout   time.Duration
	RollupInterval time.Duration
	ClaimInterval  time.Duration
	ClaimIdle      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Consumer == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		o.Consumer = fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = DefaultBlockTimeout
	}
	if o.RollupInterval <= 0 {
		o.RollupInterval = DefaultRollupInterval
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = DefaultClaimInterval
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = DefaultClaimIdle
	}
	return o
}

// Worker is one drain loop instance. Consumer names are unique per
// process so parallel replicas split the stream through the group.
type Worker struct {
	buffer  *buffer.Buffer
	store   *store.Store
	pubsub  *redis.TypedPubSub[models.LiveEvent]
	logger  logging.Logger
	metrics *Metrics
	opts    Options

	now         func() time.Time
	lastRollup  time.Time
	lastClaim   time.Time
	claimCursor string
	// oldest event timestamp drained since the last successful rollup;
	// extends the recompute window after a backlog drain so old hours
	// still get sealed.
	minSeen time.Time
}

func New(buf *buffer.Buffer, st *store.Store, ps *redis.TypedPubSub[models.LiveEvent], logger logging.Logger, m *Metrics, opts Options) *Worker {
	return &Worker{
		buffer:      buf,
		store:       st,
		pubsub:      ps,
		logger:      logger,
		metrics:     m,
		opts:        opts.withDefaults(),
		now:         time.Now,
		claimCursor: buffer.ClaimStart,
	}
}

// Run drains until ctx is cancelled. The pass holding a batch when
// shutdown arrives persists and acks it before returning.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.buffer.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.WithFields(logging.Fields{
		"consumer":   w.opts.Consumer,
		"batch_size": w.opts.BatchSize,
	}).Info("Drain worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Drain worker stopping")
			return nil
		default:
		}

		if w.now().Sub(w.lastRollup) >= w.opts.RollupInterval {
			w.runRollup(ctx)
		}

		if err := w.drainOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.WithError(err).Error("Drain pass failed")
			w.pause(ctx, time.Second)
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) error {
	entries, err := w.maybeClaimStale(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to claim stale entries")
	}
	if len(entries) == 0 {
		entries, err = w.buffer.Consume(ctx, w.opts.Consumer, w.opts.BatchSize, w.opts.BlockTimeout)
		if err != nil {
			return err
		}
	}
	if len(entries) == 0 {
		return nil
	}

	// Shutdown must not abandon a batch that was already delivered to
	// this consumer.
	return w.processBatch(context.WithoutCancel(ctx), entries)
}

func (w *Worker) processBatch(ctx context.Context, entries []buffer.Entry) error {
	start := time.Now()

	records := make([]store.EventRecord, 0, len(entries))
	ackIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		ackIDs = append(ackIDs, e.ID)
		if e.DecodeErr != nil {
			w.logger.WithError(e.DecodeErr).WithField("entry_id", e.ID).Warn("Dropping undecodable buffer entry")
			w.observeDrained("poison", 1)
			continue
		}
		records = append(records, store.EventRecord{ProjectID: e.ProjectID, BufferedEvent: e.Event})
		if w.minSeen.IsZero() || e.Event.Timestamp.Before(w.minSeen) {
			w.minSeen = e.Event.Timestamp
		}
	}

	inserted, err := w.store.InsertEvents(ctx, records)
	if err != nil {
		w.observeDrained("failed", len(records))
		return fmt.Errorf("persist batch: %w", err)
	}

	publishFailures := 0
	for _, r := range records {
		ev := models.LiveEvent{
			Event:      r.EventName,
			DistinctID: r.DistinctID,
			Properties: r.Properties,
			Timestamp:  r.Timestamp,
			ProjectID:  r.ProjectID,
		}
		if err := w.pubsub.Publish(ctx, live.ChannelName(r.ProjectID), ev); err != nil {
			publishFailures++
		}
	}
	if publishFailures > 0 {
		w.logger.WithField("failures", publishFailures).Warn("Live publishes failed for drained batch")
	}

	if err := w.buffer.Ack(ctx, ackIDs...); err != nil {
		return fmt.Errorf("ack batch: %w", err)
	}

	w.observeDrained("persisted", len(records))
	if w.metrics != nil {
		w.metrics.BatchDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	}
	w.logger.WithFields(logging.Fields{
		"batch":    len(entries),
		"inserted": inserted,
		"poison":   len(entries) - len(records),
	}).Debug("Batch drained")
	return nil
}

func (w *Worker) maybeClaimStale(ctx context.Context) ([]buffer.Entry, error) {
	if !w.lastClaim.IsZero() && w.now().Sub(w.lastClaim) < w.opts.ClaimInterval {
		return nil, nil
	}
	w.lastClaim = w.now()

	entries, next, err := w.buffer.ClaimStale(ctx, w.opts.Consumer, w.opts.ClaimIdle, w.claimCursor, w.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	w.claimCursor = next
	return entries, nil
}

// runRollup recomputes aggregates for the current hour and the hour
// before it, so the first pass after an hour boundary seals the closed
// hour. The window stretches further back after a backlog drain.
func (w *Worker) runRollup(ctx context.Context) {
	since := models.HourFloor(w.now()).Add(-time.Hour)
	if !w.minSeen.IsZero() {
		if h := models.HourFloor(w.minSeen); h.Before(since) {
			since = h
		}
	}

	rows, err := w.store.Recompute(ctx, since)
	w.lastRollup = w.now()
	if err != nil {
		w.observeRollup("error")
		w.logger.WithError(err).Error("Rollup recompute failed")
		return
	}
	w.minSeen = time.Time{}
	w.observeRollup("ok")

	depth, err := w.buffer.Depth(ctx)
	if err != nil {
		depth = -1
	}
	w.logger.WithFields(logging.Fields{
		"rows":         rows,
		"since":        since,
		"buffer_depth": depth,
	}).Debug("Rollup recomputed")
}

func (w *Worker) observeDrained(status string, n int) {
	if w.metrics == nil || n == 0 {
		return
	}
	w.metrics.Drained.WithLabelValues(status).Add(float64(n))
}

func (w *Worker) observeRollup(status string) {
	if w.metrics == nil {
		return
	}
	w.metrics.RollupRuns.WithLabelValues(status).Inc()
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

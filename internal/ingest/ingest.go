// Package ingest accepts validated event batches and lands them in the
// durable buffer, falling back to a direct Postgres write when Redis is
// unavailable. A batch is never split: it reaches exactly one of the
// two sinks, or neither.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nijaek/analytics-dashboard/internal/buffer"
	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/auth"
	"github.com/Nijaek/analytics-dashboard/pkg/cache"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

const (
	projectCacheTTL      = 30 * time.Second
	projectCacheStale    = 30 * time.Second
	projectCacheNegative = 5 * time.Second
	projectCacheEntries  = 10000

	appendRetryBase = 50 * time.Millisecond
	appendRetryMax  = 500 * time.Millisecond
	appendRetries   = 2
)

// Metrics are the ingest pipeline counters, created by
// monitoring.CreateIngestMetrics.
type Metrics struct {
	Accepted  *prometheus.CounterVec
	BufferOps *prometheus.CounterVec
	BatchSize *prometheus.HistogramVec
}

// Coordinator resolves ingest keys and routes accepted batches.
type Coordinator struct {
	buffer   *buffer.Buffer
	store    *store.Store
	projects *cache.Cache[models.Project]
	executor failsafe.Executor[any]
	logger   logging.Logger
	secret   string
	metrics  *Metrics
	now      func() time.Time
}

func NewCoordinator(buf *buffer.Buffer, st *store.Store, logger logging.Logger, secret string, m *Metrics) *Coordinator {
	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(appendRetryBase, appendRetryMax).
		WithMaxRetries(appendRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		Build()

	return &Coordinator{
		buffer: buf,
		store:  st,
		projects: cache.New[models.Project](cache.Options{
			TTL:                  projectCacheTTL,
			StaleWhileRevalidate: projectCacheStale,
			NegativeTTL:          projectCacheNegative,
			MaxEntries:           projectCacheEntries,
		}, cache.MetricsHooks{}),
		executor: failsafe.With(retry),
		logger:   logger,
		secret:   secret,
		metrics:  m,
		now:      time.Now,
	}
}

// ResolveProject maps a presented ingest key to its project. Lookups
// are cached by key digest, including short-lived negative entries so
// a bad key cannot hammer Postgres.
func (c *Coordinator) ResolveProject(ctx context.Context, apiKey string) (*models.Project, error) {
	if apiKey == "" {
		return nil, apperr.Unauthorized("missing API key")
	}
	digest := auth.HashProjectKey(apiKey)

	project, ok, err := c.projects.Get(ctx, digest, func(ctx context.Context, key string) (models.Project, bool, error) {
		p, err := c.store.GetProjectByKeyHash(ctx, key)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return models.Project{}, false, nil
			}
			return models.Project{}, false, err
		}
		return *p, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Unauthorized("invalid API key")
	}
	return &project, nil
}

// InvalidateKey drops a cached key digest after rotation or project
// deletion so the old key stops resolving immediately.
func (c *Coordinator) InvalidateKey(keyHash string) {
	c.projects.Delete(keyHash)
}

// Accept buffers a validated batch for the project. On buffer failure
// the whole batch is written straight to Postgres instead; if that
// also fails the batch is rejected as unavailable.
func (c *Coordinator) Accept(ctx context.Context, project *models.Project, batch models.IngestBatch, clientIP, userAgent string) (int, error) {
	events := c.prepare(batch, clientIP, userAgent)
	n := len(events)

	_, err := c.executor.WithContext(ctx).Get(func() (any, error) {
		return nil, c.buffer.AppendBatch(ctx, project.ID, events)
	})
	if err == nil {
		c.observe("append", "ok", "buffer", n)
		return n, nil
	}

	c.observe("append", "error", "", 0)
	c.logger.WithError(err).WithFields(logging.Fields{
		"project_id": project.ID,
		"batch_size": n,
	}).Warn("Buffer append failed, falling back to direct insert")

	records := make([]store.EventRecord, n)
	for i, ev := range events {
		records[i] = store.EventRecord{ProjectID: project.ID, BufferedEvent: ev}
	}
	if _, err := c.store.InsertEvents(ctx, records); err != nil {
		c.observe("fallback", "error", "", 0)
		c.logger.WithError(err).WithFields(logging.Fields{
			"project_id": project.ID,
			"batch_size": n,
		}).Error("Fallback insert failed, rejecting batch")
		return 0, apperr.Unavailable("event ingestion temporarily unavailable")
	}

	c.observe("fallback", "ok", "postgres", n)
	return n, nil
}

func (c *Coordinator) prepare(batch models.IngestBatch, clientIP, userAgent string) []models.BufferedEvent {
	now := c.now().UTC()

	var ipHash *string
	if clientIP != "" {
		h := HashClientIP(c.secret, clientIP, now)
		ipHash = &h
	}
	var ua *string
	if userAgent != "" {
		ua = &userAgent
	}

	events := make([]models.BufferedEvent, len(batch.Events))
	for i, in := range batch.Events {
		ts := now
		if in.Timestamp != nil {
			ts = in.Timestamp.UTC()
		}
		events[i] = models.BufferedEvent{
			EventUUID:  uuid.NewString(),
			EventName:  in.EventName,
			DistinctID: in.DistinctID,
			SessionID:  in.SessionID,
			Properties: in.Properties,
			PageURL:    in.PageURL,
			Referrer:   in.Referrer,
			UserAgent:  ua,
			IPHash:     ipHash,
			Timestamp:  ts,
		}
	}
	return events
}

func (c *Coordinator) observe(op, status, path string, accepted int) {
	if c.metrics == nil {
		return
	}
	if op != "" {
		c.metrics.BufferOps.WithLabelValues(op, status).Inc()
	}
	if accepted > 0 {
		c.metrics.Accepted.WithLabelValues(path).Add(float64(accepted))
		c.metrics.BatchSize.WithLabelValues().Observe(float64(accepted))
	}
}

// HashClientIP hashes an IP with a key derived from the service secret
// and the UTC day, so the same visitor collapses within a day but
// cannot be tracked across days.
func HashClientIP(secret, ip string, day time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret+":"+day.UTC().Format("2006-01-02")))
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}

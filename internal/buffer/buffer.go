// Package buffer is the durable ingest buffer backed by a Redis stream.
// The API server appends accepted batches; the drain worker consumes
// them through a consumer group so delivery survives worker restarts.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

const (
	DefaultStream = "events:ingest"
	DefaultGroup  = "event_workers"

	fieldProjectID = "project_id"
	fieldData      = "data"
)

// ClaimStart is the cursor value that restarts a stale-entry scan from
// the beginning of the pending list.
const ClaimStart = "0-0"

// Entry is one consumed stream record. DecodeErr marks a poison entry;
// the consumer logs it and acknowledges the ID so it cannot wedge the
// stream.
type Entry struct {
	ID        string
	ProjectID int64
	Event     models.BufferedEvent
	DecodeErr error
}

// Buffer wraps the stream and consumer group the ingest pipeline runs on.
type Buffer struct {
	client goredis.UniversalClient
	logger logging.Logger
	stream string
	group  string
}

func New(client goredis.UniversalClient, logger logging.Logger) *Buffer {
	return NewWithKeys(client, logger, DefaultStream, DefaultGroup)
}

func NewWithKeys(client goredis.UniversalClient, logger logging.Logger, stream, group string) *Buffer {
	return &Buffer{client: client, logger: logger, stream: stream, group: group}
}

func (b *Buffer) Stream() string { return b.stream }
func (b *Buffer) Group() string  { return b.group }

// EnsureGroup creates the consumer group, reading from the start of the
// stream so entries appended before the first worker boot are not lost.
// An already-existing group is not an error.
func (b *Buffer) EnsureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// AppendBatch appends every event of a batch in one MULTI/EXEC
// pipeline, so the stream receives all of them or none.
func (b *Buffer) AppendBatch(ctx context.Context, projectID int64, events []models.BufferedEvent) error {
	if len(events) == 0 {
		return nil
	}

	payloads := make([]string, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.EventUUID, err)
		}
		payloads[i] = string(data)
	}

	pid := strconv.FormatInt(projectID, 10)
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, payload := range payloads {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: b.stream,
				Values: map[string]interface{}{
					fieldProjectID: pid,
					fieldData:      payload,
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append batch: %w", err)
	}
	return nil
}

// Consume reads up to count new entries for the given consumer,
// blocking up to block when the stream is empty. An empty read returns
// a nil slice, not an error.
func (b *Buffer) Consume(ctx context.Context, consumer string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    b.group,
		Consumer: consumer,
		Streams:  []string{b.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == goredis.Nil || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group: %w", err)
	}

	entries := make([]Entry, 0, len(streams[0].Messages))
	for _, msg := range streams[0].Messages {
		entries = append(entries, decodeEntry(msg))
	}
	return entries, nil
}

// ClaimStale transfers entries another consumer left pending for at
// least minIdle to this consumer and returns them with the next scan
// cursor. Pass ClaimStart to begin a scan.
func (b *Buffer) ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, start string, count int64) ([]Entry, string, error) {
	messages, next, err := b.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   b.stream,
		Group:    b.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil && err != goredis.Nil {
		return nil, start, fmt.Errorf("autoclaim: %w", err)
	}
	if next == "" {
		next = ClaimStart
	}

	entries := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, decodeEntry(msg))
	}
	return entries, next, nil
}

// Ack acknowledges processed entries.
func (b *Buffer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, b.stream, b.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Depth reports the current stream length for queue-depth gauges.
func (b *Buffer) Depth(ctx context.Context) (int64, error) {
	n, err := b.client.XLen(ctx, b.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("stream depth: %w", err)
	}
	return n, nil
}

func decodeEntry(msg goredis.XMessage) Entry {
	entry := Entry{ID: msg.ID}

	rawPID, ok := msg.Values[fieldProjectID].(string)
	if !ok {
		entry.DecodeErr = fmt.Errorf("entry %s: missing project_id field", msg.ID)
		return entry
	}
	pid, err := strconv.ParseInt(rawPID, 10, 64)
	if err != nil {
		entry.DecodeErr = fmt.Errorf("entry %s: bad project_id %q", msg.ID, rawPID)
		return entry
	}

	data, ok := msg.Values[fieldData].(string)
	if !ok {
		entry.DecodeErr = fmt.Errorf("entry %s: missing data field", msg.ID)
		return entry
	}
	var ev models.BufferedEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		entry.DecodeErr = fmt.Errorf("entry %s: undecodable event: %w", msg.ID, err)
		return entry
	}

	entry.ProjectID = pid
	entry.Event = ev
	return entry
}

package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/Nijaek/analytics-dashboard/internal/models"
)

func makeEvents(n int) []models.IncomingEvent {
	events := make([]models.IncomingEvent, n)
	for i := range events {
		events[i] = models.IncomingEvent{EventName: "page_view"}
	}
	return events
}

func TestValidateBatch(t *testing.T) {
	v := NewBatchValidator()

	tests := []struct {
		name    string
		batch   models.IngestBatch
		wantErr bool
		errPart string
	}{
		{
			name:    "single event",
			batch:   models.IngestBatch{Events: makeEvents(1)},
			wantErr: false,
		},
		{
			name:    "full batch of 100",
			batch:   models.IngestBatch{Events: makeEvents(100)},
			wantErr: false,
		},
		{
			name:    "empty batch",
			batch:   models.IngestBatch{Events: []models.IncomingEvent{}},
			wantErr: true,
			errPart: "events",
		},
		{
			name:    "nil events",
			batch:   models.IngestBatch{},
			wantErr: true,
			errPart: "events: required",
		},
		{
			name:    "oversized batch of 101",
			batch:   models.IngestBatch{Events: makeEvents(101)},
			wantErr: true,
			errPart: "at most 100",
		},
		{
			name: "missing event name",
			batch: models.IngestBatch{Events: []models.IncomingEvent{
				{EventName: "ok"},
				{EventName: ""},
			}},
			wantErr: true,
			errPart: "events[1].event_name: required",
		},
		{
			name: "event name too long",
			batch: models.IngestBatch{Events: []models.IncomingEvent{
				{EventName: strings.Repeat("x", 256)},
			}},
			wantErr: true,
			errPart: "event_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateBatch(&tt.batch)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				if tt.errPart != "" && !strings.Contains(err.Error(), tt.errPart) {
					t.Errorf("error %q does not mention %q", err.Error(), tt.errPart)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateBatchOptionalFields(t *testing.T) {
	v := NewBatchValidator()

	distinct := "user-1"
	session := "sess-1"
	ts := time.Now().UTC()
	batch := models.IngestBatch{Events: []models.IncomingEvent{
		{
			EventName:  "purchase",
			DistinctID: &distinct,
			SessionID:  &session,
			Properties: []byte(`{"price": 9.99}`),
			Timestamp:  &ts,
		},
	}}

	if err := v.ValidateBatch(&batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateBatchSessionIDTooLong(t *testing.T) {
	v := NewBatchValidator()

	long := strings.Repeat("s", 65)
	batch := models.IngestBatch{Events: []models.IncomingEvent{
		{EventName: "page_view", SessionID: &long},
	}}

	err := v.ValidateBatch(&batch)
	if err == nil {
		t.Fatalf("expected session_id length error")
	}
	if !strings.Contains(err.Error(), "session_id") {
		t.Errorf("error %q does not mention session_id", err.Error())
	}
}

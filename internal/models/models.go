// Package models holds the domain types shared by the API server and
// the drain worker.
package models

import (
	"encoding/json"
	"time"
)

// User is a dashboard account.
type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	FullName       string    `json:"full_name,omitempty"`
	IsActive       bool      `json:"is_active"`
	IsSuperuser    bool      `json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
}

// Project is a tenant boundary. KeyHash is the SHA-256 digest of the
// ingest key; the plaintext is never stored.
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Domain    *string   `json:"domain,omitempty"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectWithKey is the creation/rotation response carrying the
// plaintext key exactly once.
type ProjectWithKey struct {
	Project
	Key string `json:"api_key"`
}

// IncomingEvent is one element of an SDK ingest batch. Properties is an
// opaque document; the service never inspects it beyond serialization.
type IncomingEvent struct {
	EventName  string          `json:"event_name" validate:"required,min=1,max=255"`
	DistinctID *string         `json:"distinct_id,omitempty" validate:"omitempty,max=255"`
	SessionID  *string         `json:"session_id,omitempty" validate:"omitempty,max=64"`
	PageURL    *string         `json:"page_url,omitempty"`
	Referrer   *string         `json:"referrer,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
}

// IngestBatch is the body of POST /events/ingest.
type IngestBatch struct {
	Events []IncomingEvent `json:"events" validate:"required,min=1,max=100,dive"`
}

// BufferedEvent is the JSON carried in a buffer record's data field.
// EventUUID doubles as the raw-insert conflict key so redelivery after
// a worker crash cannot duplicate rows.
type BufferedEvent struct {
	EventUUID  string          `json:"event_uuid"`
	EventName  string          `json:"event_name"`
	DistinctID *string         `json:"distinct_id,omitempty"`
	SessionID  *string         `json:"session_id,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
	PageURL    *string         `json:"page_url,omitempty"`
	Referrer   *string         `json:"referrer,omitempty"`
	UserAgent  *string         `json:"user_agent,omitempty"`
	IPHash     *string         `json:"ip_hash,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// LiveEvent is the message pushed to dashboard sockets and published on
// the per-project live channel.
type LiveEvent struct {
	Event      string          `json:"event"`
	DistinctID *string         `json:"distinct_id,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	ProjectID  int64           `json:"project_id"`
}

// HourlyRollup is one pre-aggregated row per (project, event_name, hour).
type HourlyRollup struct {
	ID             int64     `json:"id"`
	ProjectID      int64     `json:"project_id"`
	EventName      string    `json:"event_name"`
	Hour           time.Time `json:"hour"`
	Count          int64     `json:"count"`
	UniqueSessions int64     `json:"unique_sessions"`
	UniqueUsers    int64     `json:"unique_users"`
}

// Overview is the headline analytics block for a window.
type Overview struct {
	TotalEvents    int64     `json:"total_events"`
	UniqueSessions int64     `json:"unique_sessions"`
	UniqueUsers    int64     `json:"unique_users"`
	TopEvent       *string   `json:"top_event"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

// TimeseriesPoint is one bucket of the timeseries endpoint.
type TimeseriesPoint struct {
	Bucket time.Time `json:"bucket"`
	Count  int64     `json:"count"`
}

// TopEventRow is one row of the top-events endpoint.
type TopEventRow struct {
	EventName      string `json:"event_name"`
	Count          int64  `json:"count"`
	UniqueSessions int64  `json:"unique_sessions"`
	UniqueUsers    int64  `json:"unique_users"`
}

// SessionRow groups raw events by session_id. DistinctID is the
// best-guess identity for the session.
type SessionRow struct {
	SessionID  string    `json:"session_id"`
	DistinctID *string   `json:"distinct_id,omitempty"`
	EventCount int64     `json:"event_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// UserRow groups raw events by distinct_id.
type UserRow struct {
	DistinctID   string    `json:"distinct_id"`
	EventCount   int64     `json:"event_count"`
	SessionCount int64     `json:"session_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// HourFloor truncates t to the start of its UTC hour.
func HourFloor(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

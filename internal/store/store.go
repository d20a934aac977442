// Package store is the Postgres access layer. Methods return domain
// errors from pkg/apperr where the outcome is part of the contract
// (not found, conflict); everything else surfaces as a wrapped cause
// for the caller to log.
package store

import (
	"errors"

	"github.com/lib/pq"

	"github.com/Nijaek/analytics-dashboard/pkg/database"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

// Store bundles all Postgres access for the API server and worker.
type Store struct {
	db     database.PostgresConn
	logger logging.Logger
}

// Totals is an aggregate triple used by both raw and rollup reads.
type Totals struct {
	Count          int64
	UniqueSessions int64
	UniqueUsers    int64
}

func New(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() database.PostgresConn {
	return s.db
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

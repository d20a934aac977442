package store

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(db, logging.NewLogger()), mock
}

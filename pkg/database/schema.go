package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	schemafs "github.com/Nijaek/analytics-dashboard/pkg/database/sql"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

// EnsureSchema applies the embedded schema files in lexical order.
// Every statement is idempotent (IF NOT EXISTS), so running it on
// every boot is safe.
func EnsureSchema(ctx context.Context, db PostgresConn, logger logging.Logger) error {
	entries, err := fs.Glob(schemafs.Content, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list schema files: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		raw, err := fs.ReadFile(schemafs.Content, name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}
	return nil
}

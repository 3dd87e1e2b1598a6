package storage

import (
	"context"

	"sky-agent/internal/core/ports"
)

// Open picks Postgres when databaseURL is set and the local SQLite file otherwise.
func Open(ctx context.Context, databaseURL, dbPath string) (ports.Store, string, error) {
	if databaseURL != "" {
		s, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	}
	s, err := NewSQLiteStore(ctx, dbPath)
	if err != nil {
		return nil, "", err
	}
	return s, "sqlite", nil
}

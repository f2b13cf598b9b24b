package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmateus/conveyor/pkg/persistence"
	"github.com/dmateus/conveyor/pkg/persistence/file"
	"github.com/dmateus/conveyor/pkg/persistence/postgresql"
	"github.com/dmateus/conveyor/pkg/persistence/redis"
)

// NewPersistence selects a backend from the database URL scheme. Unknown
// schemes fall back to the file backend, which treats the URL as a
// directory path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres persistence: %w", err)
		}

		return store, nil

	case "redis":
		store, err := redis.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis persistence: %w", err)
		}

		return store, nil

	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}

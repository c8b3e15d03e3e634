// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/persistence/file"
	"github.com/dukex/processflow/pkg/persistence/memory"
	"github.com/dukex/processflow/pkg/persistence/postgresql"
	"github.com/dukex/processflow/pkg/persistence/redis"
)

// NewPersistence selects a flow store from the scheme of databaseURL.
// URLs without a recognised scheme are treated as file store roots.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)
	logger = logger.With("persistence", provider)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgresql persistence: %w", err)
		}

		return p, nil
	case "redis", "rediss":
		p, err := redis.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis persistence: %w", err)
		}

		return p, nil
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}

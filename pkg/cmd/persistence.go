// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/TilepMony-Project/engine/pkg/persistence/memory"
	"github.com/TilepMony-Project/engine/pkg/persistence/postgresql"
	"github.com/TilepMony-Project/engine/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql", "redis", "rediss"}

// NewPersistence opens the store selected by the scheme of databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis", "rediss":
		return redis.NewPersistence(ctx, logger, databaseURL)
	default:
		return memory.NewPersistence(), nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	if databaseURL == "" {
		return "memory", nil
	}

	provider, _, _ := strings.Cut(databaseURL, "://")
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, nil
		}
	}

	return "", fmt.Errorf("unsupported persistence provider %q, expected one of %v", provider, supportedPersistenceProviders)
}

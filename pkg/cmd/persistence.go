// Package cmd provides shared wiring helpers for the command-line binaries.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/voyagent/voyagent/pkg/persistence"
	"github.com/voyagent/voyagent/pkg/persistence/file"
	"github.com/voyagent/voyagent/pkg/persistence/postgres"
	"github.com/voyagent/voyagent/pkg/persistence/redis"
)

// NewStore selects a store implementation from the database URL scheme.
// Unrecognized schemes fall back to file storage.
func NewStore(ctx context.Context, databaseURL string) (persistence.Store, error) {
	switch parseStoreProvider(databaseURL) {
	case "redis":
		store, err := redis.NewStoreFromURL(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}

		return store, nil
	case "postgres", "postgresql":
		store, err := postgres.NewStore(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}

		return store, nil
	default:
		store, err := file.NewStore(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create file store: %w", err)
		}

		return store, nil
	}
}

func parseStoreProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return "file"
	}

	return parts[0]
}

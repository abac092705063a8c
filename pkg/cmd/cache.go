package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/aef/pkg/cache"
)

// NewCache connects to Redis when redisURL is set and falls back to an
// in-process cache otherwise.
func NewCache(ctx context.Context, logger *slog.Logger, redisURL string) (cache.Store, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "Using in-memory cache")
		return cache.NewMemory(), nil
	}

	store, err := cache.NewRedis(ctx, redisURL, "aef:")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.InfoContext(ctx, "Using redis cache")

	return store, nil
}

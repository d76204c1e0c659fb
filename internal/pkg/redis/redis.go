// Package redis provides Redis connection utilities.
package redis

import (
	"context"
	"fmt"

	"github.com/bissquit/jobboard-notify/internal/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// Config contains Redis connection configuration.
type Config struct {
	URL             string
	ConnectAttempts int
}

// Connect parses the URL and pings the server, retrying on failure.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	err = retry.Do(ctx, "redis", cfg.ConnectAttempts, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// Healthcheck returns a readiness check for the client.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}

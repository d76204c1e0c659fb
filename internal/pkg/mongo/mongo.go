// Package mongo provides MongoDB connection utilities.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/jobboard-notify/internal/pkg/retry"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Config contains MongoDB connection configuration.
type Config struct {
	URI             string
	Database        string
	MaxPoolSize     uint64
	ConnectTimeout  time.Duration
	ConnectAttempts int
}

// Connect creates a client and verifies it with a ping, retrying on failure.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("create mongo client: %w", err)
	}

	err = retry.Do(ctx, "mongo", cfg.ConnectAttempts, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return client.Ping(pingCtx, nil)
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return client, nil
}

// Healthcheck returns a readiness check for the client.
func Healthcheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongo ping: %w", err)
		}
		return nil
	}
}

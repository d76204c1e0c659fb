package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "notify:pref:"

// missingMarker caches the absence of a record so fail-closed lookups stay cheap.
const missingMarker = "-"

// CachedRepository is a read-through Redis cache in front of a Repository.
// Cache failures degrade to the underlying repository. Concurrent misses for
// the same user share one load.
type CachedRepository struct {
	next   Repository
	client redis.UniversalClient
	ttl    time.Duration
	loads  singleflight.Group
}

// NewCachedRepository wraps next with a cache whose entries live for ttl.
func NewCachedRepository(next Repository, client redis.UniversalClient, ttl time.Duration) *CachedRepository {
	return &CachedRepository{next: next, client: client, ttl: ttl}
}

// Get returns the cached preference or loads and caches it.
func (c *CachedRepository) Get(ctx context.Context, userID string) (*domain.Preference, error) {
	key := cacheKeyPrefix + userID

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == missingMarker {
			return nil, ErrPreferenceNotFound
		}
		var pref domain.Preference
		if err := json.Unmarshal([]byte(raw), &pref); err == nil {
			return &pref, nil
		}
		slog.Warn("discarding corrupt preference cache entry", "user_id", userID)
	case !errors.Is(err, redis.Nil):
		slog.Warn("preference cache read failed", "user_id", userID, "error", err)
	}

	v, err, _ := c.loads.Do(userID, func() (any, error) {
		pref, err := c.next.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrPreferenceNotFound) {
				c.store(ctx, key, missingMarker)
			}
			return nil, err
		}

		if data, err := json.Marshal(pref); err == nil {
			c.store(ctx, key, string(data))
		}
		return pref, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Preference), nil
}

// Upsert writes through to the repository and drops the cached entry.
func (c *CachedRepository) Upsert(ctx context.Context, pref *domain.Preference) error {
	if err := c.next.Upsert(ctx, pref); err != nil {
		return err
	}
	c.Invalidate(ctx, pref.UserID)
	return nil
}

// Invalidate removes the cached entry for a user.
func (c *CachedRepository) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil {
		slog.Warn("preference cache invalidation failed", "user_id", userID, "error", err)
	}
}

func (c *CachedRepository) store(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		slog.Warn("preference cache write failed", "key", key, "error", err)
	}
}

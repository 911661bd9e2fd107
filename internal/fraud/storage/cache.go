package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/fraud"
)

// CachedProfileStore is a redis read-through cache in front of a
// ProfileStore. Profiles are hot during scoring bursts (every comparison in
// a sweep reads both sides), so cache hits cut most of the database load.
// Writes go to the backing store first, then refresh the cache entry.
type CachedProfileStore struct {
	fraud.ProfileStore

	logger *zap.SugaredLogger
	client *redis.Client
	ttl    time.Duration
}

// NewCachedProfileStore wraps the backing store with a redis cache.
func NewCachedProfileStore(logger *zap.SugaredLogger, backing fraud.ProfileStore, client *redis.Client, ttl time.Duration) *CachedProfileStore {
	return &CachedProfileStore{
		ProfileStore: backing,
		logger:       logger,
		client:       client,
		ttl:          ttl,
	}
}

func profileCacheKey(userID string) string {
	return "fraud:profile:" + userID
}

func (c *CachedProfileStore) GetProfile(ctx context.Context, userID string) (*fraud.BehaviorProfile, error) {
	raw, err := c.client.Get(ctx, profileCacheKey(userID)).Bytes()
	if err == nil {
		var profile fraud.BehaviorProfile
		if err := json.Unmarshal(raw, &profile); err == nil {
			return &profile, nil
		}
		// Corrupt entry, fall through to the backing store.
		c.client.Del(ctx, profileCacheKey(userID))
	} else if err != redis.Nil {
		c.logger.Warnw("profile cache read failed", "user_id", userID, "error", err)
	}

	profile, err := c.ProfileStore.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, profile)
	return profile, nil
}

func (c *CachedProfileStore) SaveProfile(ctx context.Context, profile *fraud.BehaviorProfile) error {
	if err := c.ProfileStore.SaveProfile(ctx, profile); err != nil {
		return err
	}
	c.set(ctx, profile)
	return nil
}

// Invalidate drops the cached entry for a user.
func (c *CachedProfileStore) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, profileCacheKey(userID)).Err(); err != nil {
		c.logger.Warnw("profile cache invalidation failed", "user_id", userID, "error", err)
	}
}

func (c *CachedProfileStore) set(ctx context.Context, profile *fraud.BehaviorProfile) {
	raw, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, profileCacheKey(profile.UserID), raw, c.ttl).Err(); err != nil {
		c.logger.Warnw("profile cache write failed", "user_id", profile.UserID, "error", err)
	}
}

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quickmart/poscore/internal/errors"
	"github.com/quickmart/poscore/internal/models"
)

const snapshotKeyPrefix = "snapshot:"

// RedisCache keeps snapshots in a Redis instance shared between lane
// terminals. Snapshots expire after the configured TTL so a lane that
// stops writing does not pin stale entities forever; a zero TTL disables
// expiry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache over an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func snapshotKey(entityType models.EntityType, entityID string) string {
	return snapshotKeyPrefix + string(entityType) + ":" + entityID
}

// Put upserts a snapshot.
func (c *RedisCache) Put(ctx context.Context, entityType models.EntityType, entityID string, data json.RawMessage) error {
	if entityID == "" {
		return errors.New(errors.ErrInvalid, "entity id must be non-empty")
	}

	snapshot := models.EntitySnapshot{
		EntityID:   entityID,
		EntityType: entityType,
		Data:       data,
		CachedAt:   time.Now().Unix(),
	}
	value, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to marshal snapshot", err)
	}

	if err := c.client.Set(ctx, snapshotKey(entityType, entityID), value, c.ttl).Err(); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to cache snapshot", err)
	}
	return nil
}

// Get retrieves a snapshot; absent entities return (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, entityType models.EntityType, entityID string) (*models.EntitySnapshot, bool, error) {
	value, err := c.client.Get(ctx, snapshotKey(entityType, entityID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrStorage, "failed to read snapshot", err)
	}

	var snapshot models.EntitySnapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return nil, false, errors.Wrap(errors.ErrStorage, "corrupt snapshot record", err)
	}
	return &snapshot, true, nil
}

// GetAll returns every snapshot of an entity type. Uses SCAN so large
// keyspaces do not block the server.
func (c *RedisCache) GetAll(ctx context.Context, entityType models.EntityType) ([]models.EntitySnapshot, error) {
	pattern := snapshotKeyPrefix + string(entityType) + ":*"

	var snapshots []models.EntitySnapshot
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		value, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to read snapshot", err)
		}

		var snapshot models.EntitySnapshot
		if err := json.Unmarshal(value, &snapshot); err != nil {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to scan snapshots", err)
	}
	return snapshots, nil
}

// Delete removes a snapshot. Idempotent.
func (c *RedisCache) Delete(ctx context.Context, entityType models.EntityType, entityID string) error {
	if err := c.client.Del(ctx, snapshotKey(entityType, entityID)).Err(); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to delete snapshot", err)
	}
	return nil
}

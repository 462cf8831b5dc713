// Package cache holds last-known entity snapshots so the UI can render
// something while offline. Most recent write wins; snapshots are written
// only by explicit application calls, never by the sync queue, and are not
// reconciled against the backend.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quickmart/poscore/internal/errors"
	"github.com/quickmart/poscore/internal/models"
	"github.com/quickmart/poscore/internal/store"
)

// Cache is the snapshot cache port. Two adapters exist: the SQLite-backed
// StoreCache (default, fully offline) and RedisCache for stores that share
// one cache between lane terminals.
type Cache interface {
	Put(ctx context.Context, entityType models.EntityType, entityID string, data json.RawMessage) error
	Get(ctx context.Context, entityType models.EntityType, entityID string) (*models.EntitySnapshot, bool, error)
	GetAll(ctx context.Context, entityType models.EntityType) ([]models.EntitySnapshot, error)
	Delete(ctx context.Context, entityType models.EntityType, entityID string) error
}

// partitionFor maps entity types onto store partitions.
func partitionFor(entityType models.EntityType) string {
	switch entityType {
	case models.EntityTransaction:
		return store.PartitionTransactions
	case models.EntityInventory:
		return store.PartitionInventory
	case models.EntityCustomer:
		return store.PartitionCustomers
	case models.EntityProduct:
		return store.PartitionProducts
	}
	return string(entityType)
}

// Storage is the persistence surface StoreCache requires. *store.Store
// satisfies it.
type Storage interface {
	Put(ctx context.Context, partition, key string, value []byte) error
	Get(ctx context.Context, partition, key string) ([]byte, bool, error)
	GetAll(ctx context.Context, partition string) ([]store.Record, error)
	Delete(ctx context.Context, partition, key string) error
}

// StoreCache keeps snapshots in the durable store, one partition per
// entity type.
type StoreCache struct {
	storage Storage
}

// NewStoreCache creates a StoreCache.
func NewStoreCache(storage Storage) *StoreCache {
	return &StoreCache{storage: storage}
}

// Put upserts a snapshot.
func (c *StoreCache) Put(ctx context.Context, entityType models.EntityType, entityID string, data json.RawMessage) error {
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
	return c.storage.Put(ctx, partitionFor(entityType), entityID, value)
}

// Get retrieves a snapshot; absent entities return (nil, false, nil).
func (c *StoreCache) Get(ctx context.Context, entityType models.EntityType, entityID string) (*models.EntitySnapshot, bool, error) {
	value, found, err := c.storage.Get(ctx, partitionFor(entityType), entityID)
	if err != nil || !found {
		return nil, false, err
	}

	var snapshot models.EntitySnapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return nil, false, errors.Wrap(errors.ErrStorage, "corrupt snapshot record", err)
	}
	return &snapshot, true, nil
}

// GetAll returns every snapshot of an entity type, ordered by entity id.
func (c *StoreCache) GetAll(ctx context.Context, entityType models.EntityType) ([]models.EntitySnapshot, error) {
	records, err := c.storage.GetAll(ctx, partitionFor(entityType))
	if err != nil {
		return nil, err
	}

	snapshots := make([]models.EntitySnapshot, 0, len(records))
	for _, r := range records {
		var snapshot models.EntitySnapshot
		if err := json.Unmarshal(r.Value, &snapshot); err != nil {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// Delete removes a snapshot. Idempotent.
func (c *StoreCache) Delete(ctx context.Context, entityType models.EntityType, entityID string) error {
	return c.storage.Delete(ctx, partitionFor(entityType), entityID)
}

package models

import "encoding/json"

// EntitySnapshot is the last-known copy of a domain entity, held so the UI
// can render something while offline. Most recent write wins; snapshots are
// never reconciled against the backend and may go stale.
type EntitySnapshot struct {
	EntityID   string          `db:"entity_id" json:"entity_id"`
	EntityType EntityType      `db:"entity_type" json:"entity_type"`
	Data       json.RawMessage `db:"data" json:"data"`
	CachedAt   int64           `db:"cached_at" json:"cached_at"`
}

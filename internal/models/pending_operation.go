// Package models provides data model definitions for the terminal core.
package models

import "encoding/json"

// EntityType identifies the domain object a mutation targets.
type EntityType string

const (
	EntityTransaction EntityType = "transaction"
	EntityInventory   EntityType = "inventory"
	EntityCustomer    EntityType = "customer"
	EntityProduct     EntityType = "product"
)

// KnownEntityTypes lists the entity types the backend API understands.
// The queue itself accepts any non-empty tag; this list is for validation
// at the API boundary.
var KnownEntityTypes = []EntityType{
	EntityTransaction,
	EntityInventory,
	EntityCustomer,
	EntityProduct,
}

// IsKnownEntityType reports whether t is one of the backend entity types.
func IsKnownEntityType(t EntityType) bool {
	for _, known := range KnownEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Operation is the kind of mutation a pending operation carries.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IsValidOperation reports whether op is a recognized mutation kind.
func IsValidOperation(op Operation) bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// PendingOperation represents one mutation that could not be completed
// against the backend and is awaiting replay. The payload is opaque to the
// queue; only the submit function interprets it.
type PendingOperation struct {
	ID         string          `db:"id" json:"id"`
	EntityType EntityType      `db:"entity_type" json:"entity_type"`
	Op         Operation       `db:"operation" json:"operation"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the store partition for PendingOperation records.
func (PendingOperation) TableName() string {
	return "pendingOperations"
}

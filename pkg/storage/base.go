// Package storage provides the record-store interface and types backing
// the agent memory store.
//
// A record store is a per-record CRUD store keyed by user, agent type and
// record id. Backends (SQLite, PostgreSQL, MySQL) persist embeddings as
// JSON text; similarity scoring happens in the memory layer, not here.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Record is a single stored agent result.
type Record struct {
	// ID is the unique record identifier.
	ID int64

	// UserID identifies the user who owns this record.
	UserID string

	// AgentType classifies the producing agent ("workout", "adjustment",
	// "research").
	AgentType string

	// Content is the opaque JSON payload, stored verbatim.
	Content string

	// ContentType describes the payload, e.g. "adjustment_result".
	ContentType string

	// Embedding is the content vector. Nil when embedding generation
	// was unavailable at write time; such records are excluded from
	// similarity search but still served by recency queries.
	Embedding []float64

	// Importance is the caller-assigned weight (0.0-1.0) consulted by
	// consolidation.
	Importance float64

	// CreatedAt is when the record was written.
	CreatedAt time.Time
}

// ListOptions filters List operations.
type ListOptions struct {
	// UserID scopes the listing to one user. Required.
	UserID string

	// AgentType restricts results to one agent type (optional).
	AgentType string

	// Limit caps the number of results. Zero means no cap.
	Limit int
}

// RecordStore is the persistence interface backing the memory store.
// Implementations return records most-recent-first from List.
type RecordStore interface {
	// Insert writes a record.
	Insert(ctx context.Context, record *Record) error

	// Get retrieves a record by id, scoped to the owning user.
	Get(ctx context.Context, id int64, userID string) (*Record, error)

	// List returns records matching opts ordered newest-first
	// (creation time, then id, descending).
	List(ctx context.Context, opts *ListOptions) ([]*Record, error)

	// Delete removes a record by id, scoped to the owning user.
	Delete(ctx context.Context, id int64, userID string) error

	// Close releases the store's resources.
	Close() error
}

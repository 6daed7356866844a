// Package store provides durable per-transition storage for instance
// snapshots and factory records.
//
// Records are opaque byte slices grouped by namespace and addressed by key.
// A record keeps the sequence number assigned on its first save, so List
// returns records in creation order no matter how often they are rewritten.
package store

import (
	"context"
	"errors"
	"time"
)

// Store persists records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores data under (namespace, key), overwriting any previous value.
	// The record keeps the sequence number it was given on first save.
	Save(ctx context.Context, namespace, key string, data []byte) error

	// Load retrieves a record.
	// Returns ErrNotFound if the record doesn't exist.
	Load(ctx context.Context, namespace, key string) ([]byte, error)

	// List returns all records in a namespace, ordered by first-save sequence.
	// Returns an empty slice (not error) if the namespace is empty.
	List(ctx context.Context, namespace string) ([]Info, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Info describes a record without loading its data.
type Info struct {
	Namespace string
	Key       string
	Sequence  int64
	SavedAt   time.Time
	Size      int64
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

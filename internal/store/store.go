// Package store defines the persistence contract for the event set and
// the sync mapping table. All mutation of either goes through this
// single-writer contract; implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"

	"famcal/internal/model"
)

// Common errors for store operations.
var (
	// ErrNotFound is returned for actions referencing an unknown uid.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a state transition's expected
	// current state no longer matches, i.e. another writer got there
	// first.
	ErrStaleState = errors.New("stale state")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Store persists the canonical event set and the sync mapping table.
type Store interface {
	// Init prepares the backend (create tables, open files).
	Init(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error

	// UpsertEvent inserts or replaces the event keyed by its UID.
	UpsertEvent(ctx context.Context, ev *model.CanonicalEvent) error
	// GetEvent returns the event for uid, or ErrNotFound.
	GetEvent(ctx context.Context, uid string) (*model.CanonicalEvent, error)
	// DeleteEvent removes the event for uid. Missing uid is ErrNotFound.
	DeleteEvent(ctx context.Context, uid string) error
	// ListEvents returns the full persisted set ordered by (start, uid).
	ListEvents(ctx context.Context) ([]*model.CanonicalEvent, error)
	// ListEventsByState returns events in any of the given states,
	// ordered by (start, uid).
	ListEventsByState(ctx context.Context, states ...model.EventState) ([]*model.CanonicalEvent, error)
	// SetState transitions uid from the expected current state to the
	// new one. Returns ErrNotFound for an unknown uid and ErrStaleState
	// when the stored state differs from `from`.
	SetState(ctx context.Context, uid string, from, to model.EventState) error

	// PutMapping inserts or replaces the sync mapping keyed by UID.
	PutMapping(ctx context.Context, m *model.SyncMapping) error
	// GetMapping returns the mapping for uid, or ErrNotFound.
	GetMapping(ctx context.Context, uid string) (*model.SyncMapping, error)
	// DeleteMapping removes the mapping for uid; deleting a missing
	// mapping is a no-op.
	DeleteMapping(ctx context.Context, uid string) error
	// ListMappings returns all sync mappings.
	ListMappings(ctx context.Context) ([]*model.SyncMapping, error)
}

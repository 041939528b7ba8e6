// Package store implements the tiered local persistence layer: a durable
// structured tier (SQLite), a durable flat tier (bbolt) and a volatile
// in-process tier, behind one uniform contract. The Tiered wrapper probes
// the chain lazily and degrades one-directionally when a tier fails.
package store

import (
	"context"
	"errors"

	"github.com/tmarbach/daybook/pkg/record"
)

// Tier identifies which storage backend is active.
type Tier int

const (
	// TierUnknown means the fallback chain has not been probed yet.
	TierUnknown Tier = iota
	// TierPrimary is the durable structured store (SQLite).
	TierPrimary
	// TierSecondary is the durable flat store (bbolt).
	TierSecondary
	// TierTertiary is the volatile in-process store.
	TierTertiary
)

// String returns the tier name used in logs and metrics labels.
func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// Durable reports whether data written to this tier survives process exit.
func (t Tier) Durable() bool {
	return t == TierPrimary || t == TierSecondary
}

// ErrRecordNotFound indicates that no record exists for the given identity.
var ErrRecordNotFound = errors.New("record not found")

// RecordStore is the uniform read/write/delete contract every tier exposes.
//
// Put is last-writer-wins per identity: a write whose LastModified is older
// than the stored record's is silently ignored, which keeps LastModified
// monotonically non-decreasing per identity within a tier. Delete of a
// missing identity is a no-op.
type RecordStore interface {
	// GetAll returns every record of the given kind.
	GetAll(ctx context.Context, kind record.Kind) ([]record.Record, error)

	// Get retrieves a single record, or ErrRecordNotFound.
	Get(ctx context.Context, kind record.Kind, id string) (*record.Record, error)

	// Put upserts a record, ignoring writes older than the stored copy.
	Put(ctx context.Context, rec record.Record) error

	// Delete removes a record if present.
	Delete(ctx context.Context, kind record.Kind, id string) error

	// Count returns the number of stored records of the given kind.
	Count(ctx context.Context, kind record.Kind) (int64, error)

	// Close releases backend resources.
	Close() error
}

// KV is the durable flat string-keyed store that holds sync state and the
// tombstone ledger. Get returns ErrKeyNotFound for missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrKeyNotFound indicates a missing KV key.
var ErrKeyNotFound = errors.New("key not found")

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tmarbach/daybook/pkg/record"
)

// MemoryStore implements RecordStore entirely in process memory. It is the
// tertiary tier: everything in it is lost on process exit. Like the
// secondary tier it drops solution records, which are primary-only.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[record.Key]record.Record
}

// NewMemoryStore creates an empty volatile record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[record.Key]record.Record),
	}
}

// GetAll returns every record of the given kind, ordered by timestamp then id.
func (s *MemoryStore) GetAll(ctx context.Context, kind record.Kind) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []record.Record
	for key, rec := range s.records {
		if key.Kind == kind {
			records = append(records, rec.Clone())
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].LastModified != records[j].LastModified {
			return records[i].LastModified < records[j].LastModified
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}

// Get retrieves a single record by identity.
func (s *MemoryStore) Get(ctx context.Context, kind record.Kind, id string) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[record.Key{Kind: kind, ID: id}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := rec.Clone()
	return &out, nil
}

// Put upserts a record, ignoring writes older than the stored copy.
// Solution records are dropped: they are only durable in the primary tier.
func (s *MemoryStore) Put(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Kind == record.KindSolution {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if existing, ok := s.records[key]; ok && existing.LastModified > rec.LastModified {
		return nil
	}
	s.records[key] = rec.Clone()
	return nil
}

// Delete removes a record if present.
func (s *MemoryStore) Delete(ctx context.Context, kind record.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, record.Key{Kind: kind, ID: id})
	return nil
}

// Count returns the number of stored records of the given kind.
func (s *MemoryStore) Count(ctx context.Context, kind record.Kind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for key := range s.records {
		if key.Kind == kind {
			count++
		}
	}
	return count, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// MemoryKV implements KV in process memory, as the fallback when no durable
// flat store can be opened. Sync state kept here does not survive restarts.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryKV creates an empty volatile KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a value under key.
func (s *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.values[key] = v
	return nil
}

// Delete removes a key if present.
func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Close is a no-op.
func (s *MemoryKV) Close() error {
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmarbach/daybook/pkg/record"
	bolt "go.etcd.io/bbolt"
)

// Bucket names inside the bolt file. Record buckets are one per kind;
// the state bucket backs the flat KV.
const (
	boltStateBucket = "state"
	boltKindPrefix  = "records:"
)

// BoltStore implements RecordStore using bbolt as the secondary tier.
// Records are stored as JSON values keyed by id, one bucket per kind.
//
// Solution records are deliberately not durable outside the primary tier:
// Put drops them silently and GetAll returns none.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a record store on an already-open bolt database.
// The database is shared with BoltKV and is owned by the caller.
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, kind := range record.Kinds() {
			if _, err := tx.CreateBucketIfNotExists(kindBucket(kind)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// OpenBolt opens (or creates) a bolt database file.
func OpenBolt(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	return db, nil
}

func kindBucket(kind record.Kind) []byte {
	return []byte(boltKindPrefix + string(kind))
}

// GetAll returns every record of the given kind.
func (s *BoltStore) GetAll(ctx context.Context, kind record.Kind) ([]record.Record, error) {
	var records []record.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kindBucket(kind))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec record.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %s/%s: %w", kind, k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Get retrieves a single record by identity.
func (s *BoltStore) Get(ctx context.Context, kind record.Kind, id string) (*record.Record, error) {
	var rec record.Record
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kindBucket(kind))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record %s/%s: %w", kind, id, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRecordNotFound
	}

	return &rec, nil
}

// Put upserts a record, ignoring writes older than the stored copy.
// Solution records are dropped: they are only durable in the primary tier.
func (s *BoltStore) Put(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Kind == record.KindSolution {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kindBucket(rec.Kind))
		if err != nil {
			return fmt.Errorf("failed to open bucket: %w", err)
		}

		if v := b.Get([]byte(rec.ID)); v != nil {
			var existing record.Record
			if err := json.Unmarshal(v, &existing); err == nil && existing.LastModified > rec.LastModified {
				// Stale write, keep the newer stored copy.
				return nil
			}
		}

		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// Delete removes a record if present.
func (s *BoltStore) Delete(ctx context.Context, kind record.Kind, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kindBucket(kind))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// Count returns the number of stored records of the given kind.
func (s *BoltStore) Count(ctx context.Context, kind record.Kind) (int64, error) {
	var count int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kindBucket(kind))
		if b == nil {
			return nil
		}
		count = int64(b.Stats().KeyN)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Close is a no-op: the shared bolt database is closed by its owner.
func (s *BoltStore) Close() error {
	return nil
}

// BoltKV implements the flat KV on the same bolt database, in a dedicated
// bucket. It persists sync state and the tombstone ledger so they survive
// process restarts even when the primary tier is degraded.
type BoltKV struct {
	db *bolt.DB
}

// NewBoltKV creates a KV on an already-open bolt database.
func NewBoltKV(db *bolt.DB) (*BoltKV, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltStateBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state bucket: %w", err)
	}
	return &BoltKV{db: db}, nil
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *BoltKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltStateBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// Set stores a value under key.
func (s *BoltKV) Set(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(boltStateBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes a key if present.
func (s *BoltKV) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltStateBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Close is a no-op: the shared bolt database is closed by its owner.
func (s *BoltKV) Close() error {
	return nil
}

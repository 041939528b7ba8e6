// Package remote defines the external collaborators the sync engine
// consumes: an authenticated-identity provider and a remote row store with
// scoped select and batched replace-on-conflict upsert.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/tmarbach/daybook/pkg/record"
)

// ErrSignedOut indicates no authenticated identity is available. The sync
// engine treats it as a terminal auth failure.
var ErrSignedOut = errors.New("signed out")

// Identity provides the current user id, or ErrSignedOut.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// IdentityFunc adapts a plain function to the Identity interface.
type IdentityFunc func(ctx context.Context) (string, error)

// CurrentUserID calls f.
func (f IdentityFunc) CurrentUserID(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticIdentity is a fixed user id, useful for tests and single-user
// deployments.
type StaticIdentity string

// CurrentUserID returns the fixed id, or ErrSignedOut when empty.
func (s StaticIdentity) CurrentUserID(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrSignedOut
	}
	return string(s), nil
}

// Row is the wire form of one record on the remote: a live payload or a
// tombstone, keyed by (owner, kind, id) on the backend.
type Row struct {
	Kind         record.Kind     `json:"kind"`
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	LastModified int64           `json:"lastModified"`
	Deleted      bool            `json:"deleted"`
}

// Key returns the row's identity.
func (r *Row) Key() record.Key {
	return record.Key{Kind: r.Kind, ID: r.ID}
}

// RowStore is the remote backend contract. Select returns every row owned
// by the given user; Upsert replaces rows keyed (owner, kind, id) in one
// batch — a failure means nothing was committed.
type RowStore interface {
	Select(ctx context.Context, owner string) ([]Row, error)
	Upsert(ctx context.Context, owner string, rows []Row) error
}

// MemoryRowStore is an in-process RowStore used in tests and as a stand-in
// backend. Safe for concurrent use.
type MemoryRowStore struct {
	mu       sync.Mutex
	rows     map[string]map[record.Key]Row
	selects  int
	upserts  int
	FailWith error // when set, every call fails with this error
}

// NewMemoryRowStore creates an empty in-process row store.
func NewMemoryRowStore() *MemoryRowStore {
	return &MemoryRowStore{rows: make(map[string]map[record.Key]Row)}
}

// Select returns all rows for the owner, sorted by kind then id.
func (m *MemoryRowStore) Select(ctx context.Context, owner string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selects++

	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var out []Row
	for _, row := range m.rows[owner] {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Upsert replaces rows keyed (owner, kind, id).
func (m *MemoryRowStore) Upsert(ctx context.Context, owner string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++

	if m.FailWith != nil {
		return m.FailWith
	}

	byKey := m.rows[owner]
	if byKey == nil {
		byKey = make(map[record.Key]Row)
		m.rows[owner] = byKey
	}
	for _, row := range rows {
		byKey[row.Key()] = row
	}
	return nil
}

// Put seeds a single row, bypassing call counting. Test helper.
func (m *MemoryRowStore) Put(owner string, row Row) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKey := m.rows[owner]
	if byKey == nil {
		byKey = make(map[record.Key]Row)
		m.rows[owner] = byKey
	}
	byKey[row.Key()] = row
}

// Get returns a stored row, if present. Test helper.
func (m *MemoryRowStore) Get(owner string, kind record.Kind, id string) (Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[owner][record.Key{Kind: kind, ID: id}]
	return row, ok
}

// Calls returns how many Select and Upsert calls were made. Test helper.
func (m *MemoryRowStore) Calls() (selects, upserts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selects, m.upserts
}

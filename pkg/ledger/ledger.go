// Package ledger keeps the append-only, prunable log of deletions. A
// tombstone is written before the record it marks is removed, so a crash
// between the two leaves a tombstone without a record (harmless) rather
// than a record deletion a stale remote copy could undo.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tmarbach/daybook/pkg/record"
	"github.com/tmarbach/daybook/pkg/store"
)

// kvKey is where the ledger lives in the durable flat store.
const kvKey = "daybook.tombstones"

// DefaultRetention is the age-based pruning backstop: a tombstone is only
// pruned once it has been pushed to the remote AND is older than this.
// Pruning too early reopens the resurrection window, so both conditions
// must hold.
const DefaultRetention = 30 * 24 * time.Hour

// entry is the persisted form of one tombstone. PushedAt is zero until a
// successful push included the tombstone.
type entry struct {
	record.Tombstone
	PushedAt int64 `json:"pushedAt,omitempty"`
}

// Ledger is the tombstone ledger. It keeps an in-memory index loaded from
// the KV on first use and writes through on every mutation.
type Ledger struct {
	mu        sync.Mutex
	kv        store.KV
	entries   map[record.Key]entry
	loaded    bool
	retention time.Duration
	now       func() int64
	logger    *slog.Logger
}

// New creates a ledger over the given flat store. The logger may be nil.
func New(kv store.KV, logger *slog.Logger) *Ledger {
	return &Ledger{
		kv:        kv,
		entries:   make(map[record.Key]entry),
		retention: DefaultRetention,
		now:       record.NowMillis,
		logger:    logger,
	}
}

// SetRetention overrides the pruning backstop. Intended for tests.
func (l *Ledger) SetRetention(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retention = d
}

// SetClock overrides the wall clock. Intended for tests.
func (l *Ledger) SetClock(now func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Ledger) loadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}

	data, err := l.kv.Get(ctx, kvKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		l.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load tombstone ledger: %w", err)
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to unmarshal tombstone ledger: %w", err)
	}
	for _, e := range entries {
		l.entries[e.Tombstone.Key()] = e
	}
	l.loaded = true
	return nil
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	entries := make([]entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].ID < entries[j].ID
	})

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal tombstone ledger: %w", err)
	}
	if err := l.kv.Set(ctx, kvKey, data); err != nil {
		return fmt.Errorf("failed to persist tombstone ledger: %w", err)
	}
	return nil
}

// Upsert records a deletion, max-merging the timestamp: a tombstone with a
// smaller timestamp never overwrites an existing one. The ledger is
// persisted before Upsert returns, so callers can delete the underlying
// record afterwards without a resurrection window.
func (l *Ledger) Upsert(ctx context.Context, kind record.Kind, id string, lastModified int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return err
	}

	key := record.Key{Kind: kind, ID: id}
	if existing, ok := l.entries[key]; ok && existing.LastModified >= lastModified {
		return nil
	}

	l.entries[key] = entry{
		Tombstone: record.Tombstone{Kind: kind, ID: id, LastModified: lastModified},
	}
	return l.persistLocked(ctx)
}

// List returns all tombstones, sorted by kind then id.
func (l *Ledger) List(ctx context.Context) ([]record.Tombstone, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return nil, err
	}

	tombstones := make([]record.Tombstone, 0, len(l.entries))
	for _, e := range l.entries {
		tombstones = append(tombstones, e.Tombstone)
	}
	sort.Slice(tombstones, func(i, j int) bool {
		if tombstones[i].Kind != tombstones[j].Kind {
			return tombstones[i].Kind < tombstones[j].Kind
		}
		return tombstones[i].ID < tombstones[j].ID
	})
	return tombstones, nil
}

// Get returns the tombstone for an identity, or nil.
func (l *Ledger) Get(ctx context.Context, kind record.Kind, id string) (*record.Tombstone, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return nil, err
	}

	e, ok := l.entries[record.Key{Kind: kind, ID: id}]
	if !ok {
		return nil, nil
	}
	t := e.Tombstone
	return &t, nil
}

// MarkPushed records that the given tombstones were included in a
// successful push, making them candidates for pruning once old enough.
func (l *Ledger) MarkPushed(ctx context.Context, tombstones []record.Tombstone) error {
	if len(tombstones) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return err
	}

	now := l.now()
	changed := false
	for _, t := range tombstones {
		key := t.Key()
		e, ok := l.entries[key]
		// Only mark the exact timestamp that was pushed; a tombstone
		// bumped since then still needs pushing.
		if !ok || e.LastModified != t.LastModified || e.PushedAt != 0 {
			continue
		}
		e.PushedAt = now
		l.entries[key] = e
		changed = true
	}

	if !changed {
		return nil
	}
	return l.persistLocked(ctx)
}

// Prune removes tombstones that are provably known to the remote (pushed)
// and older than the retention backstop. Returns how many were removed.
func (l *Ledger) Prune(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return 0, err
	}

	cutoff := l.now() - l.retention.Milliseconds()
	pruned := 0
	for key, e := range l.entries {
		if e.PushedAt == 0 || e.LastModified > cutoff {
			continue
		}
		delete(l.entries, key)
		pruned++
	}

	if pruned == 0 {
		return 0, nil
	}
	if err := l.persistLocked(ctx); err != nil {
		return 0, err
	}
	if l.logger != nil {
		l.logger.DebugContext(ctx, "pruned tombstones", "count", pruned)
	}
	return pruned, nil
}

// Reset clears the ledger entirely. Used by explicit state resets only.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[record.Key]entry)
	l.loaded = true
	if err := l.kv.Delete(ctx, kvKey); err != nil {
		return fmt.Errorf("failed to reset tombstone ledger: %w", err)
	}
	return nil
}

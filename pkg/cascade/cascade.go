// Package cascade enforces the parent→child deletion rules: removing a
// primary entry also removes its derived insights and detaches it from
// dependent tags, all against the active tier in a single call, with a
// tombstone ledgered before every record delete.
package cascade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmarbach/daybook/pkg/ledger"
	"github.com/tmarbach/daybook/pkg/record"
)

// Store is the slice of the tiered store contract the orchestrator needs.
// All operations in one DeleteEntry call hit the same store value, so the
// cascade executes against whichever tier is active.
type Store interface {
	GetAll(ctx context.Context, kind record.Kind) ([]record.Record, error)
	Put(ctx context.Context, rec record.Record) error
	Delete(ctx context.Context, kind record.Kind, id string) error
}

// Result reports what one cascade removed or rewrote.
type Result struct {
	EntriesDeleted  int
	InsightsDeleted int
	TagsDeleted     int
	TagsUpdated     int
	Tombstones      int
}

// Orchestrator runs cascade-consistent deletes over a store and ledger.
type Orchestrator struct {
	store  Store
	ledger *ledger.Ledger
	logger *slog.Logger
}

// New creates an orchestrator. The logger may be nil.
func New(store Store, ledger *ledger.Ledger, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, ledger: ledger, logger: logger}
}

// deleteOne ledgers a tombstone and then removes the record. Ordering
// matters: the tombstone must exist before the record is gone, otherwise a
// crash in between would let a stale copy resurrect it on the next sync.
func (o *Orchestrator) deleteOne(ctx context.Context, kind record.Kind, id string, at int64) error {
	if err := o.ledger.Upsert(ctx, kind, id, at); err != nil {
		return fmt.Errorf("failed to ledger tombstone for %s/%s: %w", kind, id, err)
	}
	if err := o.store.Delete(ctx, kind, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", kind, id, err)
	}
	return nil
}

// DeleteRecord removes a single non-entry record with a tombstone at the
// given timestamp. Entry deletions must go through DeleteEntry so the
// cascade rules apply.
func (o *Orchestrator) DeleteRecord(ctx context.Context, kind record.Kind, id string, at int64) error {
	if kind == record.KindEntry {
		_, err := o.DeleteEntry(ctx, id, at)
		return err
	}
	return o.deleteOne(ctx, kind, id, at)
}

// DeleteEntry removes a primary entry and cascades: every insight
// referencing the entry is deleted and tombstoned; every tag sourcing the
// entry has it removed from its source set, and a tag whose set becomes
// empty is deleted and tombstoned. The timestamp at stamps every tombstone
// and every rewritten tag.
func (o *Orchestrator) DeleteEntry(ctx context.Context, id string, at int64) (*Result, error) {
	// Snapshot dependents first so a failure before any write leaves the
	// store untouched.
	insights, err := o.store.GetAll(ctx, record.KindInsight)
	if err != nil {
		return nil, fmt.Errorf("failed to load insights: %w", err)
	}
	tags, err := o.store.GetAll(ctx, record.KindTag)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}

	res := &Result{}

	// Step 1: the entry itself.
	if err := o.deleteOne(ctx, record.KindEntry, id, at); err != nil {
		return nil, err
	}
	res.EntriesDeleted++
	res.Tombstones++

	// Step 2: derived insights referencing the entry.
	for _, ins := range insights {
		p, err := ins.DecodeInsight()
		if err != nil {
			if o.logger != nil {
				o.logger.WarnContext(ctx, "skipping malformed insight during cascade", "id", ins.ID, "error", err)
			}
			continue
		}
		if p.EntryID != id {
			continue
		}
		if err := o.deleteOne(ctx, record.KindInsight, ins.ID, at); err != nil {
			return res, err
		}
		res.InsightsDeleted++
		res.Tombstones++
	}

	// Step 3: tags sourcing the entry.
	for _, tag := range tags {
		p, err := tag.DecodeTag()
		if err != nil {
			if o.logger != nil {
				o.logger.WarnContext(ctx, "skipping malformed tag during cascade", "id", tag.ID, "error", err)
			}
			continue
		}
		if !p.ContainsEntry(id) {
			continue
		}

		remaining := p.RemoveEntry(id)
		if len(remaining) == 0 {
			if err := o.deleteOne(ctx, record.KindTag, tag.ID, at); err != nil {
				return res, err
			}
			res.TagsDeleted++
			res.Tombstones++
			continue
		}

		p.EntryIDs = remaining
		// Bump past the stored copy so the LWW put is not ignored.
		ts := at
		if ts <= tag.LastModified {
			ts = tag.LastModified + 1
		}
		updated, err := record.New(record.KindTag, tag.ID, p, ts)
		if err != nil {
			return res, err
		}
		if err := o.store.Put(ctx, updated); err != nil {
			return res, fmt.Errorf("failed to rewrite tag %s: %w", tag.ID, err)
		}
		res.TagsUpdated++
	}

	if o.logger != nil {
		o.logger.DebugContext(ctx, "cascade delete complete",
			"entry", id,
			"insights", res.InsightsDeleted,
			"tagsDeleted", res.TagsDeleted,
			"tagsUpdated", res.TagsUpdated,
		)
	}
	return res, nil
}

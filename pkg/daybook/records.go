package daybook

import (
	"context"
	"fmt"

	"github.com/tmarbach/daybook/pkg/cascade"
	"github.com/tmarbach/daybook/pkg/record"
)

// SaveEntry stores a new journal entry and returns its record.
func (d *Daybook) SaveEntry(ctx context.Context, text, entryType string) (record.Record, error) {
	now := record.NowMillis()
	rec, err := record.New(record.KindEntry, "", record.EntryPayload{
		Text:      text,
		Timestamp: now,
		Type:      entryType,
	}, now)
	if err != nil {
		return record.Record{}, err
	}
	if err := d.store.Put(ctx, rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// SaveInsight stores an insight derived from an entry.
func (d *Daybook) SaveInsight(ctx context.Context, entryID, summary, advice string) (record.Record, error) {
	rec, err := record.New(record.KindInsight, "", record.InsightPayload{
		EntryID: entryID,
		Summary: summary,
		Advice:  advice,
	}, 0)
	if err != nil {
		return record.Record{}, err
	}
	if err := d.store.Put(ctx, rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// SaveSolution stores a saved solution. Solutions are only durable on the
// primary tier; on lower tiers the write is accepted and dropped.
func (d *Daybook) SaveSolution(ctx context.Context, problem, solution, source string) (record.Record, error) {
	rec, err := record.New(record.KindSolution, "", record.SolutionPayload{
		Problem:  problem,
		Solution: solution,
		Source:   source,
	}, 0)
	if err != nil {
		return record.Record{}, err
	}
	if err := d.store.Put(ctx, rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// SaveTag stores a tag, deduplicating by normalized name: when a tag with
// the same normalized name already exists, the source-entry-id sets are
// unioned onto the existing identity instead of creating a second tag.
func (d *Daybook) SaveTag(ctx context.Context, name, category string, entryIDs []string) (record.Record, error) {
	rec, err := record.New(record.KindTag, "", record.TagPayload{
		Name:     name,
		Category: category,
		EntryIDs: entryIDs,
	}, 0)
	if err != nil {
		return record.Record{}, err
	}

	norm := record.NormalizeTagName(name)
	existing, err := d.store.GetAll(ctx, record.KindTag)
	if err != nil {
		return record.Record{}, err
	}
	for _, tag := range existing {
		p, err := tag.DecodeTag()
		if err != nil {
			continue
		}
		if record.NormalizeTagName(p.Name) != norm {
			continue
		}
		merged, err := record.MergeTags(tag, rec)
		if err != nil {
			return record.Record{}, err
		}
		if err := d.store.Put(ctx, merged); err != nil {
			return record.Record{}, err
		}
		return merged, nil
	}

	if err := d.store.Put(ctx, rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// PutRecord upserts a caller-built record into the active tier.
func (d *Daybook) PutRecord(ctx context.Context, rec record.Record) error {
	return d.store.Put(ctx, rec)
}

// GetRecord retrieves one record, or store.ErrRecordNotFound.
func (d *Daybook) GetRecord(ctx context.Context, kind record.Kind, id string) (*record.Record, error) {
	return d.store.Get(ctx, kind, id)
}

// Records returns every record of the given kind from the active tier.
func (d *Daybook) Records(ctx context.Context, kind record.Kind) ([]record.Record, error) {
	return d.store.GetAll(ctx, kind)
}

// CountRecords returns how many records of the given kind exist.
func (d *Daybook) CountRecords(ctx context.Context, kind record.Kind) (int64, error) {
	return d.store.Count(ctx, kind)
}

// DeleteEntry removes a journal entry with the full cascade: its insights
// are deleted, dependent tags are reduced or deleted, and every deletion
// is tombstoned so sync cannot resurrect it.
func (d *Daybook) DeleteEntry(ctx context.Context, id string) (*cascade.Result, error) {
	if id == "" {
		return nil, fmt.Errorf("entry id cannot be empty")
	}
	return d.cascade.DeleteEntry(ctx, id, record.NowMillis())
}

// DeleteRecord removes a single record with a tombstone. Entry deletions
// are routed through the cascade.
func (d *Daybook) DeleteRecord(ctx context.Context, kind record.Kind, id string) error {
	if id == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	return d.cascade.DeleteRecord(ctx, kind, id, record.NowMillis())
}

// Tombstones lists the deletion markers currently held in the ledger.
func (d *Daybook) Tombstones(ctx context.Context) ([]record.Tombstone, error) {
	return d.ledger.List(ctx)
}

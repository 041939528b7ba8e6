package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmarbach/daybook/pkg/record"
)

// Opener opens one tier's backing store. A nil Opener means the tier is
// unavailable (e.g. storage disabled entirely).
type Opener func(ctx context.Context) (RecordStore, error)

// Probe discovers the first tier in the fallback chain that accepts a
// write. The tertiary in-process tier always succeeds, so discovery never
// fails outright.
type Probe struct {
	Primary   Opener
	Secondary Opener
	Logger    *slog.Logger
}

// probeKey is the throwaway identity written and deleted to verify a tier
// accepts writes.
const probeKey = ".tier-probe"

// Open walks the chain and returns the first store that passes a probe
// write, together with its tier.
func (p *Probe) Open(ctx context.Context) (RecordStore, Tier) {
	if s := p.try(ctx, p.Primary, TierPrimary); s != nil {
		return s, TierPrimary
	}
	if s := p.try(ctx, p.Secondary, TierSecondary); s != nil {
		return s, TierSecondary
	}
	return NewMemoryStore(), TierTertiary
}

func (p *Probe) try(ctx context.Context, open Opener, tier Tier) RecordStore {
	if open == nil {
		return nil
	}

	s, err := open(ctx)
	if err != nil {
		p.logf(ctx, "tier unavailable", tier, err)
		return nil
	}
	if err := probeWrite(ctx, s); err != nil {
		p.logf(ctx, "tier rejected probe write", tier, err)
		s.Close()
		return nil
	}
	return s
}

func (p *Probe) logf(ctx context.Context, msg string, tier Tier, err error) {
	if p.Logger != nil {
		p.Logger.WarnContext(ctx, msg, "tier", tier.String(), "error", err)
	}
}

// probeWrite verifies the store accepts a write by putting and deleting a
// throwaway record.
func probeWrite(ctx context.Context, s RecordStore) error {
	rec, err := record.New(record.KindEntry, probeKey, &record.EntryPayload{Text: "probe"}, record.NowMillis())
	if err != nil {
		return err
	}
	if err := s.Put(ctx, rec); err != nil {
		return err
	}
	return s.Delete(ctx, record.KindEntry, probeKey)
}

// Tiered exposes the uniform RecordStore contract over the fallback chain.
// The active tier is discovered lazily on first use and re-discovered on
// every process start, never cached across restarts. Degradation within a
// process is one-directional: once a tier fails, the store moves down the
// chain for the remainder of the process and does not probe upward again.
type Tiered struct {
	mu     sync.Mutex
	probe  *Probe
	active RecordStore
	tier   Tier
	logger *slog.Logger
}

// NewTiered creates a tiered store over the given probe. The logger may be
// nil.
func NewTiered(probe *Probe, logger *slog.Logger) *Tiered {
	return &Tiered{probe: probe, logger: logger}
}

// ActiveTier returns which tier is currently active, discovering it if
// needed. Callers use this to gate solution persistence and to decide
// whether local data counts as durable.
func (t *Tiered) ActiveTier(ctx context.Context) Tier {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked(ctx)
	return t.tier
}

func (t *Tiered) ensureLocked(ctx context.Context) {
	if t.active != nil {
		return
	}
	t.active, t.tier = t.probe.Open(ctx)
	if t.logger != nil {
		t.logger.InfoContext(ctx, "storage tier active", "tier", t.tier.String(), "durable", t.tier.Durable())
	}
}

// degradeLocked moves one step down the chain after a backend failure.
// Returns false when already on the lowest tier.
func (t *Tiered) degradeLocked(ctx context.Context, cause error) bool {
	if t.tier >= TierTertiary {
		return false
	}

	if t.logger != nil {
		t.logger.WarnContext(ctx, "storage tier failed, degrading", "tier", t.tier.String(), "error", cause)
	}
	t.active.Close()

	switch t.tier {
	case TierPrimary:
		if s := t.probe.try(ctx, t.probe.Secondary, TierSecondary); s != nil {
			t.active, t.tier = s, TierSecondary
			return true
		}
		fallthrough
	default:
		t.active, t.tier = NewMemoryStore(), TierTertiary
	}
	return true
}

// do runs op against the active tier, degrading and retrying on backend
// failure. ErrRecordNotFound is a result, not a failure, and never degrades.
func (t *Tiered) do(ctx context.Context, op func(RecordStore) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked(ctx)

	for {
		err := op(t.active)
		if err == nil || errors.Is(err, ErrRecordNotFound) {
			return err
		}
		if !t.degradeLocked(ctx, err) {
			return err
		}
	}
}

// GetAll returns every record of the given kind from the active tier.
func (t *Tiered) GetAll(ctx context.Context, kind record.Kind) ([]record.Record, error) {
	var records []record.Record
	err := t.do(ctx, func(s RecordStore) error {
		var err error
		records, err = s.GetAll(ctx, kind)
		return err
	})
	return records, err
}

// Get retrieves a single record from the active tier.
func (t *Tiered) Get(ctx context.Context, kind record.Kind, id string) (*record.Record, error) {
	var rec *record.Record
	err := t.do(ctx, func(s RecordStore) error {
		var err error
		rec, err = s.Get(ctx, kind, id)
		return err
	})
	return rec, err
}

// Put upserts a record into the active tier.
func (t *Tiered) Put(ctx context.Context, rec record.Record) error {
	// Validate here so payload problems surface as caller errors instead
	// of triggering tier degradation.
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	return t.do(ctx, func(s RecordStore) error {
		return s.Put(ctx, rec)
	})
}

// Delete removes a record from the active tier.
func (t *Tiered) Delete(ctx context.Context, kind record.Kind, id string) error {
	return t.do(ctx, func(s RecordStore) error {
		return s.Delete(ctx, kind, id)
	})
}

// Count returns the number of records of the given kind in the active tier.
func (t *Tiered) Count(ctx context.Context, kind record.Kind) (int64, error) {
	var count int64
	err := t.do(ctx, func(s RecordStore) error {
		var err error
		count, err = s.Count(ctx, kind)
		return err
	})
	return count, err
}

// Close releases the active tier, if discovered.
func (t *Tiered) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return nil
	}
	return t.active.Close()
}

// Package reconcile implements the single-shot bidirectional merge against
// the remote backend and the retry/cooldown wrapper around it. Ordering
// within one sync is strictly snapshot, pull-apply, push; conflicts resolve
// by last-writer-wins on per-record timestamps, with tombstones preventing
// resurrection.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tmarbach/daybook/pkg/cascade"
	"github.com/tmarbach/daybook/pkg/ledger"
	"github.com/tmarbach/daybook/pkg/metrics"
	"github.com/tmarbach/daybook/pkg/record"
	"github.com/tmarbach/daybook/pkg/remote"
	"github.com/tmarbach/daybook/pkg/store"
	"github.com/tmarbach/daybook/pkg/trace"
)

// LocalStore is the slice of the tiered store contract the engine needs.
// ActiveTier gates whether solution rows are pulled at all.
type LocalStore interface {
	GetAll(ctx context.Context, kind record.Kind) ([]record.Record, error)
	Put(ctx context.Context, rec record.Record) error
	Delete(ctx context.Context, kind record.Kind, id string) error
	ActiveTier(ctx context.Context) store.Tier
}

// EngineOptions wires the engine's collaborators. Local, Ledger, Cascade
// and Identity are required; Remote may be nil for a deployment with no
// backend, in which case every sync fails not_configured.
type EngineOptions struct {
	Local    LocalStore
	Ledger   *ledger.Ledger
	Cascade  *cascade.Orchestrator
	Remote   remote.RowStore
	Identity remote.Identity

	// Logger may be nil. Metrics defaults to the build-selected collector.
	// Tracer may be nil to disable trace export.
	Logger  *slog.Logger
	Metrics metrics.Collector
	Tracer  trace.Exporter

	// OnDataChanged is invoked after remote changes were applied locally,
	// so collaborators holding cached reads can re-read.
	OnDataChanged func()
}

// Engine runs one reconciliation at a time. Callers are responsible for
// not invoking Sync concurrently against the same identity; the resilience
// wrapper serializes for them.
type Engine struct {
	local    LocalStore
	ledger   *ledger.Ledger
	cascade  *cascade.Orchestrator
	remote   remote.RowStore
	identity remote.Identity

	logger        *slog.Logger
	metrics       metrics.Collector
	tracer        trace.Exporter
	onDataChanged func()

	now func() int64
}

// NewEngine creates a reconciliation engine.
func NewEngine(opts EngineOptions) *Engine {
	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}
	return &Engine{
		local:         opts.Local,
		ledger:        opts.Ledger,
		cascade:       opts.Cascade,
		remote:        opts.Remote,
		identity:      opts.Identity,
		logger:        opts.Logger,
		metrics:       m,
		tracer:        opts.Tracer,
		onDataChanged: opts.OnDataChanged,
	}
}

// SetOnDataChanged replaces the data-changed callback. Used by the wrapper
// to route the signal to its subscribers.
func (e *Engine) SetOnDataChanged(fn func()) {
	e.onDataChanged = fn
}

// snapshot is the local state captured before contacting the remote.
type snapshot struct {
	records    map[record.Key]record.Record
	tombstones map[record.Key]record.Tombstone
}

// localMax returns the highest timestamp known locally for an identity,
// record or tombstone, or zero.
func (s *snapshot) localMax(key record.Key) int64 {
	var max int64
	if r, ok := s.records[key]; ok {
		max = r.LastModified
	}
	if t, ok := s.tombstones[key]; ok && t.LastModified > max {
		max = t.LastModified
	}
	return max
}

func (e *Engine) takeSnapshot(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{
		records:    make(map[record.Key]record.Record),
		tombstones: make(map[record.Key]record.Tombstone),
	}
	for _, kind := range record.Kinds() {
		recs, err := e.local.GetAll(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s records: %w", kind, err)
		}
		for _, r := range recs {
			snap.records[r.Key()] = r
		}
	}
	tombs, err := e.ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot tombstones: %w", err)
	}
	for _, t := range tombs {
		snap.tombstones[t.Key()] = t
	}
	return snap, nil
}

// pullPlan is the set of local mutations computed from remote rows before
// any of them is applied.
type pullPlan struct {
	deletes []record.Tombstone
	upserts []record.Record
}

// Sync runs the full reconciliation once. The returned result is always
// non-nil; on failure it carries the classification and the error is also
// returned for callers that want to unwrap it.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	started := e.clock()
	res := &SyncResult{At: started}
	opID := uuid.New().String()
	var spans []trace.SpanRecord

	tier := store.TierUnknown
	if e.local != nil {
		tier = e.local.ActiveTier(ctx)
		e.metrics.SetActiveTier(ctx, tier.String())
	}

	run := func() error {
		if e.remote == nil {
			return ErrNotConfigured
		}

		// Step 1: identity. Absence is terminal, classified auth.
		owner, err := e.identity.CurrentUserID(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve sync identity: %w", err)
		}

		// Step 2: snapshot local state before contacting the remote.
		st := e.startSpan("snapshot")
		snap, err := e.takeSnapshot(ctx)
		e.endSpan(ctx, &spans, st, err, nil)
		if err != nil {
			return err
		}
		for _, kind := range record.Kinds() {
			count := int64(0)
			for key := range snap.records {
				if key.Kind == kind {
					count++
				}
			}
			e.metrics.SetRecordCount(ctx, string(kind), count)
		}

		// Step 3: fetch remote rows scoped to the owner.
		st = e.startSpan("fetch")
		rows, err := e.remote.Select(ctx, owner)
		e.endSpan(ctx, &spans, st, err, map[string]int64{"rows": int64(len(rows))})
		if err != nil {
			return fmt.Errorf("failed to fetch remote rows: %w", err)
		}
		remoteByKey := make(map[record.Key]remote.Row, len(rows))
		for _, row := range rows {
			remoteByKey[row.Key()] = row
		}

		// Step 4: pull phase, decided entirely against the snapshot.
		st = e.startSpan("pull")
		plan := e.planPull(ctx, res, snap, rows, tier)
		e.endSpan(ctx, &spans, st, nil, map[string]int64{
			"deletes": int64(len(plan.deletes)),
			"upserts": int64(len(plan.upserts)),
		})

		// Step 5: apply the plan, then broadcast if anything changed.
		st = e.startSpan("apply")
		err = e.applyPull(ctx, plan)
		e.endSpan(ctx, &spans, st, err, nil)
		if err != nil {
			return err
		}
		if res.AppliedRemote > 0 {
			// Re-read so the push phase sees cascade effects of applied
			// deletes, not the stale snapshot.
			snap, err = e.takeSnapshot(ctx)
			if err != nil {
				return err
			}
			if e.onDataChanged != nil {
				e.onDataChanged()
			}
		}

		// Steps 6-8: compute and push the batch.
		st = e.startSpan("push")
		pushedTombs, err := e.push(ctx, res, owner, snap, remoteByKey)
		e.endSpan(ctx, &spans, st, err, map[string]int64{"pushed": int64(res.PushedLocal)})
		if err != nil {
			return err
		}

		// Step 9: mark pushed tombstones and prune.
		st = e.startSpan("persist")
		err = e.ledger.MarkPushed(ctx, pushedTombs)
		if err == nil {
			_, err = e.ledger.Prune(ctx)
		}
		e.endSpan(ctx, &spans, st, err, nil)
		return err
	}

	err := run()
	duration := e.clock() - started
	if err != nil {
		code := Classify(err)
		res.Failure = code
		res.Message = err.Error()
		e.metrics.RecordSync(ctx, "error", duration)
		e.metrics.RecordError(ctx, "sync", string(code))
		if e.logger != nil {
			e.logger.WarnContext(ctx, "sync failed", "failure", string(code), "error", err)
		}
		e.export(ctx, opID, started, duration, spans, code, tier)
		return res, err
	}

	res.OK = true
	e.metrics.RecordSync(ctx, "success", duration)
	if e.logger != nil {
		e.logger.InfoContext(ctx, "sync complete",
			"applied", res.AppliedRemote,
			"pushed", res.PushedLocal,
			"durationMs", duration,
		)
	}
	e.export(ctx, opID, started, duration, spans, FailureNone, tier)
	return res, nil
}

// planPull decides, per remote row, whether it becomes a local delete, a
// local upsert, or a counted skip. Malformed rows are skipped and never
// abort the batch.
func (e *Engine) planPull(ctx context.Context, res *SyncResult, snap *snapshot, rows []remote.Row, tier store.Tier) *pullPlan {
	plan := &pullPlan{}

	for _, row := range rows {
		if !row.Kind.Valid() || row.ID == "" {
			res.SkippedMalformed++
			continue
		}
		key := row.Key()
		localMax := snap.localMax(key)

		if row.Deleted {
			if row.LastModified <= localMax {
				continue // stale remote tombstone
			}
			plan.deletes = append(plan.deletes, record.Tombstone{
				Kind: row.Kind, ID: row.ID, LastModified: row.LastModified,
			})
			res.AppliedRemote++
			continue
		}

		// Solutions are only durable in the primary tier; pulling them
		// anywhere else would silently drop them on write.
		if row.Kind == record.KindSolution && tier != store.TierPrimary {
			continue
		}

		tomb, hasTomb := snap.tombstones[key]
		if hasTomb && tomb.Shadows(row.LastModified) {
			res.SkippedTombstoneShadowed++
			continue
		}

		rec := record.Record{ID: row.ID, Kind: row.Kind, Payload: row.Payload, LastModified: row.LastModified}
		if err := rec.Validate(); err != nil {
			res.SkippedMalformed++
			if e.logger != nil {
				e.logger.WarnContext(ctx, "skipping malformed remote row", "kind", row.Kind, "id", row.ID, "error", err)
			}
			continue
		}

		// Tags merge by normalized name on either side of the timestamp
		// comparison: even a stale row can enrich the local union.
		if row.Kind == record.KindTag {
			if e.planTagPull(ctx, res, snap, plan, rec) {
				continue
			}
		}

		_, hasRec := snap.records[key]
		if (hasRec || hasTomb) && row.LastModified <= localMax {
			res.SkippedLocalNewer++
			continue
		}

		plan.upserts = append(plan.upserts, rec)
		snap.records[key] = rec
		res.AppliedRemote++
	}

	return plan
}

// planTagPull merges an incoming tag row into a local tag sharing its
// normalized name, keeping the local identity. This covers both a distinct
// local tag that dedupes to the same name and a same-id copy whose
// source-entry sets diverged. Returns true when the row was fully handled
// here.
func (e *Engine) planTagPull(ctx context.Context, res *SyncResult, snap *snapshot, plan *pullPlan, rec record.Record) bool {
	p, err := rec.DecodeTag()
	if err != nil {
		res.SkippedMalformed++
		if e.logger != nil {
			e.logger.WarnContext(ctx, "skipping malformed remote tag", "id", rec.ID, "error", err)
		}
		return true
	}
	norm := record.NormalizeTagName(p.Name)

	for key, existing := range snap.records {
		if key.Kind != record.KindTag {
			continue
		}
		ep, err := existing.DecodeTag()
		if err != nil {
			continue
		}
		if record.NormalizeTagName(ep.Name) != norm {
			continue
		}

		merged, err := record.MergeTags(existing, rec)
		if err != nil {
			return false
		}
		if existing.ID == rec.ID && merged.LastModified <= rec.LastModified && string(merged.Payload) != string(rec.Payload) {
			// The remote copy of this tag lacks part of the union. Outrank
			// it so the push phase sends the merged record back instead of
			// treating the remote side as current.
			merged.LastModified = rec.LastModified + 1
		}
		if merged.LastModified == existing.LastModified && string(merged.Payload) == string(existing.Payload) {
			// Union and payload already reflected locally; nothing to apply.
			res.SkippedLocalNewer++
			return true
		}
		plan.upserts = append(plan.upserts, merged)
		snap.records[key] = merged
		res.AppliedRemote++
		return true
	}

	return false
}

// applyPull executes the queued deletes and upserts against the active
// tier. Entry deletes go through the cascade orchestrator so dependent
// insights and tags follow.
func (e *Engine) applyPull(ctx context.Context, plan *pullPlan) error {
	for _, t := range plan.deletes {
		if err := e.cascade.DeleteRecord(ctx, t.Kind, t.ID, t.LastModified); err != nil {
			return fmt.Errorf("failed to apply remote delete %s/%s: %w", t.Kind, t.ID, err)
		}
	}
	for _, rec := range plan.upserts {
		if err := e.local.Put(ctx, rec); err != nil {
			return fmt.Errorf("failed to apply remote row %s/%s: %w", rec.Kind, rec.ID, err)
		}
	}
	return nil
}

// push computes the batch of live rows and delete rows the remote is
// missing or has stale, and upserts it in one call. Returns the tombstones
// that were included so the caller can mark them pushed.
func (e *Engine) push(ctx context.Context, res *SyncResult, owner string, snap *snapshot, remoteByKey map[record.Key]remote.Row) ([]record.Tombstone, error) {
	var batch []remote.Row

	// Live records: skip anything a local tombstone shadows, then include
	// whatever the remote is missing or holds stale.
	for key, rec := range snap.records {
		if t, ok := snap.tombstones[key]; ok && t.Shadows(rec.LastModified) {
			continue
		}
		if rr, ok := remoteByKey[key]; ok && rr.LastModified >= rec.LastModified {
			continue
		}
		batch = append(batch, remote.Row{
			Kind:         rec.Kind,
			ID:           rec.ID,
			Payload:      rec.Payload,
			LastModified: rec.LastModified,
		})
	}

	// Tombstones: skip when the remote already reflects the deletion or
	// something newer, and when a local undelete outran the tombstone.
	var pushedTombs []record.Tombstone
	for key, t := range snap.tombstones {
		if rr, ok := remoteByKey[key]; ok && rr.LastModified >= t.LastModified {
			continue
		}
		if rec, ok := snap.records[key]; ok && rec.LastModified > t.LastModified {
			continue
		}
		batch = append(batch, remote.Row{
			Kind:         t.Kind,
			ID:           t.ID,
			LastModified: t.LastModified,
			Deleted:      true,
		})
		pushedTombs = append(pushedTombs, t)
	}

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].Kind != batch[j].Kind {
			return batch[i].Kind < batch[j].Kind
		}
		return batch[i].ID < batch[j].ID
	})

	if len(batch) > 0 {
		if err := e.remote.Upsert(ctx, owner, batch); err != nil {
			return nil, fmt.Errorf("failed to push %d rows: %w", len(batch), err)
		}
	}
	res.PushedLocal = len(batch)
	return pushedTombs, nil
}

func (e *Engine) clock() int64 {
	if e.now != nil {
		return e.now()
	}
	return record.NowMillis()
}

type spanTimer struct {
	name  string
	start int64
}

func (e *Engine) startSpan(name string) spanTimer {
	return spanTimer{name: name, start: e.clock()}
}

func (e *Engine) endSpan(ctx context.Context, spans *[]trace.SpanRecord, st spanTimer, err error, counters map[string]int64) {
	duration := e.clock() - st.start
	e.metrics.RecordStage(ctx, st.name, duration)

	span := trace.SpanRecord{Name: st.name, DurationMs: duration, OK: err == nil, Counters: counters}
	if err != nil {
		span.ErrorType = string(Classify(err))
	}
	*spans = append(*spans, span)
}

func (e *Engine) export(ctx context.Context, opID string, started, duration int64, spans []trace.SpanRecord, code FailureCode, tier store.Tier) {
	if e.tracer == nil {
		return
	}

	rec := &trace.TraceRecord{
		Timestamp:   time.UnixMilli(started),
		OperationID: opID,
		Operation:   "sync",
		DurationMs:  duration,
		Status:      "success",
		Spans:       spans,
		Tier:        tier.String(),
	}
	if code != FailureNone {
		rec.Status = "error"
		rec.ErrorType = string(code)
	}
	if err := e.tracer.Export(ctx, rec); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "failed to export sync trace", "error", err)
	}
}

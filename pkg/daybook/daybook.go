// Package daybook wires the storage and sync engine into one entry point:
// a tiered local store with lazy fallback, the tombstone ledger, cascade
// deletes, and reconciliation against an optional remote backend.
package daybook

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/tmarbach/daybook/pkg/cascade"
	"github.com/tmarbach/daybook/pkg/ledger"
	"github.com/tmarbach/daybook/pkg/metrics"
	"github.com/tmarbach/daybook/pkg/reconcile"
	"github.com/tmarbach/daybook/pkg/remote"
	"github.com/tmarbach/daybook/pkg/store"
	"github.com/tmarbach/daybook/pkg/trace"
)

// File names inside DataDir.
const (
	sqliteFile = "daybook.db"
	flatFile   = "daybook.flat.db"
)

// Config holds configuration for a Daybook instance.
type Config struct {
	// DataDir is where the durable stores live. Empty means fully
	// in-memory: the tiered store runs on the volatile tier and sync
	// state does not survive the process.
	DataDir string

	// Remote is the sync backend. Nil disables sync; every attempt then
	// fails not_configured.
	Remote remote.RowStore

	// Identity provides the current user id. Defaults to signed out.
	Identity remote.Identity

	// Retry tunes the resilience wrapper. Zero fields use the defaults.
	Retry reconcile.RetryOptions

	// TracePath, when set, exports per-sync operation traces as JSON
	// Lines to this file.
	TracePath string

	// Logger may be nil. Metrics defaults to the build-selected collector.
	Logger  *slog.Logger
	Metrics metrics.Collector
}

// Daybook is the main entry point for the persistence and sync engine.
type Daybook struct {
	config Config
	logger *slog.Logger

	flatDB *bolt.DB
	kv     store.KV
	store  *store.Tiered
	ledger *ledger.Ledger
	cascade *cascade.Orchestrator
	state  *reconcile.State
	runner *reconcile.Runner
	tracer trace.Exporter
}

// New creates a Daybook instance. The tier fallback chain is built from
// DataDir: SQLite as primary, a bbolt flat store as secondary, in-process
// memory as tertiary. The flat store also persists sync state and the
// tombstone ledger; when it cannot be opened those fall back to memory.
func New(cfg Config) (*Daybook, error) {
	d := &Daybook{config: cfg, logger: cfg.Logger}

	var primary, secondary store.Opener
	if cfg.DataDir != "" {
		sqlitePath := filepath.Join(cfg.DataDir, sqliteFile)
		primary = func(ctx context.Context) (store.RecordStore, error) {
			return store.NewSQLiteStore(sqlitePath)
		}

		db, err := store.OpenBolt(filepath.Join(cfg.DataDir, flatFile))
		if err != nil {
			if d.logger != nil {
				d.logger.Warn("flat store unavailable, sync state will not survive restarts", "error", err)
			}
		} else {
			d.flatDB = db
			secondary = func(ctx context.Context) (store.RecordStore, error) {
				return store.NewBoltStore(db)
			}
		}
	}

	if d.flatDB != nil {
		kv, err := store.NewBoltKV(d.flatDB)
		if err != nil {
			d.flatDB.Close()
			return nil, fmt.Errorf("failed to open flat state store: %w", err)
		}
		d.kv = kv
	} else {
		d.kv = store.NewMemoryKV()
	}

	probe := &store.Probe{Primary: primary, Secondary: secondary, Logger: cfg.Logger}
	d.store = store.NewTiered(probe, cfg.Logger)
	d.ledger = ledger.New(d.kv, cfg.Logger)
	d.cascade = cascade.New(d.store, d.ledger, cfg.Logger)
	d.state = reconcile.NewState(d.kv)

	if cfg.TracePath != "" {
		tracer, err := trace.NewFileExporter(cfg.TracePath)
		if err != nil {
			if d.logger != nil {
				d.logger.Warn("trace export disabled", "error", err)
			}
		} else {
			d.tracer = tracer
		}
	}

	identity := cfg.Identity
	if identity == nil {
		identity = remote.StaticIdentity("")
	}
	engine := reconcile.NewEngine(reconcile.EngineOptions{
		Local:    d.store,
		Ledger:   d.ledger,
		Cascade:  d.cascade,
		Remote:   cfg.Remote,
		Identity: identity,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Tracer:   d.tracer,
	})
	d.runner = reconcile.NewRunner(engine, d.state, cfg.Retry, cfg.Logger)

	return d, nil
}

// ActiveTier reports which storage tier is currently serving reads and
// writes, discovering it on first call.
func (d *Daybook) ActiveTier(ctx context.Context) store.Tier {
	return d.store.ActiveTier(ctx)
}

// SyncNow runs one reconciliation immediately, without retry or cooldown
// checks, and persists the result.
func (d *Daybook) SyncNow(ctx context.Context) *reconcile.SyncResult {
	return d.runner.SyncNow(ctx)
}

// SyncNowWithRetry runs reconciliation under the full resilience policy:
// cooldown short-circuit, bounded retry on transient failures, and
// lifecycle events.
func (d *Daybook) SyncNowWithRetry(ctx context.Context) *reconcile.SyncResult {
	return d.runner.SyncNowWithRetry(ctx)
}

// LastSyncedAt returns the timestamp of the last successful sync, or zero.
func (d *Daybook) LastSyncedAt(ctx context.Context) (int64, error) {
	return d.runner.LastSyncedAt(ctx)
}

// LastSyncResult returns the most recent persisted sync result, or nil.
func (d *Daybook) LastSyncResult(ctx context.Context) (*reconcile.SyncResult, error) {
	return d.runner.LastSyncResult(ctx)
}

// CooldownUntil returns the active cooldown expiry, or zero.
func (d *Daybook) CooldownUntil(ctx context.Context) (int64, error) {
	return d.runner.CooldownUntil(ctx)
}

// Subscribe registers a sync lifecycle event callback.
func (d *Daybook) Subscribe(fn func(reconcile.Event)) {
	d.runner.Subscribe(fn)
}

// SubscribeDataChanged registers a callback fired after remote changes
// were applied to the local store. Callers holding cached reads should
// re-read.
func (d *Daybook) SubscribeDataChanged(fn func()) {
	d.runner.SubscribeDataChanged(fn)
}

// SyncConfig returns the persisted sync configuration.
func (d *Daybook) SyncConfig(ctx context.Context) (reconcile.Config, error) {
	return d.state.Config(ctx)
}

// SetSyncConfig persists the sync configuration.
func (d *Daybook) SetSyncConfig(ctx context.Context, cfg reconcile.Config) error {
	return d.state.SetConfig(ctx, cfg)
}

// ResetSyncState clears all persisted sync bookkeeping: config, last
// result, timestamps and cooldown. The tombstone ledger is left intact so
// deletions still cannot be resurrected.
func (d *Daybook) ResetSyncState(ctx context.Context) error {
	return d.state.Reset(ctx)
}

// Close releases every open resource.
func (d *Daybook) Close() error {
	var firstErr error
	if d.tracer != nil {
		if err := d.tracer.Close(); err != nil {
			firstErr = err
		}
	}
	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.kv.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if d.flatDB != nil {
		if err := d.flatDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

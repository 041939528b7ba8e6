package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tmarbach/daybook/pkg/record"
)

// Lifecycle event phases. Every wrapped sync emits start, zero or more
// retry events, then exactly one of success, fail or cooldown.
const (
	PhaseStart    = "start"
	PhaseRetry    = "retry"
	PhaseSuccess  = "success"
	PhaseFail     = "fail"
	PhaseCooldown = "cooldown"
)

// Event is one lifecycle status broadcast to subscribers.
type Event struct {
	Phase         string      `json:"phase"`
	OK            bool        `json:"ok"`
	Failure       FailureCode `json:"failure,omitempty"`
	Message       string      `json:"message,omitempty"`
	RetryCount    int         `json:"retryCount"`
	At            int64       `json:"at"`
	CooldownUntil int64       `json:"cooldownUntil,omitempty"`
}

// RetryOptions tunes the bounded retry loop and cooldown.
type RetryOptions struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Cooldown  time.Duration
}

// DefaultRetryOptions returns the standard policy: three attempts,
// exponential backoff from 500ms capped at 2.5s, 30s cooldown after
// exhausting retries on a transient failure.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  2500 * time.Millisecond,
		Cooldown:  30 * time.Second,
	}
}

func (o RetryOptions) normalized() RetryOptions {
	def := DefaultRetryOptions()
	if o.Attempts <= 0 {
		o.Attempts = def.Attempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.Cooldown <= 0 {
		o.Cooldown = def.Cooldown
	}
	return o
}

// Runner wraps the engine with retry, cooldown and lifecycle events, and
// owns the persisted sync state. It serializes sync invocations so at most
// one reconciliation is in flight.
type Runner struct {
	mu     sync.Mutex
	engine *Engine
	state  *State
	opts   RetryOptions
	logger *slog.Logger

	subMu       sync.Mutex
	subscribers []func(Event)
	dataSubs    []func()

	now   func() int64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a resilience wrapper around the engine. Zero fields in
// opts fall back to the defaults. The engine's data-changed signal is
// routed to the runner's subscribers.
func NewRunner(engine *Engine, state *State, opts RetryOptions, logger *slog.Logger) *Runner {
	r := &Runner{
		engine: engine,
		state:  state,
		opts:   opts.normalized(),
		logger: logger,
		now:    record.NowMillis,
		sleep:  sleepCtx,
	}
	engine.SetOnDataChanged(r.notifyDataChanged)
	return r
}

// SetClock overrides the wall clock. Intended for tests.
func (r *Runner) SetClock(now func() int64) {
	r.now = now
}

// Subscribe registers a lifecycle event callback. Callbacks run on the
// syncing goroutine and must not block.
func (r *Runner) Subscribe(fn func(Event)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// SubscribeDataChanged registers a callback fired after remote changes
// were applied locally.
func (r *Runner) SubscribeDataChanged(fn func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.dataSubs = append(r.dataSubs, fn)
}

func (r *Runner) emit(ev Event) {
	r.subMu.Lock()
	subs := make([]func(Event), len(r.subscribers))
	copy(subs, r.subscribers)
	r.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (r *Runner) notifyDataChanged() {
	r.subMu.Lock()
	subs := make([]func(), len(r.dataSubs))
	copy(subs, r.dataSubs)
	r.subMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// SyncNow runs a single reconciliation with no retry and no cooldown
// check, persisting the result. Intended for explicit user-triggered syncs
// where immediate feedback beats politeness to a degraded backend.
func (r *Runner) SyncNow(ctx context.Context) *SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, _ := r.engine.Sync(ctx)
	r.persist(ctx, res)
	return res
}

// SyncNowWithRetry runs the full resilience procedure: cooldown
// short-circuit, bounded retry on network failures, cooldown arming on
// exhaustion, and lifecycle events throughout.
func (r *Runner) SyncNowWithRetry(ctx context.Context) *SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.now()
	r.emit(Event{Phase: PhaseStart, OK: true, At: started})

	// Cooldown short-circuit: answer from persisted state without
	// contacting the remote.
	until, err := r.state.CooldownUntil(ctx)
	if err == nil && until > started {
		res := &SyncResult{At: started, Failure: FailureNetwork, Message: "sync cooling down"}
		if last, err := r.state.LastResult(ctx); err == nil && last != nil && last.Failure != FailureNone {
			res.Failure = last.Failure
			res.Message = last.Message
		}
		r.emit(Event{
			Phase:         PhaseCooldown,
			Failure:       res.Failure,
			Message:       res.Message,
			At:            started,
			CooldownUntil: until,
		})
		return res
	}

	var res *SyncResult
	retries := 0
	delay := r.opts.BaseDelay
	for attempt := 0; attempt < r.opts.Attempts; attempt++ {
		if attempt > 0 {
			retries++
			r.emit(Event{
				Phase:      PhaseRetry,
				Failure:    res.Failure,
				Message:    res.Message,
				RetryCount: retries,
				At:         r.now(),
			})
			if r.logger != nil {
				r.logger.DebugContext(ctx, "retrying sync", "attempt", attempt+1, "delay", delay)
			}
			if err := r.sleep(ctx, delay); err != nil {
				break
			}
			delay *= 2
			if delay > r.opts.MaxDelay {
				delay = r.opts.MaxDelay
			}
		}

		res, _ = r.engine.Sync(ctx)
		if res.OK || !res.Failure.Retryable() {
			break
		}
	}
	res.RetryCount = retries

	r.persist(ctx, res)

	switch {
	case res.OK:
		r.emit(Event{Phase: PhaseSuccess, OK: true, RetryCount: retries, At: r.now()})
	case res.Failure.Retryable():
		until := r.now() + r.opts.Cooldown.Milliseconds()
		if err := r.state.SetCooldownUntil(ctx, until); err != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "failed to persist cooldown", "error", err)
		}
		r.emit(Event{
			Phase:         PhaseCooldown,
			Failure:       res.Failure,
			Message:       res.Message,
			RetryCount:    retries,
			At:            r.now(),
			CooldownUntil: until,
		})
	default:
		r.emit(Event{
			Phase:      PhaseFail,
			Failure:    res.Failure,
			Message:    res.Message,
			RetryCount: retries,
			At:         r.now(),
		})
	}

	return res
}

// persist writes the attempt outcome; success also records the sync
// timestamp and clears any cooldown.
func (r *Runner) persist(ctx context.Context, res *SyncResult) {
	if err := r.state.SetLastResult(ctx, res); err != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "failed to persist sync result", "error", err)
	}
	if !res.OK {
		return
	}
	if err := r.state.SetLastSyncedAt(ctx, res.At); err != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "failed to persist sync timestamp", "error", err)
	}
	if err := r.state.SetCooldownUntil(ctx, 0); err != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "failed to clear cooldown", "error", err)
	}
}

// LastSyncedAt returns the timestamp of the last successful sync, or zero.
func (r *Runner) LastSyncedAt(ctx context.Context) (int64, error) {
	return r.state.LastSyncedAt(ctx)
}

// LastSyncResult returns the most recent persisted result, or nil.
func (r *Runner) LastSyncResult(ctx context.Context) (*SyncResult, error) {
	return r.state.LastResult(ctx)
}

// CooldownUntil returns the active cooldown expiry, or zero.
func (r *Runner) CooldownUntil(ctx context.Context) (int64, error) {
	return r.state.CooldownUntil(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

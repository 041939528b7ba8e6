package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tmarbach/daybook/pkg/store"
)

// Persisted sync state keys in the durable flat store.
const (
	keyConfig        = "daybook.sync.config"
	keyLastSyncedAt  = "daybook.sync.lastSyncedAt"
	keyLastResult    = "daybook.sync.lastResult"
	keyCooldownUntil = "daybook.sync.cooldownUntil"
)

// Config is the user-facing sync configuration.
type Config struct {
	Enabled  bool `json:"enabled"`
	AutoSync bool `json:"autoSync"`
}

// State persists sync bookkeeping (config, last result, cooldown) in the
// durable flat store so it survives process restarts. It holds no cache;
// every accessor reads through to the KV.
type State struct {
	kv store.KV
}

// NewState creates sync state storage over the given flat store.
func NewState(kv store.KV) *State {
	return &State{kv: kv}
}

// Config returns the stored sync configuration. Sync is enabled by default
// until explicitly configured otherwise.
func (s *State) Config(ctx context.Context) (Config, error) {
	data, err := s.kv.Get(ctx, keyConfig)
	if errors.Is(err, store.ErrKeyNotFound) {
		return Config{Enabled: true, AutoSync: true}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to load sync config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal sync config: %w", err)
	}
	return cfg, nil
}

// SetConfig stores the sync configuration.
func (s *State) SetConfig(ctx context.Context, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal sync config: %w", err)
	}
	if err := s.kv.Set(ctx, keyConfig, data); err != nil {
		return fmt.Errorf("failed to persist sync config: %w", err)
	}
	return nil
}

// LastSyncedAt returns the timestamp of the last successful sync, or zero.
func (s *State) LastSyncedAt(ctx context.Context) (int64, error) {
	return s.getInt64(ctx, keyLastSyncedAt)
}

// SetLastSyncedAt stores the timestamp of the last successful sync.
func (s *State) SetLastSyncedAt(ctx context.Context, at int64) error {
	return s.setInt64(ctx, keyLastSyncedAt, at)
}

// LastResult returns the most recently persisted sync result, or nil if no
// attempt has been recorded.
func (s *State) LastResult(ctx context.Context) (*SyncResult, error) {
	data, err := s.kv.Get(ctx, keyLastResult)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last sync result: %w", err)
	}

	var res SyncResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last sync result: %w", err)
	}
	return &res, nil
}

// SetLastResult stores the outcome of a sync attempt. Overwritten on every
// attempt, never deleted except by Reset.
func (s *State) SetLastResult(ctx context.Context, res *SyncResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal sync result: %w", err)
	}
	if err := s.kv.Set(ctx, keyLastResult, data); err != nil {
		return fmt.Errorf("failed to persist sync result: %w", err)
	}
	return nil
}

// CooldownUntil returns the cooldown expiry timestamp, or zero when no
// cooldown is active.
func (s *State) CooldownUntil(ctx context.Context) (int64, error) {
	return s.getInt64(ctx, keyCooldownUntil)
}

// SetCooldownUntil stores the cooldown expiry. Zero clears the cooldown.
func (s *State) SetCooldownUntil(ctx context.Context, until int64) error {
	if until == 0 {
		if err := s.kv.Delete(ctx, keyCooldownUntil); err != nil {
			return fmt.Errorf("failed to clear cooldown: %w", err)
		}
		return nil
	}
	return s.setInt64(ctx, keyCooldownUntil, until)
}

// Reset removes all persisted sync state. Explicit resets only.
func (s *State) Reset(ctx context.Context) error {
	for _, key := range []string{keyConfig, keyLastSyncedAt, keyLastResult, keyCooldownUntil} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to reset sync state key %s: %w", key, err)
		}
	}
	return nil
}

func (s *State) getInt64(ctx context.Context, key string) (int64, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", key, err)
	}

	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func (s *State) setInt64(ctx context.Context, key string, v int64) error {
	if err := s.kv.Set(ctx, key, strconv.AppendInt(nil, v, 10)); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmarbach/daybook/pkg/store"
)

func TestState_ConfigDefaultsToEnabled(t *testing.T) {
	s := NewState(store.NewMemoryKV())
	ctx := context.Background()

	cfg, err := s.Config(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.AutoSync)

	require.NoError(t, s.SetConfig(ctx, Config{Enabled: false, AutoSync: false}))
	cfg, err = s.Config(ctx)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.AutoSync)
}

func TestState_LastResultRoundTrip(t *testing.T) {
	s := NewState(store.NewMemoryKV())
	ctx := context.Background()

	got, err := s.LastResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := &SyncResult{
		OK:            false,
		AppliedRemote: 3,
		PushedLocal:   1,
		Failure:       FailureNetwork,
		Message:       "connection refused",
		At:            12345,
		RetryCount:    2,
	}
	require.NoError(t, s.SetLastResult(ctx, want))

	got, err = s.LastResult(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, got)
}

func TestState_TimestampsAndCooldown(t *testing.T) {
	s := NewState(store.NewMemoryKV())
	ctx := context.Background()

	at, err := s.LastSyncedAt(ctx)
	require.NoError(t, err)
	assert.Zero(t, at)

	require.NoError(t, s.SetLastSyncedAt(ctx, 99000))
	at, err = s.LastSyncedAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(99000), at)

	require.NoError(t, s.SetCooldownUntil(ctx, 123456))
	until, err := s.CooldownUntil(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), until)

	// Zero clears the cooldown entirely.
	require.NoError(t, s.SetCooldownUntil(ctx, 0))
	until, err = s.CooldownUntil(ctx)
	require.NoError(t, err)
	assert.Zero(t, until)
}

func TestState_Reset(t *testing.T) {
	s := NewState(store.NewMemoryKV())
	ctx := context.Background()

	require.NoError(t, s.SetConfig(ctx, Config{Enabled: false}))
	require.NoError(t, s.SetLastSyncedAt(ctx, 1))
	require.NoError(t, s.SetLastResult(ctx, &SyncResult{OK: true}))
	require.NoError(t, s.SetCooldownUntil(ctx, 2))

	require.NoError(t, s.Reset(ctx))

	cfg, err := s.Config(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)

	at, err := s.LastSyncedAt(ctx)
	require.NoError(t, err)
	assert.Zero(t, at)

	res, err := s.LastResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, res)

	until, err := s.CooldownUntil(ctx)
	require.NoError(t, err)
	assert.Zero(t, until)
}

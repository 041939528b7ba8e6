//go:build !metrics

package metrics

import "context"

// NoopCollector is a no-op implementation when metrics are disabled.
// This file is only compiled when the 'metrics' build tag is NOT present.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordSync does nothing when metrics are disabled
func (n *NoopCollector) RecordSync(ctx context.Context, status string, durationMs int64) {}

// RecordStage does nothing when metrics are disabled
func (n *NoopCollector) RecordStage(ctx context.Context, stage string, durationMs int64) {}

// RecordError does nothing when metrics are disabled
func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {}

// SetRecordCount does nothing when metrics are disabled
func (n *NoopCollector) SetRecordCount(ctx context.Context, kind string, count int64) {}

// SetActiveTier does nothing when metrics are disabled
func (n *NoopCollector) SetActiveTier(ctx context.Context, tier string) {}

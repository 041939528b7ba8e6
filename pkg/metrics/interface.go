package metrics

import "context"

// Collector is the interface for metrics collection.
// Implementations include the Prometheus-backed collector (when built with
// -tags metrics) and the no-op collector (default build without metrics tag).
type Collector interface {
	RecordSync(ctx context.Context, status string, durationMs int64)
	RecordStage(ctx context.Context, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetRecordCount(ctx context.Context, kind string, count int64)
	SetActiveTier(ctx context.Context, tier string)
}

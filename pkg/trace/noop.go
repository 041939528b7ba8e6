//go:build !tracing

package trace

import "context"

// NoopExporter discards every sync trace. It is the default when the
// tracing build tag is absent.
type NoopExporter struct{}

// NewFileExporter returns the discard exporter. The signature mirrors the
// tracing build so callers wire a trace path unconditionally.
func NewFileExporter(filePath string, opts ...FileExporterOption) (Exporter, error) {
	return &NoopExporter{}, nil
}

// Export discards the record.
func (n *NoopExporter) Export(ctx context.Context, record *TraceRecord) error {
	return nil
}

// Close is a no-op.
func (n *NoopExporter) Close() error {
	return nil
}

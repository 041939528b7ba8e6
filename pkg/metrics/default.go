//go:build !metrics

package metrics

// Default returns the collector used when the caller does not supply one.
// Without the 'metrics' build tag this is the no-op collector.
func Default() Collector {
	return NewNoopCollector()
}

//go:build metrics

package metrics

// Default returns the collector used when the caller does not supply one.
// With the 'metrics' build tag this is the Prometheus-backed collector.
func Default() Collector {
	return NewCollector()
}

// Package metric provides Prometheus-based metrics for gpukit.
//
// The package exposes a MetricsRegistry that owns an isolated Prometheus
// registry, core platform metrics (memory pools, pipeline compilation, batch
// processing), and a registration surface for component-specific metrics.
//
// Components register their own collectors through the MetricsRegistrar
// interface so that one registry aggregates everything without global state:
//
//	registry := metric.NewMetricsRegistry()
//	cache, err := cache.NewLRU[[]byte](1024,
//	    cache.WithMetrics[[]byte](registry, "pipeline_cache"))
//
// The registry never starts a server. Embedding applications mount
// registry.Handler() wherever they expose metrics.
package metric

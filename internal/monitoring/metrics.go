// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - renders/misses:        Dispatch calls and resolution misses
//   - builds/rebuilds:       Registry builds and explicit invalidations
//   - registry_hits/misses:  Registries served with or without a build
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	renders        atomic.Int64
	failures       atomic.Int64
	misses         atomic.Int64
	builds         atomic.Int64
	rebuilds       atomic.Int64
	registryHits   atomic.Int64
	registryMisses atomic.Int64
	renderNanos    atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordRender records a dispatch call.
func (mc *MetricsCollector) RecordRender(success bool, latency time.Duration) {
	mc.renders.Add(1)
	if !success {
		mc.failures.Add(1)
	}
	mc.renderNanos.Add(int64(latency))
}

// RecordMiss records a hook with no implementation.
func (mc *MetricsCollector) RecordMiss() { mc.misses.Add(1) }

// RecordBuild records a registry built because the Cache Store missed.
func (mc *MetricsCollector) RecordBuild() { mc.builds.Add(1) }

// RecordRebuild records an explicit invalidation.
func (mc *MetricsCollector) RecordRebuild() { mc.rebuilds.Add(1) }

// RecordRegistryHit records a registry served without a build.
func (mc *MetricsCollector) RecordRegistryHit() { mc.registryHits.Add(1) }

// RecordRegistryMiss records a registry lookup the Cache Store could not serve.
func (mc *MetricsCollector) RecordRegistryMiss() { mc.registryMisses.Add(1) }

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	renders := mc.renders.Load()
	var avg int64
	if renders > 0 {
		avg = time.Duration(mc.renderNanos.Load() / renders).Microseconds()
	}
	return map[string]int64{
		"renders":         renders,
		"failures":        mc.failures.Load(),
		"misses":          mc.misses.Load(),
		"builds":          mc.builds.Load(),
		"rebuilds":        mc.rebuilds.Load(),
		"registry_hits":   mc.registryHits.Load(),
		"registry_misses": mc.registryMisses.Load(),
		"avg_render_us":   avg,
	}
}

// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both gateway/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - RenderEvent:  Outcome of one render request
//   - Config types: LoggerConfig, AlertConfig
package monitoring

import "time"

// =============================================================================
// EVENT TYPES - Structured data for render logging
// =============================================================================

// RenderEvent captures a render request through the gateway.
type RenderEvent struct {
	RequestID   string        `json:"request_id"`
	Theme       string        `json:"theme"`
	Hook        string        `json:"hook"`         // Hook or first candidate requested
	OutputBytes int           `json:"output_bytes"` // Size of the rendered output
	Missed      bool          `json:"missed"`       // No implementation found
	Latency     time.Duration `json:"latency"`
	Error       string        `json:"error,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	SlowRenderThreshold time.Duration `yaml:"slow_render_threshold"`
}

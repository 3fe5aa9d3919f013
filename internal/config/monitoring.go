// Monitoring configuration - logging settings.
//
// DESIGN: Logging is zerolog, configured once at startup.
package config

import (
	"fmt"
	"time"

	"github.com/compresr/theme-registry/internal/monitoring"
)

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path

	SlowRenderThreshold time.Duration `yaml:"slow_render_threshold"` // Optional
}

// Validate checks the monitoring section.
func (m *MonitoringConfig) Validate() error {
	switch m.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid monitoring.log_format: %s (must be json or console)", m.LogFormat)
	}
	return nil
}

// LoggerConfig converts to the monitoring logger settings.
func (m *MonitoringConfig) LoggerConfig() monitoring.LoggerConfig {
	return monitoring.LoggerConfig{
		Level:  m.LogLevel,
		Format: m.LogFormat,
		Output: m.LogOutput,
	}
}

// AlertConfig converts to the monitoring alert settings.
func (m *MonitoringConfig) AlertConfig() monitoring.AlertConfig {
	return monitoring.AlertConfig{SlowRenderThreshold: m.SlowRenderThreshold}
}

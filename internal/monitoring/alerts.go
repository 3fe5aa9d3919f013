// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagSlowRender:     Warn when a render exceeds threshold
//   - FlagRenderFailure:  Error when a render request fails
//   - FlagInvalidRequest: Debug on malformed requests
//   - FlagPanic:          Error on recovered panics
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger              *Logger
	slowRenderThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.SlowRenderThreshold
	if threshold == 0 {
		threshold = 500 * time.Millisecond
	}
	return &AlertManager{logger: logger, slowRenderThreshold: threshold}
}

// FlagSlowRender logs when render latency exceeds threshold.
func (am *AlertManager) FlagSlowRender(requestID, hook string, latency time.Duration) {
	if latency < am.slowRenderThreshold {
		return
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Str("hook", hook).
		Dur("latency", latency).
		Msg("slow_render")
}

// FlagRenderFailure logs a failed render request.
func (am *AlertManager) FlagRenderFailure(requestID, hook string, err error) {
	am.logger.Error().
		Str("request_id", requestID).
		Str("hook", hook).
		Err(err).
		Msg("render_failed")
}

// FlagInvalidRequest logs invalid request.
func (am *AlertManager) FlagInvalidRequest(requestID, reason string) {
	am.logger.Debug().
		Str("request_id", requestID).
		Str("reason", reason).
		Msg("invalid_request")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}

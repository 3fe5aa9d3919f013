// Package gateway exposes the dispatcher over HTTP.
//
// DESIGN: A thin JSON API in front of theme.Dispatcher:
//   - POST /render:   render a hook, candidate list or element
//   - GET  /registry: dump the active registry with its fingerprint
//   - POST /rebuild:  invalidate cached registries and the skin list
//   - GET  /health:   liveness and extension load state
//   - GET  /stats:    counters
//
// Request bodies are read with gjson and responses built with sjson so no
// intermediate structs are needed for the loosely-typed variable payloads.
//
// FILES:
//   - gateway.go:    Gateway, handlers
//   - middleware.go: request ID, logging, panic recovery, rate limiting
//   - types.go:      constants, RenderRequest
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/theme-registry/internal/config"
	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/monitoring"
	"github.com/compresr/theme-registry/internal/pipes"
	"github.com/compresr/theme-registry/internal/theme"
)

// Gateway serves the render API.
type Gateway struct {
	config        *config.Config
	extensions    *extensions.Store
	dispatcher    *theme.Dispatcher
	server        *http.Server
	requestLogger *monitoring.RequestLogger
	alerts        *monitoring.AlertManager
	metrics       *monitoring.MetricsCollector
	rateLimiter   *rateLimiter
}

// New creates a gateway.
func New(cfg *config.Config, exts *extensions.Store, dispatcher *theme.Dispatcher) *Gateway {
	logger := monitoring.New(cfg.Monitoring.LoggerConfig())
	g := &Gateway{
		config:        cfg,
		extensions:    exts,
		dispatcher:    dispatcher,
		requestLogger: monitoring.NewRequestLogger(logger),
		alerts:        monitoring.NewAlertManager(logger, cfg.Monitoring.AlertConfig()),
		metrics:       dispatcher.Metrics(),
		rateLimiter:   newRateLimiter(DefaultRateLimit),
	}

	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      g.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return g
}

// Handler returns the HTTP handler with middleware applied.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /render", g.handleRender)
	mux.HandleFunc("GET /registry", g.handleRegistry)
	mux.HandleFunc("POST /rebuild", g.handleRebuild)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)

	var h http.Handler = mux
	h = g.security(h)
	h = g.loggingMiddleware(h)
	h = g.rateLimit(h)
	h = g.panicRecovery(h)
	return h
}

// Start listens until Shutdown. Returns nil on graceful shutdown.
func (g *Gateway) Start() error {
	log.Info().Int("port", g.config.Server.Port).Str("theme", g.config.Theme.Default).Msg("theme registry listening")
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server and background goroutines.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.rateLimiter.stop()
	return g.server.Shutdown(ctx)
}

// =============================================================================
// HANDLERS
// =============================================================================

func (g *Gateway) handleRender(w http.ResponseWriter, r *http.Request) {
	requestID := monitoring.RequestIDFromContext(r.Context())
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize))
	if err != nil {
		g.writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	req, err := ParseRenderRequest(body)
	if err != nil {
		g.alerts.FlagInvalidRequest(requestID, err.Error())
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Theme == "" {
		req.Theme = r.Header.Get(HeaderTheme)
	}

	dc, err := g.dispatcher.Context(req.Theme)
	if err != nil {
		g.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	dc.RequestID = requestID
	ctx := r.Context()

	var output string
	switch {
	case req.Element != nil:
		output, err = g.dispatcher.RenderElement(ctx, dc, req.Element)
	case len(req.Candidates) > 0:
		output, err = g.dispatcher.RenderCandidates(ctx, dc, req.Candidates, req.Variables)
	default:
		output, err = g.dispatcher.Render(ctx, dc, req.Hook, req.Variables)
	}

	latency := time.Since(start)
	event := &monitoring.RenderEvent{
		RequestID:   requestID,
		Theme:       dc.Skin.Name,
		Hook:        req.Label(),
		OutputBytes: len(output),
		Latency:     latency,
	}
	if err != nil {
		event.Error = err.Error()
		g.requestLogger.LogRender(event)
		g.alerts.FlagRenderFailure(requestID, req.Label(), err)
		status := http.StatusInternalServerError
		if errors.Is(err, theme.ErrNotLoaded) {
			status = http.StatusServiceUnavailable
		}
		g.writeError(w, err.Error(), status)
		return
	}
	g.requestLogger.LogRender(event)
	g.alerts.FlagSlowRender(requestID, req.Label(), latency)

	resp := []byte(`{}`)
	resp, _ = sjson.SetBytes(resp, "theme", dc.Skin.Name)
	resp, _ = sjson.SetBytes(resp, "hook", req.Label())
	resp, _ = sjson.SetBytes(resp, "output", output)
	resp, _ = sjson.SetBytes(resp, "request_id", requestID)
	g.writeJSON(w, resp, http.StatusOK)
}

func (g *Gateway) handleRegistry(w http.ResponseWriter, r *http.Request) {
	dc, err := g.dispatcher.Context(r.URL.Query().Get("theme"))
	if err != nil {
		g.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	reg := g.dispatcher.Registry(r.Context(), dc)

	hooks, err := json.Marshal(reg.Descriptors())
	if err != nil {
		g.writeError(w, "failed to encode registry", http.StatusInternalServerError)
		return
	}

	resp := []byte(`{}`)
	resp, _ = sjson.SetBytes(resp, "theme", dc.Skin.Name)
	resp, _ = sjson.SetBytes(resp, "engine", dc.Engine)
	resp, _ = sjson.SetBytes(resp, "fingerprint", reg.Fingerprint())
	resp, _ = sjson.SetBytes(resp, "count", reg.Len())
	resp, _ = sjson.SetRawBytes(resp, "hooks", hooks)
	g.writeJSON(w, resp, http.StatusOK)
}

func (g *Gateway) handleRebuild(w http.ResponseWriter, r *http.Request) {
	g.extensions.InvalidateSkinList()
	if err := g.dispatcher.Rebuild(r.Context()); err != nil {
		g.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp, _ := sjson.SetBytes([]byte(`{}`), "status", "rebuilt")
	g.writeJSON(w, resp, http.StatusOK)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := []byte(`{}`)
	resp, _ = sjson.SetBytes(resp, "status", "ok")
	resp, _ = sjson.SetBytes(resp, "loaded", g.extensions.Loaded())
	g.writeJSON(w, resp, http.StatusOK)
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := []byte(`{}`)
	for name, value := range g.metrics.Stats() {
		resp, _ = sjson.SetBytes(resp, name, value)
	}
	g.writeJSON(w, resp, http.StatusOK)
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

// ParseRenderRequest reads a render request body.
func ParseRenderRequest(body []byte) (*RenderRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON body")
	}
	root := gjson.ParseBytes(body)
	req := &RenderRequest{Theme: root.Get("theme").String()}

	if el := root.Get("element"); el.Exists() {
		m, ok := el.Value().(map[string]any)
		if !ok || !pipes.IsElement(m) {
			return nil, errors.New("element must be an object with #theme or #theme_wrappers")
		}
		req.Element = pipes.Element(m)
		return req, nil
	}

	hook := root.Get("hook")
	switch {
	case hook.IsArray():
		for _, c := range hook.Array() {
			if c.String() != "" {
				req.Candidates = append(req.Candidates, c.String())
			}
		}
		if len(req.Candidates) == 0 {
			return nil, errors.New("hook candidate list is empty")
		}
	case hook.Type == gjson.String && hook.String() != "":
		req.Hook = hook.String()
	default:
		return nil, errors.New("hook is required")
	}

	req.Variables = pipes.NewVariables()
	if vars := root.Get("variables"); vars.Exists() {
		if !vars.IsObject() {
			return nil, errors.New("variables must be an object")
		}
		// ForEach keeps document order.
		vars.ForEach(func(key, value gjson.Result) bool {
			req.Variables.Set(key.String(), value.Value())
			return true
		})
	}
	return req, nil
}

// =============================================================================
// RESPONSES
// =============================================================================

func (g *Gateway) writeJSON(w http.ResponseWriter, body []byte, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	body, _ := sjson.SetBytes([]byte(`{}`), "error.message", msg)
	body, _ = sjson.SetBytes(body, "error.status", status)
	g.writeJSON(w, body, status)
}

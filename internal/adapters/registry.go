// Registry manages renderer registration and lookup.
//
// DESIGN: Thread-safe map of engine name → Renderer.
// The default renderer is used when no engine is active or for module-owned templates.
package adapters

import (
	"sync"
)

// Registry manages renderer registration.
type Registry struct {
	renderers map[string]Renderer
	fallback  Renderer
	mu        sync.RWMutex
}

// NewRegistry creates a renderer registry with all built-in engines.
func NewRegistry() *Registry {
	r := &Registry{
		renderers: make(map[string]Renderer),
		fallback:  NewHTMLRenderer(),
	}

	// Register built-in engines
	r.Register(r.fallback)
	r.Register(NewMarkdownRenderer())

	return r
}

// Register adds a renderer to the registry.
func (r *Registry) Register(renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[renderer.Name()] = renderer
}

// Get returns the renderer for an engine.
func (r *Registry) Get(engine string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[engine]
	return renderer, ok
}

// Default returns the default renderer.
func (r *Registry) Default() Renderer {
	return r.fallback
}

// For returns the engine's renderer, or the default when engine is empty or unknown.
func (r *Registry) For(engine string) Renderer {
	if engine == "" {
		return r.fallback
	}
	if renderer, ok := r.Get(engine); ok {
		return renderer
	}
	return r.fallback
}

// Package callables is the capability registry for hook implementations.
//
// DESIGN: Every callable a hook can reach is registered here by name:
//   - processors:      <prefix>_preprocess[_<hook>] / <prefix>_process[_<hook>]
//   - theme functions: <prefix>_<hook>
//
// The registry builder probes this table once while building; the dispatcher
// resolves names through it at render time, so a callable removed after the
// build is skipped instead of failing the render.
//
// Callables come from Go code (RegisterProcessor / RegisterTheme) or from
// include files loaded by Loader.
package callables

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/compresr/theme-registry/internal/pipes"
)

// ThemeFunc renders a function-backed hook.
type ThemeFunc func(ctx context.Context, vars *pipes.Variables) string

// Registry maps callable names to implementations.
type Registry struct {
	processors map[string]pipes.Processor
	themes     map[string]ThemeFunc
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]pipes.Processor),
		themes:     make(map[string]ThemeFunc),
	}
}

// RegisterProcessor adds or replaces a variable processor.
func (r *Registry) RegisterProcessor(name string, fn pipes.Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[name] = fn
}

// RegisterTheme adds or replaces a theme function.
func (r *Registry) RegisterTheme(name string, fn ThemeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.themes[name] = fn
}

// Remove drops name from both tables.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processors, name)
	delete(r.themes, name)
}

// Processor returns the processor registered under name.
func (r *Registry) Processor(name string) (pipes.Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.processors[name]
	return fn, ok
}

// Theme returns the theme function registered under name.
func (r *Registry) Theme(name string) (ThemeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.themes[name]
	return fn, ok
}

// HasProcessor reports whether a processor named name exists.
func (r *Registry) HasProcessor(name string) bool {
	_, ok := r.Processor(name)
	return ok
}

// HasTheme reports whether a theme function named name exists.
func (r *Registry) HasTheme(name string) bool {
	_, ok := r.Theme(name)
	return ok
}

// ThemeNames returns the sorted names of theme functions starting with prefix.
func (r *Registry) ThemeNames(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name := range r.themes {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Ensure Registry satisfies the pipeline resolver.
var _ pipes.Resolver = (*Registry)(nil)

// =============================================================================
// NAMING CONVENTIONS
// =============================================================================

// PhaseName returns the hook-independent processor name <prefix>_<phase>.
func PhaseName(prefix string, phase pipes.Phase) string {
	return prefix + "_" + string(phase)
}

// HookPhaseName returns the hook-specific processor name <prefix>_<phase>_<hook>.
func HookPhaseName(prefix string, phase pipes.Phase, hook string) string {
	return prefix + "_" + string(phase) + "_" + hook
}

// ThemeName returns the conventional theme function name <prefix>_<hook>.
func ThemeName(prefix, hook string) string {
	return prefix + "_" + hook
}

// IsProcessorName reports whether name follows the processor naming scheme,
// i.e. it has a "preprocess" or "process" segment.
func IsProcessorName(name string) bool {
	for _, seg := range strings.Split(name, "_") {
		if seg == string(pipes.PhasePreprocess) || seg == string(pipes.PhaseProcess) {
			return true
		}
	}
	return false
}

// Package adapters provides the template renderers.
//
// DESIGN: A template-backed hook is rendered by an adapter chosen at dispatch:
//   - HTMLRenderer:     default, html/template, ".tpl.html"
//   - MarkdownRenderer: "markdown" engine, text/template + goldmark, ".tpl.md"
//
// FLOW:
//  1. Dispatcher resolves the final hook descriptor
//  2. Module-owned templates use the default renderer
//  3. Skin-owned templates use the active engine's renderer when one is set
//  4. Render(path, vars) returns the markup
//
// To add an engine: implement Renderer and register it in Registry.
package adapters

import (
	"html/template"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/compresr/theme-registry/internal/pipes"
)

// Renderer renders a template file with a variable bag.
// Renderers are safe for concurrent use.
type Renderer interface {
	// Name returns the engine identifier (e.g., "html", "markdown").
	Name() string

	// Extension returns the template file extension including the leading dot.
	Extension() string

	// Render executes the template at path.
	Render(path string, vars *pipes.Variables) (string, error)
}

// BaseRenderer provides the identity fields shared by renderers.
type BaseRenderer struct {
	name      string
	extension string
}

// Name returns the engine name.
func (r *BaseRenderer) Name() string { return r.name }

// Extension returns the template extension.
func (r *BaseRenderer) Extension() string { return r.extension }

// funcMap is available to every template.
var funcMap = map[string]any{
	"join":  strings.Join,
	"raw":   func(s string) template.HTML { return template.HTML(s) },   //nolint:gosec // trusted processor output
	"attrs": func(s string) template.HTMLAttr { return template.HTMLAttr(s) }, //nolint:gosec // built by AttributeRenderer
}

// parsedCache keeps parsed templates keyed by path and invalidates them when
// the file's modification time changes.
type parsedCache[T any] struct {
	entries map[string]parsedEntry[T]
	mu      sync.Mutex
}

type parsedEntry[T any] struct {
	tmpl    T
	modTime time.Time
}

func newParsedCache[T any]() *parsedCache[T] {
	return &parsedCache[T]{entries: make(map[string]parsedEntry[T])}
}

// get returns the cached template for path, parsing it with parse when absent or stale.
func (c *parsedCache[T]) get(path string, parse func(src string) (T, error)) (T, error) {
	var zero T
	fi, err := os.Stat(path)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[path]; ok && e.modTime.Equal(fi.ModTime()) {
		return e.tmpl, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return zero, err
	}
	tmpl, err := parse(string(src))
	if err != nil {
		return zero, err
	}
	c.entries[path] = parsedEntry[T]{tmpl: tmpl, modTime: fi.ModTime()}
	return tmpl, nil
}

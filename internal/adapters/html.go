package adapters

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/compresr/theme-registry/internal/pipes"
)

// HTMLRenderer renders html/template files. Output is contextually escaped.
type HTMLRenderer struct {
	BaseRenderer
	cache *parsedCache[*template.Template]
}

// NewHTMLRenderer creates the default renderer.
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{
		BaseRenderer: BaseRenderer{name: "html", extension: ".tpl.html"},
		cache:        newParsedCache[*template.Template](),
	}
}

// Render executes the template at path with vars.
func (r *HTMLRenderer) Render(path string, vars *pipes.Variables) (string, error) {
	tmpl, err := r.cache.get(path, func(src string) (*template.Template, error) {
		return template.New(filepath.Base(path)).Funcs(template.FuncMap(funcMap)).Parse(src)
	})
	if err != nil {
		return "", fmt.Errorf("failed to load template '%s': %w", path, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars.Map()); err != nil {
		return "", fmt.Errorf("failed to render template '%s': %w", path, err)
	}
	return buf.String(), nil
}

var _ Renderer = (*HTMLRenderer)(nil)

package adapters

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/compresr/theme-registry/internal/pipes"
)

// MarkdownRenderer is the "markdown" engine. A template is expanded with
// text/template first, then the result is converted from Markdown to HTML.
// Raw HTML in the expanded text is passed through.
type MarkdownRenderer struct {
	BaseRenderer
	md    goldmark.Markdown
	cache *parsedCache[*template.Template]
}

// NewMarkdownRenderer creates the markdown engine renderer.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		BaseRenderer: BaseRenderer{name: "markdown", extension: ".tpl.md"},
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		cache: newParsedCache[*template.Template](),
	}
}

// Render expands and converts the template at path.
func (r *MarkdownRenderer) Render(path string, vars *pipes.Variables) (string, error) {
	tmpl, err := r.cache.get(path, func(src string) (*template.Template, error) {
		return template.New(filepath.Base(path)).Funcs(template.FuncMap(funcMap)).Parse(src)
	})
	if err != nil {
		return "", fmt.Errorf("failed to load template '%s': %w", path, err)
	}

	var expanded bytes.Buffer
	if err := tmpl.Execute(&expanded, vars.Map()); err != nil {
		return "", fmt.Errorf("failed to render template '%s': %w", path, err)
	}

	var out bytes.Buffer
	if err := r.md.Convert(expanded.Bytes(), &out); err != nil {
		return "", fmt.Errorf("failed to convert markdown '%s': %w", path, err)
	}
	return out.String(), nil
}

var _ Renderer = (*MarkdownRenderer)(nil)

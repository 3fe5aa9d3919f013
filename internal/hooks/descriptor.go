// Package hooks builds the hook registry: the table that maps every hook name
// to the implementation that renders it.
//
// DESIGN: Declarations are merged in a fixed precedence order, later
// contributors overriding earlier ones:
//
//	modules → (per ancestor: engine, base skin) → skin engine → skin → alter
//
// FLOW:
//  1. Load the module fragment from cache or build it from every module
//     implementing the "theme" declaration point
//  2. Merge each ancestor skin (oldest first), then the active skin
//  3. Engine steps discover theme functions and template files, including
//     suggestion variants ("node__article" for "node")
//  4. Let extensions alter the finished registry, drop empty phase chains
//  5. Persist under theme_registry:<skin> once every module is loaded
//
// FILES:
//   - descriptor.go: Descriptor, Args, SourceType
//   - registry.go:   Registry, encoding and fingerprint
//   - builder.go:    Builder (merge steps, caching)
//   - discovery.go:  theme function and template discovery for engine steps
package hooks

import (
	"path/filepath"

	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/pipes"
)

// Kind tells how a hook is implemented.
type Kind string

const (
	KindFunction Kind = "function"
	KindTemplate Kind = "template"
)

// SourceType identifies which kind of contributor last declared a hook.
type SourceType string

const (
	SourceModule          SourceType = "module"
	SourceBaseTheme       SourceType = "base_theme"
	SourceBaseThemeEngine SourceType = "base_theme_engine"
	SourceThemeEngine     SourceType = "theme_engine"
	SourceTheme           SourceType = "theme"
)

// IsEngine reports whether the source is an engine step.
func (s SourceType) IsEngine() bool {
	return s == SourceBaseThemeEngine || s == SourceThemeEngine
}

// IsTheme reports whether the source is a skin's own step.
func (s SourceType) IsTheme() bool {
	return s == SourceBaseTheme || s == SourceTheme
}

// ArgsKind tags the Args variant.
type ArgsKind string

const (
	ArgsNone          ArgsKind = ""
	ArgsVariables     ArgsKind = "variables"
	ArgsRenderElement ArgsKind = "render_element"
)

// Args describes what a hook accepts: either named variables with defaults,
// or a single render element stored under one key.
type Args struct {
	Kind          ArgsKind       `json:"kind,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	RenderElement string         `json:"render_element,omitempty"`
}

// VariableSchema returns Args declaring named variables with defaults.
func VariableSchema(vars map[string]any) Args {
	schema := make(map[string]any, len(vars))
	for k, v := range vars {
		schema[k] = v
	}
	return Args{Kind: ArgsVariables, Variables: schema}
}

// RenderElementKey returns Args declaring a single render element.
func RenderElementKey(key string) Args {
	return Args{Kind: ArgsRenderElement, RenderElement: key}
}

// IsSet reports whether a variant is present.
func (a Args) IsSet() bool { return a.Kind != ArgsNone }

func (a Args) clone() Args {
	if a.Kind == ArgsVariables {
		return VariableSchema(a.Variables)
	}
	return a
}

// argsFromDeclaration converts a declaration. Variables win when both are set.
func argsFromDeclaration(decl extensions.HookDeclaration) Args {
	switch {
	case decl.Variables != nil:
		return VariableSchema(decl.Variables)
	case decl.RenderElement != "":
		return RenderElementKey(decl.RenderElement)
	}
	return Args{}
}

// declare writes the variant back into a declaration.
func (a Args) declare(decl *extensions.HookDeclaration) {
	switch a.Kind {
	case ArgsVariables:
		decl.Variables = VariableSchema(a.Variables).Variables
	case ArgsRenderElement:
		decl.RenderElement = a.RenderElement
	}
}

// Descriptor is the resolved registry entry for one hook.
type Descriptor struct {
	Function string `json:"function,omitempty"` // Theme function name; set for function-backed hooks
	Template string `json:"template,omitempty"` // Template base name; set for template-backed hooks
	Path     string `json:"path,omitempty"`     // Directory of Template

	Type      SourceType `json:"type"`
	ThemePath string     `json:"theme_path,omitempty"`

	Args     Args   `json:"args"`
	Pattern  string `json:"pattern,omitempty"`
	BaseHook string `json:"base_hook,omitempty"`

	Includes   []string `json:"includes,omitempty"`
	Preprocess []string `json:"preprocess,omitempty"`
	Process    []string `json:"process,omitempty"`
}

// Kind returns how the hook is implemented.
func (d *Descriptor) Kind() Kind {
	if d.Function != "" {
		return KindFunction
	}
	return KindTemplate
}

// TemplateFile returns the template path for the given file extension.
func (d *Descriptor) TemplateFile(ext string) string {
	name := d.Template + ext
	if d.Path == "" {
		return name
	}
	return filepath.Join(d.Path, name)
}

// Chain returns the processor chain for phase.
func (d *Descriptor) Chain(phase pipes.Phase) []string {
	if phase == pipes.PhasePreprocess {
		return d.Preprocess
	}
	return d.Process
}

// SetChain replaces the processor chain for phase.
func (d *Descriptor) SetChain(phase pipes.Phase, chain []string) {
	if phase == pipes.PhasePreprocess {
		d.Preprocess = chain
	} else {
		d.Process = chain
	}
}

// HasChains reports whether either phase has processors.
func (d *Descriptor) HasChains() bool {
	return len(d.Preprocess) > 0 || len(d.Process) > 0
}

// Clone returns a deep copy.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Args = d.Args.clone()
	c.Includes = cloneStrings(d.Includes)
	c.Preprocess = cloneStrings(d.Preprocess)
	c.Process = cloneStrings(d.Process)
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// appendUnique appends names not already present, preserving order.
func appendUnique(chain []string, names ...string) []string {
	for _, name := range names {
		dup := false
		for _, have := range chain {
			if have == name {
				dup = true
				break
			}
		}
		if !dup {
			chain = append(chain, name)
		}
	}
	return chain
}

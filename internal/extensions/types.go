// Package extensions is the descriptor store: it supplies metadata for every
// installed extension (modules and skins).
//
// DESIGN: Descriptors come from two sources:
//   - info files under the configured search paths (<name>.info.yml or <name>.info.jsonc)
//   - Go extensions registered with Store.Register
//
// FILES:
//   - types.go:    Info, HookDeclaration, capability interfaces
//   - info.go:     info file parsing (YAML / JSONC)
//   - store.go:    Store (listing, declaration points, load state)
//   - ancestry.go: skin ancestry resolution
//   - watcher.go:  fsnotify watcher for descriptor and template changes
package extensions

import (
	"errors"
	"path/filepath"
)

// Kind distinguishes modules from skins.
type Kind string

const (
	KindModule Kind = "module"
	KindTheme  Kind = "theme"
)

// Declaration points an extension may implement.
const (
	// PointTheme declares hooks.
	PointTheme = "theme"
	// PointRegistryAlter alters the finished registry.
	PointRegistryAlter = "theme_registry_alter"
)

// ErrUnknownSkin is returned when a skin is not in the store.
var ErrUnknownSkin = errors.New("unknown skin")

// Info is the declared metadata of an extension.
type Info struct {
	Name        string `yaml:"-" json:"-"`                                         // Machine name, from the info file name
	DisplayName string `yaml:"name" json:"name"`                                   // Human-readable name
	Kind        Kind   `yaml:"type" json:"type"`                                   // module | theme
	Description string `yaml:"description,omitempty" json:"description,omitempty"` // Free text
	BaseTheme   string `yaml:"base_theme,omitempty" json:"base_theme,omitempty"`   // Parent skin
	Engine      string `yaml:"engine,omitempty" json:"engine,omitempty"`           // Rendering engine
	Weight      int    `yaml:"weight,omitempty" json:"weight,omitempty"`           // Ordering among modules
	Hidden      bool   `yaml:"hidden,omitempty" json:"hidden,omitempty"`           // Not listed as selectable skin

	Stylesheets []string          `yaml:"stylesheets,omitempty" json:"stylesheets,omitempty"`
	Scripts     []string          `yaml:"scripts,omitempty" json:"scripts,omitempty"`
	Regions     map[string]string `yaml:"regions,omitempty" json:"regions,omitempty"`

	// Includes are loaded when the extension system loads (modules) or when the
	// skin is initialized (skins). Relative to Path.
	Includes []string `yaml:"includes,omitempty" json:"includes,omitempty"`

	// Hooks declared by this extension.
	Hooks map[string]HookDeclaration `yaml:"hooks,omitempty" json:"hooks,omitempty"`

	Path     string `yaml:"-" json:"-"` // Directory of the info file
	Filename string `yaml:"-" json:"-"` // Info file path
}

// IsTheme reports whether the descriptor is a skin.
func (i *Info) IsTheme() bool { return i.Kind == KindTheme }

// Label returns the display name, falling back to the machine name.
func (i *Info) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Name
}

// IncludePaths returns Includes resolved against Path.
func (i *Info) IncludePaths() []string {
	out := make([]string, 0, len(i.Includes))
	for _, inc := range i.Includes {
		out = append(out, i.resolve(inc))
	}
	return out
}

func (i *Info) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || i.Path == "" {
		return p
	}
	return filepath.Join(i.Path, p)
}

// HookDeclaration is a partial hook descriptor as declared by one contributor.
// Unset fields mean "inherit from earlier contributors".
type HookDeclaration struct {
	Template string `yaml:"template,omitempty" json:"template,omitempty"` // Template base name
	Function string `yaml:"function,omitempty" json:"function,omitempty"` // Theme function name
	File     string `yaml:"file,omitempty" json:"file,omitempty"`         // Include file with callables
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`         // Directory for File / Template

	Variables     map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	RenderElement string         `yaml:"render_element,omitempty" json:"render_element,omitempty"`
	Pattern       string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	BaseHook      string         `yaml:"base_hook,omitempty" json:"base_hook,omitempty"`

	// nil means "not declared": the builder probes conventional names.
	// A non-nil slice, even empty, is used as declared.
	Preprocess []string `yaml:"preprocess" json:"preprocess"`
	Process    []string `yaml:"process" json:"process"`

	OverridePreprocess bool `yaml:"override_preprocess,omitempty" json:"override_preprocess,omitempty"`
	OverrideProcess    bool `yaml:"override_process,omitempty" json:"override_process,omitempty"`
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// Extension is anything the store can hold.
type Extension interface {
	Info() *Info
}

// HookSet is the read-only view of the registry built so far.
type HookSet interface {
	Has(hook string) bool
	Names() []string
}

// HookDeclarer contributes hook declarations (PointTheme).
type HookDeclarer interface {
	DeclareHooks(existing HookSet) map[string]HookDeclaration
}

// Implementer reports which declaration points an extension implements.
type Implementer interface {
	Implements(point string) bool
}

// Includer loads include files.
type Includer interface {
	Include(path string) error
}

// fileExtension is an extension defined only by its info file.
type fileExtension struct {
	info *Info
}

func (f *fileExtension) Info() *Info { return f.info }

func (f *fileExtension) Implements(point string) bool {
	return point == PointTheme && len(f.info.Hooks) > 0
}

// DeclareHooks returns a copy of the hooks declared in the info file.
func (f *fileExtension) DeclareHooks(HookSet) map[string]HookDeclaration {
	out := make(map[string]HookDeclaration, len(f.info.Hooks))
	for name, decl := range f.info.Hooks {
		out[name] = decl
	}
	return out
}

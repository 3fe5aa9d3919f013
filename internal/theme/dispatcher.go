// Package theme is the render entry point: it resolves a hook against the
// active skin's registry, runs the variable pipeline and invokes the winning
// implementation.
//
// DESIGN: One Dispatcher per process; one DispatchContext per request. Each
// context reads the registry from the cache store once and keeps that
// snapshot, so Rebuild from any process sharing the store is seen by the next
// request. Concurrent requests may build the same registry after a miss; builds are
// idempotent and the last cache write wins.
//
// FLOW (per Render call):
//  1. Unresolved: pick the first registered candidate, strip "__" segments
//  2. HookMatched: load includes, project element, merge defaults
//  3. BaseHookSubstituted: run the base hook's chains for a suggestion hook
//  4. PipelineRun: preprocess chain, then process chain
//  5. SuggestionReselected: highest-priority registered suggestion wins
//  6. Rendered: theme function or template
//
// A hook with no implementation is logged and renders as "".
//
// FILES:
//   - dispatcher.go: Dispatcher, Render
//   - context.go:    DispatchContext
//   - defaults.go:   template_preprocess / template_process, attributes
//   - debug.go:      theme debug markers
package theme

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/theme-registry/internal/adapters"
	"github.com/compresr/theme-registry/internal/callables"
	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/hooks"
	"github.com/compresr/theme-registry/internal/monitoring"
	"github.com/compresr/theme-registry/internal/pipes"
	"github.com/compresr/theme-registry/internal/store"
)

// ErrNotLoaded is returned when rendering before every module is loaded.
var ErrNotLoaded = errors.New("theme hooks may not be rendered until all modules are loaded")

// SkinScript is the per-skin include file loaded when a skin is initialized.
const SkinScript = "template.lua"

// Options configures a Dispatcher.
type Options struct {
	DefaultSkin string
	Debug       bool // Wrap template output in debug markers
	Attributes  AttributeRenderer
	Metrics     *monitoring.MetricsCollector
}

// Dispatcher renders hooks.
type Dispatcher struct {
	extensions *extensions.Store
	callables  *callables.Registry
	includer   extensions.Includer
	renderers  *adapters.Registry
	builder    *hooks.Builder
	metrics    *monitoring.MetricsCollector

	defaultSkin string
	debug       bool

	initialized map[string]bool
	mu          sync.Mutex
}

// New creates a Dispatcher and registers the default template processors.
func New(exts *extensions.Store, calls *callables.Registry, includer extensions.Includer, renderers *adapters.Registry, cache store.Store, opts Options) *Dispatcher {
	RegisterDefaults(calls, opts.Attributes)

	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}

	return &Dispatcher{
		extensions:  exts,
		callables:   calls,
		includer:    includer,
		renderers:   renderers,
		builder:     hooks.NewBuilder(exts, calls, includer, renderers, cache),
		metrics:     metrics,
		defaultSkin: opts.DefaultSkin,
		debug:       opts.Debug,
		initialized: make(map[string]bool),
	}
}

// Metrics returns the dispatcher's counters.
func (d *Dispatcher) Metrics() *monitoring.MetricsCollector { return d.metrics }

// DefaultSkin returns the configured default skin.
func (d *Dispatcher) DefaultSkin() string { return d.defaultSkin }

// =============================================================================
// SKIN INITIALIZATION
// =============================================================================

// Context resolves skin (or the default skin when empty) and returns a fresh
// DispatchContext for it. The skin chain's include files are loaded once.
func (d *Dispatcher) Context(skin string) (*DispatchContext, error) {
	if skin == "" {
		skin = d.defaultSkin
	}
	info, err := d.extensions.Skin(skin)
	if err != nil {
		return nil, err
	}
	dc := &DispatchContext{
		Skin:     info,
		Ancestry: d.extensions.Ancestry(skin),
		Engine:   info.Engine,
	}
	d.initialize(dc)
	return dc, nil
}

// initialize loads the include files of every skin in the chain, oldest first.
func (d *Dispatcher) initialize(dc *DispatchContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized[dc.Skin.Name] || d.includer == nil {
		return
	}

	chain := make([]*extensions.Info, 0, len(dc.Ancestry)+1)
	for _, base := range dc.Ancestry {
		if base.Known() {
			chain = append(chain, base.Info)
		}
	}
	chain = append(chain, dc.Skin)

	for _, info := range chain {
		files := info.IncludePaths()
		if info.Path != "" {
			script := filepath.Join(info.Path, SkinScript)
			if _, err := os.Stat(script); err == nil {
				files = append(files, script)
			}
		}
		for _, file := range files {
			if err := d.includer.Include(file); err != nil {
				log.Warn().Err(err).Str("theme", info.Name).Str("file", file).Msg("theme include failed")
			}
		}
	}
	d.initialized[dc.Skin.Name] = true
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry returns the registry for the context's skin. The first call per
// context reads the cache store, building on a miss; later calls reuse that
// snapshot, so a rebuild elsewhere takes effect from the next context on.
func (d *Dispatcher) Registry(ctx context.Context, dc *DispatchContext) *hooks.Registry {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.registry != nil {
		d.metrics.RecordRegistryHit()
		return dc.registry
	}

	reg, cached := d.builder.Load(ctx, dc.Skin, dc.Ancestry, dc.Engine)
	if cached {
		d.metrics.RecordRegistryHit()
	} else {
		d.metrics.RecordRegistryMiss()
		d.metrics.RecordBuild()
	}
	dc.registry = reg
	return reg
}

// Rebuild clears every cached registry and forgets loaded include files so
// edited scripts are picked up. Contexts that already fetched a registry keep
// using it.
func (d *Dispatcher) Rebuild(ctx context.Context) error {
	d.mu.Lock()
	d.initialized = make(map[string]bool)
	d.mu.Unlock()

	if r, ok := d.includer.(resetter); ok {
		r.Reset()
		if d.extensions.Loaded() {
			d.extensions.LoadAll(d.includer)
		}
	}

	d.metrics.RecordRebuild()
	if err := d.builder.Invalidate(ctx); err != nil {
		return fmt.Errorf("failed to clear theme registry cache: %w", err)
	}
	log.Info().Msg("theme registry invalidated")
	return nil
}

// resetter is an includer that can forget what it has loaded.
type resetter interface {
	Reset()
}

// =============================================================================
// RENDER
// =============================================================================

// Render renders hook. vars may be nil. A bag carrying "#theme" or
// "#theme_wrappers" is treated as a render element.
func (d *Dispatcher) Render(ctx context.Context, dc *DispatchContext, hook string, vars *pipes.Variables) (string, error) {
	return d.dispatch(ctx, dc, []string{hook}, false, vars)
}

// RenderCandidates renders the first candidate with an implementation, or
// the last candidate when none has one. Misses are not logged.
func (d *Dispatcher) RenderCandidates(ctx context.Context, dc *DispatchContext, candidates []string, vars *pipes.Variables) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	return d.dispatch(ctx, dc, candidates, true, vars)
}

// RenderElement renders an element by its "#theme" property, which may be a
// hook name or a list of candidates.
func (d *Dispatcher) RenderElement(ctx context.Context, dc *DispatchContext, el pipes.Element) (string, error) {
	vars := pipes.VariablesFrom(el)
	switch theme := el["#theme"].(type) {
	case string:
		return d.Render(ctx, dc, theme, vars)
	case []string:
		return d.RenderCandidates(ctx, dc, theme, vars)
	case []any:
		candidates := make([]string, 0, len(theme))
		for _, c := range theme {
			if s, ok := c.(string); ok {
				candidates = append(candidates, s)
			}
		}
		return d.RenderCandidates(ctx, dc, candidates, vars)
	}
	return "", nil
}

func (d *Dispatcher) dispatch(ctx context.Context, dc *DispatchContext, candidates []string, probing bool, vars *pipes.Variables) (string, error) {
	if !d.extensions.Loaded() && !dc.Bootstrap {
		return "", ErrNotLoaded
	}
	start := time.Now()
	ctx = WithDispatchContext(ctx, dc)
	if vars == nil {
		vars = pipes.NewVariables()
	}

	reg := d.Registry(ctx, dc)

	hook := candidates[len(candidates)-1]
	for _, candidate := range candidates {
		if reg.Has(candidate) {
			hook = candidate
			break
		}
	}
	original := hook

	hook, ok := Resolve(reg, hook)
	if !ok {
		d.metrics.RecordMiss()
		d.metrics.RecordRender(true, time.Since(start))
		if !probing {
			log.Warn().Str("hook", original).Str("request_id", dc.RequestID).Msg("theme hook not found")
		}
		return "", nil
	}
	info, _ := reg.Get(hook)
	ctx = pipes.WithThemePath(ctx, info.ThemePath)
	d.include(info.Includes)

	if pipes.IsElement(vars.Map()) {
		vars = project(vars, info)
	}
	mergeDefaults(vars, info)
	vars.Set(pipes.KeyHookOriginal, original)

	if info.BaseHook != "" {
		if base, ok := reg.Get(info.BaseHook); ok {
			d.include(base.Includes)
			if base.HasChains() {
				vars.SetSuggestion(hook)
				hook = info.BaseHook
				info = base
			}
		}
	}

	if info.HasChains() {
		vars.ResetSuggestions()
		pipes.RunPhases(ctx, d.callables, info.Preprocess, info.Process, vars, hook)

		if name, next, ok := Reselect(reg, vars); ok {
			hook, info = name, next
		}
	}

	out, rendered := d.invoke(ctx, dc, hook, info, vars)
	d.metrics.RecordRender(rendered, time.Since(start))
	return out, nil
}

// invoke calls the theme function or renders the template. Reports false
// when the template failed to render.
func (d *Dispatcher) invoke(ctx context.Context, dc *DispatchContext, hook string, info *hooks.Descriptor, vars *pipes.Variables) (string, bool) {
	if info.Kind() == hooks.KindFunction {
		fn, ok := d.callables.Theme(info.Function)
		if !ok {
			log.Debug().Str("hook", hook).Str("function", info.Function).Msg("theme function not registered")
			return "", true
		}
		return fn(ctx, vars), true
	}

	renderer := d.renderers.Default()
	if dc.Engine != "" && info.Type != hooks.SourceModule {
		renderer = d.renderers.For(dc.Engine)
	}

	// Templates always see the template_preprocess baseline, even when the
	// hook's chains did not include it.
	if !vars.Has(pipes.KeyDirectory) {
		defaults := pipes.NewVariables()
		templatePreprocess(ctx, defaults, hook)
		for _, key := range defaults.Keys() {
			val, _ := defaults.Get(key)
			vars.SetDefault(key, val)
		}
	}

	file := info.TemplateFile(renderer.Extension())
	out, err := renderer.Render(file, vars)
	if err != nil {
		log.Error().Err(err).Str("hook", hook).Str("template", file).Str("request_id", dc.RequestID).Msg("template render failed")
		return "", false
	}
	if d.debug {
		out = debugMarkup(hook, file, renderer.Extension(), vars, out)
	}
	return out, true
}

func (d *Dispatcher) include(files []string) {
	if d.includer == nil {
		return
	}
	for _, file := range files {
		if err := d.includer.Include(file); err != nil {
			log.Warn().Err(err).Str("file", file).Msg("hook include failed")
		}
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve finds the registered hook for name, stripping trailing "__"
// segments until one matches. "links__contextual__node" tries
// "links__contextual__node", "links__contextual", then "links".
func Resolve(reg *hooks.Registry, name string) (string, bool) {
	for _, candidate := range Fallbacks(name) {
		if reg.Has(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Fallbacks lists name and each shorter "__"-delimited prefix, most specific first.
func Fallbacks(name string) []string {
	out := []string{name}
	for {
		pos := strings.LastIndex(name, "__")
		if pos <= 0 {
			return out
		}
		name = name[:pos]
		out = append(out, name)
	}
}

// SuggestionOrder returns suggestions in the order they are tried:
// theme_hook_suggestion first, then theme_hook_suggestions last to first.
func SuggestionOrder(vars *pipes.Variables) []string {
	list := vars.Suggestions()
	if s := vars.Suggestion(); s != "" {
		list = append(list, s)
	}
	out := make([]string, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out
}

// Reselect returns the first registered suggestion in SuggestionOrder.
func Reselect(reg *hooks.Registry, vars *pipes.Variables) (string, *hooks.Descriptor, bool) {
	for _, suggestion := range SuggestionOrder(vars) {
		if info, ok := reg.Get(suggestion); ok {
			return suggestion, info, true
		}
	}
	return "", nil, false
}

// project reduces an element bag to the variables info declares, or wraps
// the whole element under its render element key.
func project(vars *pipes.Variables, info *hooks.Descriptor) *pipes.Variables {
	element := pipes.Element(vars.Map())
	out := pipes.NewVariables()
	switch info.Args.Kind {
	case hooks.ArgsVariables:
		names := make([]string, 0, len(info.Args.Variables))
		for name := range info.Args.Variables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if val, ok := element.Property(name); ok {
				out.Set(name, val)
			}
		}
	case hooks.ArgsRenderElement:
		out.Set(info.Args.RenderElement, element)
	}
	return out
}

// mergeDefaults adds declared defaults for keys not already present.
func mergeDefaults(vars *pipes.Variables, info *hooks.Descriptor) {
	switch info.Args.Kind {
	case hooks.ArgsVariables:
		names := make([]string, 0, len(info.Args.Variables))
		for name := range info.Args.Variables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			vars.SetDefault(name, info.Args.Variables[name])
		}
	case hooks.ArgsRenderElement:
		vars.SetDefault(info.Args.RenderElement, pipes.Element{})
	}
}

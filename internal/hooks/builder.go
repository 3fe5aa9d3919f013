package hooks

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/theme-registry/internal/adapters"
	"github.com/compresr/theme-registry/internal/callables"
	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/pipes"
	"github.com/compresr/theme-registry/internal/store"
)

// Cache keys.
const (
	// CachePrefix is shared by every registry cache entry.
	CachePrefix = "theme_registry"
	// ModulesCacheKey holds the skin-independent module fragment.
	ModulesCacheKey = CachePrefix + ":build:modules"
)

// CacheKey returns the cache key of the full registry for skin.
func CacheKey(skin string) string {
	return CachePrefix + ":" + skin
}

// templatePrefix is probed for processors of every module-declared hook.
const templatePrefix = "template"

// Alterer may modify the finished registry before it is cached.
type Alterer interface {
	AlterRegistry(reg *Registry)
}

// Builder builds registries from the descriptor store.
//
// Concurrent builds for the same skin are allowed: a build is a pure function
// of the descriptor store and the callables registered so far, and the last
// cache write wins.
type Builder struct {
	extensions *extensions.Store
	callables  *callables.Registry
	includer   extensions.Includer
	renderers  *adapters.Registry
	cache      store.Store
	bin        string
}

// NewBuilder creates a registry builder. Include files named by hook
// declarations are loaded through includer as the build reaches them.
func NewBuilder(exts *extensions.Store, calls *callables.Registry, includer extensions.Includer, renderers *adapters.Registry, cache store.Store) *Builder {
	return &Builder{
		extensions: exts,
		callables:  calls,
		includer:   includer,
		renderers:  renderers,
		cache:      cache,
		bin:        store.DefaultBin,
	}
}

// contributor is one merge step.
type contributor struct {
	name  string // Naming-convention prefix owner (module, engine or skin)
	typ   SourceType
	theme string // Skin being processed; the module itself for module steps
	path  string // Directory of the contributor
}

// =============================================================================
// LOADING AND PERSISTENCE
// =============================================================================

// Load returns the registry for skin from cache, building and persisting it
// on a miss. Unreadable cache entries are treated as misses. The second
// result reports whether the registry came from the cache.
func (b *Builder) Load(ctx context.Context, skin *extensions.Info, ancestry []extensions.Ancestor, engine string) (*Registry, bool) {
	key := CacheKey(skin.Name)
	if entry, ok := b.cache.Get(ctx, b.bin, key); ok {
		reg, err := DecodeRegistry(entry.Data)
		if err == nil {
			log.Debug().Str("theme", skin.Name).Int("hooks", reg.Len()).Msg("theme registry loaded from cache")
			return reg, true
		}
		log.Warn().Err(err).Str("key", key).Msg("discarding unreadable theme registry")
	}

	reg := b.Build(ctx, skin, ancestry, engine)
	b.Persist(ctx, skin.Name, reg)
	return reg, false
}

// Persist caches reg for skin, but only once every module is loaded, so an
// incomplete registry is never cached. Reports whether it was written.
func (b *Builder) Persist(ctx context.Context, skin string, reg *Registry) bool {
	if !b.extensions.Loaded() {
		log.Debug().Str("theme", skin).Msg("extensions not loaded, theme registry not cached")
		return false
	}
	data, err := reg.Encode()
	if err != nil {
		log.Warn().Err(err).Str("theme", skin).Msg("failed to encode theme registry")
		return false
	}
	b.cache.Set(ctx, b.bin, CacheKey(skin), data, store.Permanent)
	return true
}

// Invalidate clears every cached registry and the module fragment.
func (b *Builder) Invalidate(ctx context.Context) error {
	return b.cache.Clear(ctx, b.bin, CachePrefix, true)
}

// =============================================================================
// BUILD
// =============================================================================

// Build merges every contribution for skin into a new registry. Ancestors
// that did not resolve are skipped. engine may be empty.
func (b *Builder) Build(ctx context.Context, skin *extensions.Info, ancestry []extensions.Ancestor, engine string) *Registry {
	start := time.Now()
	reg := b.modules(ctx)

	for _, base := range ancestry {
		if !base.Known() {
			log.Warn().Str("theme", skin.Name).Str("base_theme", base.Name).Msg("base theme not found, skipped")
			continue
		}
		if engine != "" {
			b.engineStep(ctx, reg, engine, SourceBaseThemeEngine, base.Info)
		}
		b.themeStep(ctx, reg, SourceBaseTheme, base.Info)
	}
	if engine != "" {
		b.engineStep(ctx, reg, engine, SourceThemeEngine, skin)
	}
	b.themeStep(ctx, reg, SourceTheme, skin)

	b.alter(reg, skin, ancestry)

	for _, name := range reg.Names() {
		d, _ := reg.Get(name)
		for _, phase := range pipes.Phases {
			if len(d.Chain(phase)) == 0 {
				d.SetChain(phase, nil)
			}
		}
	}

	log.Info().
		Str("theme", skin.Name).
		Str("engine", engine).
		Int("hooks", reg.Len()).
		Str("fingerprint", reg.Fingerprint()).
		Dur("duration", time.Since(start)).
		Msg("theme registry built")
	return reg
}

// modules returns the module fragment, cached separately from any skin.
func (b *Builder) modules(ctx context.Context) *Registry {
	if entry, ok := b.cache.Get(ctx, b.bin, ModulesCacheKey); ok {
		if reg, err := DecodeRegistry(entry.Data); err == nil {
			return reg
		}
	}

	reg := NewRegistry()
	for _, name := range b.extensions.ListImplementing(extensions.PointTheme) {
		ext, ok := b.extensions.Extension(name)
		if !ok {
			continue
		}
		declarer, ok := ext.(extensions.HookDeclarer)
		if !ok {
			continue
		}
		info := ext.Info()
		c := contributor{name: info.Name, typ: SourceModule, theme: info.Name, path: info.Path}
		b.process(reg, c, declarer.DeclareHooks(reg))
	}

	if b.extensions.Loaded() {
		if data, err := reg.Encode(); err == nil {
			b.cache.Set(ctx, b.bin, ModulesCacheKey, data, store.Permanent)
		}
	}
	return reg
}

// engineStep discovers theme functions prefixed with the skin name and
// templates with the engine's extension under the skin's directory. An
// extension registered under the engine's name may add declarations.
func (b *Builder) engineStep(_ context.Context, reg *Registry, engine string, typ SourceType, skin *extensions.Info) {
	ext := b.renderers.For(engine).Extension()
	exclude := extensions.SubThemePaths(b.extensions.ListSkins(), skin.Name)

	decls := FindThemeFunctions(reg, b.callables, []string{skin.Name})
	for hook, decl := range FindThemeTemplates(reg, ext, skin.Path, exclude) {
		if _, ok := decls[hook]; !ok {
			decls[hook] = decl
		}
	}
	if e, ok := b.extensions.Extension(engine); ok {
		if declarer, ok := e.(extensions.HookDeclarer); ok {
			for hook, decl := range declarer.DeclareHooks(reg) {
				decls[hook] = decl
			}
		}
	}

	b.process(reg, contributor{name: engine, typ: typ, theme: skin.Name, path: skin.Path}, decls)
}

// themeStep merges a skin's own declarations.
func (b *Builder) themeStep(_ context.Context, reg *Registry, typ SourceType, skin *extensions.Info) {
	var decls map[string]extensions.HookDeclaration
	if e, ok := b.extensions.Extension(skin.Name); ok {
		if declarer, ok := e.(extensions.HookDeclarer); ok {
			decls = declarer.DeclareHooks(reg)
		}
	}
	b.process(reg, contributor{name: skin.Name, typ: typ, theme: skin.Name, path: skin.Path}, decls)
}

// alter lets modules, then the skin chain, modify the registry.
func (b *Builder) alter(reg *Registry, skin *extensions.Info, ancestry []extensions.Ancestor) {
	names := b.extensions.ModuleNames()
	for _, base := range ancestry {
		if base.Known() {
			names = append(names, base.Name)
		}
	}
	names = append(names, skin.Name)

	for _, name := range names {
		ext, ok := b.extensions.Extension(name)
		if !ok {
			continue
		}
		if alterer, ok := ext.(Alterer); ok {
			alterer.AlterRegistry(reg)
		}
	}
}

// =============================================================================
// MERGE STEP
// =============================================================================

// process merges one contributor's declarations into reg.
func (b *Builder) process(reg *Registry, c contributor, decls map[string]extensions.HookDeclaration) {
	result := make(map[string]*Descriptor, len(decls))

	for _, hook := range sortedHooks(decls) {
		decl := decls[hook]
		prior, _ := reg.Get(hook)

		d := &Descriptor{
			Function:  decl.Function,
			Template:  decl.Template,
			Type:      c.typ,
			ThemePath: c.path,
			Args:      argsFromDeclaration(decl),
			Pattern:   decl.Pattern,
			BaseHook:  decl.BaseHook,
		}
		if decl.Template == "" && decl.Function == "" {
			prefix := c.name
			if c.typ == SourceModule {
				prefix = "theme"
			}
			d.Function = callables.ThemeName(prefix, hook)
		}
		if decl.Template != "" {
			d.Path = decl.Path
			if d.Path == "" {
				d.Path = c.path
			}
		}

		if prior != nil {
			d.Includes = cloneStrings(prior.Includes)
			if !d.Args.IsSet() {
				d.Args = prior.Args.clone()
			}
			if d.Pattern == "" {
				d.Pattern = prior.Pattern
			}
			if d.BaseHook == "" {
				d.BaseHook = prior.BaseHook
			}
		}
		if decl.File != "" {
			dir := decl.Path
			if dir == "" {
				dir = c.path
			}
			file := filepath.Join(dir, decl.File)
			b.include(file, hook)
			d.Includes = append(d.Includes, file)
		}

		for _, phase := range pipes.Phases {
			chain := declaredChain(decl, phase)
			if chain == nil {
				chain = b.probe(c, phase, hook, decl.Template != "")
			}
			if !overrides(decl, phase) && prior != nil {
				chain = append(cloneStrings(prior.Chain(phase)), chain...)
			}
			d.SetChain(phase, chain)
		}

		result[hook] = d
	}

	for hook, d := range result {
		reg.Set(hook, d)
	}

	if !c.typ.IsTheme() {
		return
	}

	// Skins get processors for hooks they did not declare themselves.
	for _, hook := range reg.Names() {
		if _, ok := result[hook]; ok {
			continue
		}
		d, _ := reg.Get(hook)
		updated := d.Clone()
		for _, phase := range pipes.Phases {
			chain := updated.Chain(phase)
			if chain == nil {
				chain = []string{}
			}
			if updated.Template != "" {
				if name := callables.PhaseName(c.name, phase); b.callables.HasProcessor(name) {
					chain = append(chain, name)
				}
			}
			if name := callables.HookPhaseName(c.name, phase, hook); b.callables.HasProcessor(name) {
				chain = append(chain, name)
				updated.ThemePath = c.path
			}
			updated.SetChain(phase, appendUnique(nil, chain...))
		}
		reg.Set(hook, updated)
	}
}

// probe returns the conventional processors that exist for hook. The
// hook-independent <prefix>_<phase> only applies to template-backed hooks.
func (b *Builder) probe(c contributor, phase pipes.Phase, hook string, template bool) []string {
	chain := []string{}
	for _, prefix := range b.prefixes(c) {
		if name := callables.PhaseName(prefix, phase); template && b.callables.HasProcessor(name) {
			chain = append(chain, name)
		}
		if name := callables.HookPhaseName(prefix, phase, hook); b.callables.HasProcessor(name) {
			chain = append(chain, name)
		}
	}
	return chain
}

// prefixes returns the naming prefixes probed for a contributor.
func (b *Builder) prefixes(c contributor) []string {
	switch {
	case c.typ == SourceModule:
		return append([]string{templatePrefix}, b.extensions.ModuleNames()...)
	case c.typ.IsEngine():
		return []string{c.name + "_engine", c.theme}
	default:
		return []string{c.name}
	}
}

// include loads a declared include file so its callables can be probed.
func (b *Builder) include(file, hook string) {
	if b.includer == nil {
		return
	}
	if err := b.includer.Include(file); err != nil {
		log.Warn().Err(err).Str("hook", hook).Str("file", file).Msg("hook include failed")
	}
}

func declaredChain(decl extensions.HookDeclaration, phase pipes.Phase) []string {
	var chain []string
	if phase == pipes.PhasePreprocess {
		chain = decl.Preprocess
	} else {
		chain = decl.Process
	}
	if chain == nil {
		return nil
	}
	return append([]string{}, chain...)
}

func overrides(decl extensions.HookDeclaration, phase pipes.Phase) bool {
	if phase == pipes.PhasePreprocess {
		return decl.OverridePreprocess
	}
	return decl.OverrideProcess
}

func sortedHooks(decls map[string]extensions.HookDeclaration) []string {
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

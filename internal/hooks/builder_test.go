package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/theme-registry/internal/adapters"
	"github.com/compresr/theme-registry/internal/callables"
	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/pipes"
	"github.com/compresr/theme-registry/internal/store"
)

// =============================================================================
// FIXTURES
// =============================================================================

type testExtension struct {
	info  *extensions.Info
	hooks map[string]extensions.HookDeclaration
	alter func(reg *Registry)
}

func (e *testExtension) Info() *extensions.Info { return e.info }

func (e *testExtension) DeclareHooks(extensions.HookSet) map[string]extensions.HookDeclaration {
	out := make(map[string]extensions.HookDeclaration, len(e.hooks))
	for k, v := range e.hooks {
		out[k] = v
	}
	return out
}

func (e *testExtension) AlterRegistry(reg *Registry) {
	if e.alter != nil {
		e.alter(reg)
	}
}

func module(name string, weight int, hooks map[string]extensions.HookDeclaration) *testExtension {
	return &testExtension{
		info:  &extensions.Info{Name: name, Kind: extensions.KindModule, Weight: weight, Path: "modules/" + name},
		hooks: hooks,
	}
}

func skin(name, base, path string, hooks map[string]extensions.HookDeclaration) *testExtension {
	if path == "" {
		path = "themes/" + name
	}
	return &testExtension{
		info:  &extensions.Info{Name: name, Kind: extensions.KindTheme, BaseTheme: base, Path: path},
		hooks: hooks,
	}
}

type recordingIncluder struct {
	files []string
}

func (r *recordingIncluder) Include(path string) error {
	r.files = append(r.files, path)
	return nil
}

// missStore reports every read as unavailable and drops writes.
type missStore struct {
	gets []string
	sets []string
}

func (m *missStore) Get(_ context.Context, _, cid string) (*store.Entry, bool) {
	m.gets = append(m.gets, cid)
	return nil, false
}

func (m *missStore) Set(_ context.Context, _, cid string, _ any, _ int64) {
	m.sets = append(m.sets, cid)
}

func (m *missStore) Clear(context.Context, string, string, bool) error { return nil }
func (m *missStore) Close() error                                      { return nil }

func noop(context.Context, *pipes.Variables, string) {}

type fixture struct {
	exts     *extensions.Store
	calls    *callables.Registry
	includer *recordingIncluder
	builder  *Builder
}

func newFixture(t *testing.T, cache store.Store, exts ...extensions.Extension) *fixture {
	t.Helper()
	f := &fixture{
		exts:     extensions.NewStore(nil, nil),
		calls:    callables.NewRegistry(),
		includer: &recordingIncluder{},
	}
	for _, e := range exts {
		f.exts.Register(e)
	}
	f.builder = NewBuilder(f.exts, f.calls, f.includer, adapters.NewRegistry(), cache)
	return f
}

func (f *fixture) processors(names ...string) {
	for _, name := range names {
		f.calls.RegisterProcessor(name, noop)
	}
}

func (f *fixture) build(t *testing.T, name, engine string) *Registry {
	t.Helper()
	info, err := f.exts.Skin(name)
	require.NoError(t, err)
	return f.builder.Build(context.Background(), info, f.exts.Ancestry(name), engine)
}

func systemModule() *testExtension {
	return module("system", -10, map[string]extensions.HookDeclaration{
		"links": {Variables: map[string]any{"links": []any{}, "heading": ""}},
		"page":  {Template: "page", RenderElement: "page"},
	})
}

// =============================================================================
// MERGE RULES
// =============================================================================

func TestBuild_ModuleDefaults(t *testing.T) {
	f := newFixture(t, &missStore{}, systemModule(), skin("stark", "", "", nil))
	reg := f.build(t, "stark", "")

	links, ok := reg.Get("links")
	require.True(t, ok)
	assert.Equal(t, KindFunction, links.Kind())
	assert.Equal(t, "theme_links", links.Function)
	assert.Equal(t, SourceModule, links.Type)
	assert.Equal(t, "modules/system", links.ThemePath)
	assert.Equal(t, ArgsVariables, links.Args.Kind)
	assert.Equal(t, map[string]any{"links": []any{}, "heading": ""}, links.Args.Variables)
	assert.Equal(t, "", links.Pattern)

	page, ok := reg.Get("page")
	require.True(t, ok)
	assert.Equal(t, KindTemplate, page.Kind())
	assert.Equal(t, "modules/system", page.Path)
	assert.Equal(t, filepath.Join("modules/system", "page.tpl.html"), page.TemplateFile(".tpl.html"))
	assert.Equal(t, RenderElementKey("page"), page.Args)
}

func TestBuild_OverridePreservesVariables(t *testing.T) {
	f := newFixture(t, &missStore{},
		module("system", 0, map[string]extensions.HookDeclaration{
			"links": {Variables: map[string]any{"a": 1}},
		}),
		skin("seven", "", "", map[string]extensions.HookDeclaration{
			"links": {Function: "seven_links"},
		}),
	)
	reg := f.build(t, "seven", "")

	links, _ := reg.Get("links")
	assert.Equal(t, "seven_links", links.Function)
	assert.Equal(t, SourceTheme, links.Type)
	assert.Equal(t, "themes/seven", links.ThemePath)
	assert.Equal(t, map[string]any{"a": 1}, links.Args.Variables)
}

func TestBuild_SkinDeclarationWithoutImplementation(t *testing.T) {
	f := newFixture(t, &missStore{},
		systemModule(),
		skin("seven", "", "", map[string]extensions.HookDeclaration{
			"links": {Pattern: "links__"},
		}),
	)
	reg := f.build(t, "seven", "")

	links, _ := reg.Get("links")
	assert.Equal(t, "seven_links", links.Function)
	assert.Equal(t, "links__", links.Pattern)
	assert.Equal(t, ArgsVariables, links.Args.Kind)
}

func TestBuild_PhaseChains(t *testing.T) {
	f := newFixture(t, &missStore{},
		systemModule(),
		skin("stark", "", "", nil),
		skin("seven", "stark", "", nil),
	)
	f.processors(
		"template_preprocess", "template_process",
		"system_preprocess_links",
		"stark_preprocess_links",
		"seven_preprocess", "seven_preprocess_page", "seven_process_links",
	)
	reg := f.build(t, "seven", "")

	links, _ := reg.Get("links")
	assert.Equal(t, []string{"system_preprocess_links", "stark_preprocess_links"}, links.Preprocess)
	assert.Equal(t, []string{"seven_process_links"}, links.Process)
	assert.Equal(t, "themes/seven", links.ThemePath)

	page, _ := reg.Get("page")
	assert.Equal(t, []string{"template_preprocess", "seven_preprocess", "seven_preprocess_page"}, page.Preprocess)
	assert.Equal(t, []string{"template_process"}, page.Process)
}

func TestBuild_OverrideFlagDiscardsPriorChain(t *testing.T) {
	f := newFixture(t, &missStore{},
		systemModule(),
		skin("seven", "", "", map[string]extensions.HookDeclaration{
			"links": {Function: "seven_links", OverridePreprocess: true},
		}),
	)
	f.processors("system_preprocess_links", "system_process_links", "seven_preprocess_links")
	reg := f.build(t, "seven", "")

	links, _ := reg.Get("links")
	assert.Equal(t, []string{"seven_preprocess_links"}, links.Preprocess)
	assert.Equal(t, []string{"system_process_links"}, links.Process)
}

func TestBuild_DeclaredChainIsUsedAsIs(t *testing.T) {
	f := newFixture(t, &missStore{},
		module("system", 0, map[string]extensions.HookDeclaration{
			"links": {Variables: map[string]any{}, Preprocess: []string{"custom_a", "custom_b"}},
		}),
		skin("stark", "", "", nil),
	)
	f.processors("system_preprocess_links")
	reg := f.build(t, "stark", "")

	links, _ := reg.Get("links")
	assert.Equal(t, []string{"custom_a", "custom_b"}, links.Preprocess)
}

func TestBuild_IncludesAccumulate(t *testing.T) {
	f := newFixture(t, &missStore{},
		module("system", 0, map[string]extensions.HookDeclaration{
			"links": {Variables: map[string]any{}, File: "system.theme.lua"},
		}),
		skin("seven", "", "", map[string]extensions.HookDeclaration{
			"links": {File: "links.lua", Path: "themes/seven/includes"},
		}),
	)
	reg := f.build(t, "seven", "")

	want := []string{
		filepath.Join("modules/system", "system.theme.lua"),
		filepath.Join("themes/seven/includes", "links.lua"),
	}
	links, _ := reg.Get("links")
	assert.Equal(t, want, links.Includes)
	assert.Equal(t, want, f.includer.files)
}

func TestBuild_EmptyChainsDropped(t *testing.T) {
	f := newFixture(t, &missStore{}, systemModule(), skin("stark", "", "", nil))
	reg := f.build(t, "stark", "")

	links, _ := reg.Get("links")
	assert.Nil(t, links.Preprocess)
	assert.Nil(t, links.Process)
	assert.False(t, links.HasChains())
}

func TestBuild_UnknownAncestorSkipped(t *testing.T) {
	f := newFixture(t, &missStore{}, systemModule(), skin("seven", "missing", "", map[string]extensions.HookDeclaration{
		"links": {Function: "seven_links"},
	}))

	var reg *Registry
	require.NotPanics(t, func() { reg = f.build(t, "seven", "") })
	links, _ := reg.Get("links")
	assert.Equal(t, "seven_links", links.Function)
}

func TestBuild_Alter(t *testing.T) {
	alterer := module("alter", 5, nil)
	alterer.alter = func(reg *Registry) {
		d, _ := reg.Get("links")
		d.Preprocess = append(d.Preprocess, "alter_links")
		reg.Delete("page")
	}
	f := newFixture(t, &missStore{}, systemModule(), alterer, skin("stark", "", "", nil))
	reg := f.build(t, "stark", "")

	links, _ := reg.Get("links")
	assert.Equal(t, []string{"alter_links"}, links.Preprocess)
	assert.False(t, reg.Has("page"))
}

// =============================================================================
// DISCOVERY
// =============================================================================

func writeTemplate(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{{.content}}"), 0o644))
}

func TestBuild_EngineDiscovery(t *testing.T) {
	root := t.TempDir()
	sevenDir := filepath.Join(root, "seven")
	childDir := filepath.Join(sevenDir, "sub")
	writeTemplate(t, filepath.Join(sevenDir, "templates", "page.tpl.md"))
	writeTemplate(t, filepath.Join(sevenDir, "templates", "links--contextual.tpl.md"))
	writeTemplate(t, filepath.Join(sevenDir, "templates", "ignored.tpl.html"))
	writeTemplate(t, filepath.Join(childDir, "page--front.tpl.md"))

	f := newFixture(t, &missStore{},
		systemModule(),
		skin("seven", "", sevenDir, nil),
		skin("sub", "seven", childDir, nil),
	)
	f.calls.RegisterTheme("seven_links__node", func(context.Context, *pipes.Variables) string { return "" })
	f.calls.RegisterTheme("seven_links", func(context.Context, *pipes.Variables) string { return "" })
	f.processors("markdown_engine_preprocess", "seven_preprocess_links__contextual")

	reg := f.build(t, "seven", "markdown")

	page, _ := reg.Get("page")
	assert.Equal(t, SourceThemeEngine, page.Type)
	assert.Equal(t, "page", page.Template)
	assert.Equal(t, filepath.Join(sevenDir, "templates"), page.Path)
	assert.Equal(t, RenderElementKey("page"), page.Args)
	assert.Equal(t, []string{"markdown_engine_preprocess"}, page.Preprocess)

	links, _ := reg.Get("links")
	assert.Equal(t, "seven_links", links.Function)

	node, ok := reg.Get("links__node")
	require.True(t, ok)
	assert.Equal(t, "seven_links__node", node.Function)
	assert.Equal(t, "links", node.BaseHook)
	assert.Equal(t, ArgsVariables, node.Args.Kind)

	contextual, ok := reg.Get("links__contextual")
	require.True(t, ok)
	assert.Equal(t, "links--contextual", contextual.Template)
	assert.Equal(t, "links", contextual.BaseHook)
	assert.Equal(t, []string{"markdown_engine_preprocess", "seven_preprocess_links__contextual"}, contextual.Preprocess)

	assert.False(t, reg.Has("page__front"), "sub-skin templates must not leak into the base skin")
	assert.False(t, reg.Has("ignored"))
}

func TestFindThemeFunctions_SkipsSuggestionHooks(t *testing.T) {
	existing := NewRegistry()
	existing.Set("links__node", &Descriptor{Function: "theme_links", BaseHook: "links"})
	calls := callables.NewRegistry()
	calls.RegisterTheme("seven_links__node__extra", func(context.Context, *pipes.Variables) string { return "" })

	found := FindThemeFunctions(existing, calls, []string{"seven"})
	assert.Empty(t, found)
}

// =============================================================================
// DETERMINISM AND CACHING
// =============================================================================

func TestBuild_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, filepath.Join(root, "links--a.tpl.md"))
	writeTemplate(t, filepath.Join(root, "links--b.tpl.md"))

	f := newFixture(t, &missStore{},
		systemModule(),
		module("node", 0, map[string]extensions.HookDeclaration{
			"node": {Template: "node", RenderElement: "elements"},
		}),
		skin("stark", "", "", nil),
		skin("seven", "stark", root, nil),
	)
	f.processors("template_preprocess", "node_preprocess_node", "seven_preprocess")

	first := f.build(t, "seven", "markdown")
	second := f.build(t, "seven", "markdown")

	if diff := cmp.Diff(first.Descriptors(), second.Descriptors()); diff != "" {
		t.Errorf("registry mismatch (-first +second):\n%s", diff)
	}
	a, err := first.Encode()
	require.NoError(t, err)
	b, err := second.Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	assert.Len(t, first.Fingerprint(), 64)
}

func TestLoad_CacheUnavailable(t *testing.T) {
	cache := &missStore{}
	f := newFixture(t, cache, systemModule(), skin("seven", "", "", nil))
	f.exts.LoadAll(f.includer)

	info, err := f.exts.Skin("seven")
	require.NoError(t, err)

	var reg *Registry
	require.NotPanics(t, func() {
		var fromCache bool
		reg, fromCache = f.builder.Load(context.Background(), info, f.exts.Ancestry("seven"), "")
		assert.False(t, fromCache)
	})
	assert.True(t, reg.Has("links"))
	assert.True(t, reg.Has("page"))
	assert.Contains(t, cache.gets, "theme_registry:seven")
	assert.Contains(t, cache.gets, ModulesCacheKey)
}

func TestLoad_PersistsOnlyWhenLoaded(t *testing.T) {
	ctx := context.Background()
	cache := store.NewMemoryStore(0)
	defer cache.Close()

	f := newFixture(t, cache, systemModule(), skin("seven", "", "", nil))
	info, err := f.exts.Skin("seven")
	require.NoError(t, err)

	f.builder.Load(ctx, info, nil, "")
	_, ok := cache.Get(ctx, store.DefaultBin, CacheKey("seven"))
	assert.False(t, ok, "registry must not be cached before extensions are loaded")
	_, ok = cache.Get(ctx, store.DefaultBin, ModulesCacheKey)
	assert.False(t, ok)

	f.exts.LoadAll(f.includer)
	built, fromCache := f.builder.Load(ctx, info, nil, "")
	assert.False(t, fromCache)
	_, ok = cache.Get(ctx, store.DefaultBin, CacheKey("seven"))
	assert.True(t, ok)
	_, ok = cache.Get(ctx, store.DefaultBin, ModulesCacheKey)
	assert.True(t, ok)

	cached, fromCache := f.builder.Load(ctx, info, nil, "")
	assert.True(t, fromCache)
	if diff := cmp.Diff(built.Descriptors(), cached.Descriptors(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("cached registry mismatch (-built +cached):\n%s", diff)
	}
	assert.Equal(t, built.Fingerprint(), cached.Fingerprint())

	require.NoError(t, f.builder.Invalidate(ctx))
	_, ok = cache.Get(ctx, store.DefaultBin, CacheKey("seven"))
	assert.False(t, ok)
	_, ok = cache.Get(ctx, store.DefaultBin, ModulesCacheKey)
	assert.False(t, ok)
}

func TestModulesFragmentSharedAcrossSkins(t *testing.T) {
	ctx := context.Background()
	cache := store.NewMemoryStore(0)
	defer cache.Close()

	f := newFixture(t, cache, systemModule(),
		skin("stark", "", "", nil),
		skin("seven", "", "", map[string]extensions.HookDeclaration{"links": {Function: "seven_links"}}),
	)
	f.exts.LoadAll(f.includer)

	stark, _ := f.exts.Skin("stark")
	seven, _ := f.exts.Skin("seven")
	f.builder.Load(ctx, seven, nil, "")
	reg, _ := f.builder.Load(ctx, stark, nil, "")

	links, _ := reg.Get("links")
	assert.Equal(t, "theme_links", links.Function, "a skin build must not leak into the module fragment")
}

package extensions_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/theme-registry/internal/extensions"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

// fixtureTree lays out two modules and a skin chain under a temp dir.
func fixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "modules/system/system.info.yml"), `
name: System
type: module
weight: -10
hooks:
  links:
    variables:
      links: []
      heading: ""
  item_list:
    variables:
      items: []
`)
	writeFile(t, filepath.Join(root, "modules/node/node.info.jsonc"), `{
  // JSON descriptors may carry comments.
  "name": "Node",
  "type": "module",
  "includes": ["node.lua"],
  "hooks": {
    "node": {"render_element": "elements", "template": "node"},
  },
}`)
	writeFile(t, filepath.Join(root, "modules/node/node.lua"), `function node_preprocess_node(vars, hook) end`)
	writeFile(t, filepath.Join(root, "modules/blank/blank.info.yml"), "name: Blank\n")
	writeFile(t, filepath.Join(root, "themes/stark/stark.info.yml"), "name: Stark\ntype: theme\n")
	writeFile(t, filepath.Join(root, "themes/seven/seven.info.yml"), "name: Seven\ntype: theme\nbase_theme: stark\nengine: markdown\n")
	return root
}

func TestParseInfo_Formats(t *testing.T) {
	yml, err := extensions.ParseInfo("seven", ".yml", []byte("name: Seven\ntype: theme\nbase_theme: stark\n"))
	require.NoError(t, err)
	assert.Equal(t, "seven", yml.Name)
	assert.Equal(t, "Seven", yml.Label())
	assert.True(t, yml.IsTheme())
	assert.Equal(t, "stark", yml.BaseTheme)

	js, err := extensions.ParseInfo("node", ".jsonc", []byte(`{"name": "Node", /* c */ "hooks": {"node": {"preprocess": []}},}`))
	require.NoError(t, err)
	assert.Equal(t, extensions.KindModule, js.Kind)
	require.Contains(t, js.Hooks, "node")
	assert.NotNil(t, js.Hooks["node"].Preprocess, "explicit empty chain must stay non-nil")
	assert.Nil(t, js.Hooks["node"].Process)

	_, err = extensions.ParseInfo("x", ".yml", []byte("type: plugin\n"))
	assert.Error(t, err)
	_, err = extensions.ParseInfo("x", ".toml", nil)
	assert.Error(t, err)
}

func TestIsInfoFile(t *testing.T) {
	assert.True(t, extensions.IsInfoFile("themes/seven/seven.info.yml"))
	assert.True(t, extensions.IsInfoFile("node.info.jsonc"))
	assert.False(t, extensions.IsInfoFile(".info.yml"))
	assert.False(t, extensions.IsInfoFile("seven.yml"))
}

func TestStore_ListsModulesAndSkins(t *testing.T) {
	root := fixtureTree(t)
	st := extensions.NewStore([]string{root}, nil)

	assert.Equal(t, []string{"system", "blank", "node"}, st.ModuleNames())
	skins := st.ListSkins()
	assert.Len(t, skins, 2)
	assert.Contains(t, skins, "seven")
	assert.Equal(t, filepath.Join(root, "themes/seven"), skins["seven"].Path)

	assert.Equal(t, []string{"system", "node"}, st.ListImplementing(extensions.PointTheme))
	assert.Empty(t, st.ListImplementing(extensions.PointRegistryAlter))

	_, err := st.Skin("garland")
	assert.ErrorIs(t, err, extensions.ErrUnknownSkin)
}

func TestStore_EnabledModules(t *testing.T) {
	st := extensions.NewStore([]string{fixtureTree(t)}, []string{"node"})
	assert.Equal(t, []string{"node"}, st.ModuleNames())
}

func TestStore_MissingPathDegrades(t *testing.T) {
	st := extensions.NewStore([]string{filepath.Join(t.TempDir(), "nope")}, nil)
	assert.Empty(t, st.ListSkins())
	assert.Empty(t, st.Modules())
}

type goModule struct {
	info extensions.Info
}

func (m *goModule) Info() *extensions.Info { return &m.info }

func (m *goModule) DeclareHooks(extensions.HookSet) map[string]extensions.HookDeclaration {
	return map[string]extensions.HookDeclaration{"pager": {Variables: map[string]any{"tags": []string{}}}}
}

func (m *goModule) Implements(point string) bool {
	return point == extensions.PointTheme || point == extensions.PointRegistryAlter
}

func TestStore_RegisterGoExtension(t *testing.T) {
	st := extensions.NewStore([]string{fixtureTree(t)}, nil)
	st.Register(&goModule{info: extensions.Info{Name: "pager", Kind: extensions.KindModule, Weight: 5}})

	assert.Equal(t, []string{"system", "blank", "node", "pager"}, st.ModuleNames())
	assert.Equal(t, []string{"pager"}, st.ListImplementing(extensions.PointRegistryAlter))

	// Registered extensions survive invalidation.
	st.InvalidateSkinList()
	_, ok := st.Extension("pager")
	assert.True(t, ok)
}

func TestStore_InvalidateRescans(t *testing.T) {
	root := fixtureTree(t)
	st := extensions.NewStore([]string{root}, nil)
	require.Len(t, st.ListSkins(), 2)

	writeFile(t, filepath.Join(root, "themes/garland/garland.info.yml"), "type: theme\n")
	assert.Len(t, st.ListSkins(), 2, "scan is cached")

	st.InvalidateSkinList()
	assert.Len(t, st.ListSkins(), 3)
}

type recordingIncluder struct{ files []string }

func (r *recordingIncluder) Include(path string) error {
	r.files = append(r.files, path)
	return nil
}

func TestStore_LoadAll(t *testing.T) {
	root := fixtureTree(t)
	st := extensions.NewStore([]string{root}, nil)
	assert.False(t, st.Loaded())

	inc := &recordingIncluder{}
	st.LoadAll(inc)

	assert.True(t, st.Loaded())
	assert.Equal(t, []string{filepath.Join(root, "modules/node/node.lua")}, inc.files)
}

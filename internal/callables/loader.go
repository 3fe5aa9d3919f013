// Loader - include files that contribute callables.
//
// DESIGN: Include files are loaded at most once per Loader (include-once). A
// file is loaded either while the registry is built (a contributor declared it)
// or before invocation (a descriptor lists it). Loading is what makes the
// callables inside resolvable.
//
// Supported formats:
//   - .lua: run in a sandboxed gopher-lua state. Each global function defined by
//     the file is registered: names with a preprocess/process segment become
//     processors, everything else becomes a theme function.
//
// gopher-lua states are not goroutine-safe, so every call into the state holds mu.
package callables

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/compresr/theme-registry/internal/pipes"
)

// ErrUnsupportedInclude is returned for include files of an unknown format.
var ErrUnsupportedInclude = errors.New("unsupported include file")

// Loader loads include files into a Registry.
type Loader struct {
	registry *Registry
	L        *lua.LState
	builtins   map[string]bool
	loaded     []string
	seen       map[string]bool
	registered []string
	mu       sync.Mutex
}

// NewLoader creates a loader that registers callables into reg.
func NewLoader(reg *Registry) *Loader {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	// Scripts may not pull in arbitrary files behind the loader's back.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	builtins := make(map[string]bool)
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		builtins[k.String()] = true
	})

	return &Loader{
		registry: reg,
		L:        L,
		builtins: builtins,
		seen:     make(map[string]bool),
	}
}

// Include loads path once. Subsequent calls for the same path are no-ops.
func (l *Loader) Include(path string) error {
	clean := filepath.Clean(path)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[clean] {
		return nil
	}

	switch filepath.Ext(clean) {
	case ".lua":
		if err := l.includeLua(clean); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInclude, clean)
	}

	l.seen[clean] = true
	l.loaded = append(l.loaded, clean)
	log.Debug().Str("file", clean).Msg("include loaded")
	return nil
}

// Loaded returns the included files in load order.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.loaded))
	copy(out, l.loaded)
	return out
}

// Reset forgets every included file and unregisters the callables they
// defined, so the next Include of a file runs it again.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range l.registered {
		l.registry.Remove(name)
		l.L.SetGlobal(name, lua.LNil)
	}
	l.registered = nil
	l.loaded = nil
	l.seen = make(map[string]bool)
}

// Close releases the scripting state.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.L.Close()
}

// includeLua runs the script and registers its global functions. Called with mu held.
func (l *Loader) includeLua(path string) error {
	before := l.functionSet()
	if err := l.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load include '%s': %w", path, err)
	}

	var names []string
	fns := make(map[string]*lua.LFunction)
	l.L.G.Global.ForEach(func(k, v lua.LValue) {
		fn, ok := v.(*lua.LFunction)
		if !ok {
			return
		}
		name := k.String()
		if l.builtins[name] || before[name] == fn {
			return
		}
		names = append(names, name)
		fns[name] = fn
	})
	sort.Strings(names)

	for _, name := range names {
		l.registered = append(l.registered, name)
		if IsProcessorName(name) {
			l.registry.RegisterProcessor(name, l.luaProcessor(name, fns[name]))
		} else {
			l.registry.RegisterTheme(name, l.luaTheme(name, fns[name]))
		}
	}
	return nil
}

// functionSet snapshots the global functions currently defined. Called with mu held.
func (l *Loader) functionSet() map[string]*lua.LFunction {
	set := make(map[string]*lua.LFunction)
	l.L.G.Global.ForEach(func(k, v lua.LValue) {
		if fn, ok := v.(*lua.LFunction); ok {
			set[k.String()] = fn
		}
	})
	return set
}

// luaProcessor wraps a script function as a processor. The variables table is
// copied back into the bag after the call, including deletions.
func (l *Loader) luaProcessor(name string, fn *lua.LFunction) pipes.Processor {
	return func(_ context.Context, vars *pipes.Variables, hook string) {
		l.mu.Lock()
		defer l.mu.Unlock()

		tbl := variablesToTable(l.L, vars)
		err := l.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl, lua.LString(hook))
		if err != nil {
			log.Warn().Err(err).Str("processor", name).Str("hook", hook).Msg("script processor failed")
			return
		}
		tableToVariables(tbl, vars)
	}
}

// luaTheme wraps a script function as a theme function returning a string.
func (l *Loader) luaTheme(name string, fn *lua.LFunction) ThemeFunc {
	return func(_ context.Context, vars *pipes.Variables) string {
		l.mu.Lock()
		defer l.mu.Unlock()

		tbl := variablesToTable(l.L, vars)
		if err := l.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, tbl); err != nil {
			log.Warn().Err(err).Str("function", name).Msg("script theme function failed")
			return ""
		}
		ret := l.L.Get(-1)
		l.L.Pop(1)
		if ret == lua.LNil {
			return ""
		}
		return ret.String()
	}
}

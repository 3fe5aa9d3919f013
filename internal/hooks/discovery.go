package hooks

import (
	"strings"

	"github.com/compresr/theme-registry/internal/callables"
	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/templates"
)

// suggestionPattern returns the prefix that suggestion variants of hook start
// with, or "" when the hook takes no suggestions (it is itself a suggestion).
func suggestionPattern(hook string, d *Descriptor) string {
	if d.BaseHook != "" {
		return ""
	}
	if d.Pattern != "" {
		return d.Pattern
	}
	return hook + "__"
}

// suggestionDeclaration declares a discovered variant of base.
func suggestionDeclaration(baseHook string, base *Descriptor) extensions.HookDeclaration {
	decl := extensions.HookDeclaration{BaseHook: baseHook}
	base.Args.declare(&decl)
	return decl
}

// FindThemeFunctions returns declarations for theme functions named
// <prefix>_<hook> (an implementation of an existing hook) or
// <prefix>_<pattern>... (a new suggestion hook based on an existing one).
func FindThemeFunctions(existing *Registry, calls *callables.Registry, prefixes []string) map[string]extensions.HookDeclaration {
	found := make(map[string]extensions.HookDeclaration)
	for _, hook := range existing.Names() {
		d, _ := existing.Get(hook)
		for _, prefix := range prefixes {
			if pattern := suggestionPattern(hook, d); pattern != "" {
				for _, fn := range calls.ThemeNames(prefix + "_" + pattern) {
					decl := suggestionDeclaration(hook, d)
					decl.Function = fn
					found[strings.TrimPrefix(fn, prefix+"_")] = decl
				}
			}
			if fn := callables.ThemeName(prefix, hook); calls.HasTheme(fn) {
				found[hook] = extensions.HookDeclaration{Function: fn}
			}
		}
	}
	return found
}

// FindThemeTemplates returns declarations for template files under root with
// the given extension: files named after an existing hook implement it, files
// matching a hook's suggestion pattern become new suggestion hooks. Templates
// of sub-skins stored below root are skipped.
func FindThemeTemplates(existing *Registry, ext, root string, exclude []string) map[string]extensions.HookDeclaration {
	files := templates.Discover(root, ext, exclude)
	names := templates.Names(files)
	found := make(map[string]extensions.HookDeclaration)

	for _, name := range names {
		file := files[name]
		hook := templates.HookName(name)
		d, ok := existing.Get(hook)
		if !ok {
			continue
		}
		// The pattern is carried along so sub-skins scan with the same one.
		found[hook] = extensions.HookDeclaration{
			Template: name,
			Path:     file.Dir,
			Pattern:  d.Pattern,
		}
	}

	for _, hook := range existing.Names() {
		d, _ := existing.Get(hook)
		pattern := suggestionPattern(hook, d)
		if pattern == "" {
			continue
		}
		pattern = templates.FileName(pattern)
		for _, name := range names {
			if !strings.HasPrefix(name, pattern) {
				continue
			}
			decl := suggestionDeclaration(hook, d)
			decl.Template = name
			decl.Path = files[name].Dir
			found[templates.HookName(name)] = decl
		}
	}
	return found
}

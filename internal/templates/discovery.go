// Package templates discovers template files for the registry builder.
//
// DESIGN: A template is keyed by its base name: the file name up to the first
// dot, so "node--article.tpl.html" is keyed "node--article". Hyphens in file
// names stand for underscores in hook names.
package templates

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// File is a discovered template.
type File struct {
	Name string // Base name, e.g. "node--article"
	Path string // Full path including extension
	Dir  string // Directory containing the file
}

// HookName converts a template base name to a hook name.
func HookName(template string) string {
	return strings.ReplaceAll(template, "-", "_")
}

// FileName converts a hook name or pattern to template naming.
func FileName(hook string) string {
	return strings.ReplaceAll(hook, "_", "-")
}

// Discover returns every file under root ending in ext, keyed by base name.
// Files under any directory in exclude are skipped. When two files share a
// base name the one with the lexically smaller path wins.
func Discover(root, ext string, exclude []string) map[string]File {
	found := make(map[string]File)
	if root == "" || ext == "" {
		return found
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && excluded(path, exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		name := d.Name()
		if i := strings.Index(name, "."); i >= 0 {
			name = name[:i]
		}
		if name == "" {
			return nil
		}
		if prev, ok := found[name]; ok && prev.Path < path {
			return nil
		}
		found[name] = File{Name: name, Path: path, Dir: filepath.Dir(path)}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("root", root).Msg("template discovery failed")
	}
	return found
}

// Names returns the keys of files sorted.
func Names(files map[string]File) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func excluded(dir string, exclude []string) bool {
	clean := filepath.Clean(dir)
	for _, ex := range exclude {
		if ex != "" && clean == filepath.Clean(ex) {
			return true
		}
	}
	return false
}

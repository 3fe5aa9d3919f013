// Store - descriptor store for modules and skins.
//
// DESIGN: Info files are scanned lazily on first access and cached until
// InvalidateSkinList. Go extensions registered with Register survive
// invalidation. Enabled modules are either every discovered module or the
// configured list.
//
// The store also tracks whether the extension system has finished loading
// (LoadAll). Dispatching before that point yields a structurally incomplete
// registry, so callers check Loaded first.
package extensions

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Store supplies extension descriptors.
type Store struct {
	paths      []string
	enabled    map[string]bool // nil = every discovered module
	registered map[string]Extension
	scanned    map[string]Extension
	isScanned  bool
	loaded     atomic.Bool
	mu         sync.RWMutex
}

// NewStore creates a store scanning paths. When enabled is non-empty only the
// named modules are enabled; skins are always listed.
func NewStore(paths []string, enabled []string) *Store {
	s := &Store{
		paths:      paths,
		registered: make(map[string]Extension),
	}
	if len(enabled) > 0 {
		s.enabled = make(map[string]bool, len(enabled))
		for _, name := range enabled {
			s.enabled[name] = true
		}
	}
	return s
}

// Paths returns the search paths.
func (s *Store) Paths() []string {
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

// Register adds a Go extension. It takes precedence over an info file with the
// same machine name.
func (s *Store) Register(ext Extension) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[ext.Info().Name] = ext
}

// InvalidateSkinList drops scanned descriptors; the next access rescans.
func (s *Store) InvalidateSkinList() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned = nil
	s.isScanned = false
}

// Extension returns the extension with machine name name.
func (s *Store) Extension(name string) (Extension, bool) {
	all := s.all()
	ext, ok := all[name]
	return ext, ok
}

// ListSkins returns every skin keyed by machine name.
func (s *Store) ListSkins() map[string]*Info {
	skins := make(map[string]*Info)
	for name, ext := range s.all() {
		if info := ext.Info(); info.IsTheme() {
			skins[name] = info
		}
	}
	return skins
}

// Skin returns the descriptor of the named skin.
func (s *Store) Skin(name string) (*Info, error) {
	info, ok := s.ListSkins()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkin, name)
	}
	return info, nil
}

// Modules returns enabled modules ordered by weight, then name.
func (s *Store) Modules() []*Info {
	var mods []*Info
	for name, ext := range s.all() {
		info := ext.Info()
		if info.IsTheme() {
			continue
		}
		if s.enabled != nil && !s.enabled[name] {
			continue
		}
		mods = append(mods, info)
	}
	sort.Slice(mods, func(i, j int) bool {
		if mods[i].Weight != mods[j].Weight {
			return mods[i].Weight < mods[j].Weight
		}
		return mods[i].Name < mods[j].Name
	})
	return mods
}

// ModuleNames returns the machine names of enabled modules in module order.
func (s *Store) ModuleNames() []string {
	mods := s.Modules()
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	return names
}

// ListImplementing returns enabled modules implementing point, in module order.
func (s *Store) ListImplementing(point string) []string {
	var names []string
	for _, info := range s.Modules() {
		ext, ok := s.Extension(info.Name)
		if !ok {
			continue
		}
		if Implements(ext, point) {
			names = append(names, info.Name)
		}
	}
	return names
}

// Implements reports whether ext implements the declaration point.
func Implements(ext Extension, point string) bool {
	if impl, ok := ext.(Implementer); ok {
		return impl.Implements(point)
	}
	if point == PointTheme {
		_, ok := ext.(HookDeclarer)
		return ok
	}
	return false
}

// LoadAll includes every enabled module's include files and marks the
// extension system loaded. Failures are logged; the store is still marked
// loaded so that dispatch can proceed with what did load.
func (s *Store) LoadAll(loader Includer) {
	for _, info := range s.Modules() {
		for _, path := range info.IncludePaths() {
			if err := loader.Include(path); err != nil {
				log.Warn().Err(err).Str("module", info.Name).Str("file", path).Msg("module include failed")
			}
		}
	}
	s.loaded.Store(true)
}

// Loaded reports whether LoadAll has completed.
func (s *Store) Loaded() bool {
	return s.loaded.Load()
}

// all returns registered and scanned extensions, scanning if needed.
func (s *Store) all() map[string]Extension {
	s.mu.RLock()
	if s.isScanned {
		out := s.merged()
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isScanned {
		s.scanned = scan(s.paths)
		s.isScanned = true
	}
	return s.merged()
}

// merged combines scanned and registered extensions. Called with mu held.
func (s *Store) merged() map[string]Extension {
	out := make(map[string]Extension, len(s.scanned)+len(s.registered))
	for name, ext := range s.scanned {
		out[name] = ext
	}
	for name, ext := range s.registered {
		out[name] = ext
	}
	return out
}

// scan walks every search path for info files. Unreadable paths and invalid
// info files are logged and skipped.
func scan(paths []string) map[string]Extension {
	found := make(map[string]Extension)
	for _, root := range paths {
		if _, err := os.Stat(root); err != nil {
			log.Warn().Err(err).Str("path", root).Msg("extension path unavailable")
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("extension scan error")
				return nil
			}
			if d.IsDir() || !IsInfoFile(path) {
				return nil
			}
			info, err := LoadInfo(path)
			if err != nil {
				log.Warn().Err(err).Msg("skipping invalid info file")
				return nil
			}
			if prev, dup := found[info.Name]; dup {
				log.Warn().
					Str("extension", info.Name).
					Str("kept", prev.Info().Filename).
					Str("ignored", info.Filename).
					Msg("duplicate extension name")
				return nil
			}
			found[info.Name] = &fileExtension{info: info}
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("path", root).Msg("extension scan aborted")
		}
	}
	return found
}

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}

// Theme configuration - descriptor store, dispatch and cache settings.
//
// DESIGN: The extension search paths and the default skin are required.
// The enabled module list is optional: empty enables every discovered module.
package config

import (
	"fmt"
	"time"
)

// Cache store types.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

// ExtensionsConfig configures the descriptor store.
type ExtensionsConfig struct {
	Paths   []string `yaml:"paths"`   // Directories scanned for info files
	Enabled []string `yaml:"enabled"` // Enabled modules; empty = all
	Watch   bool     `yaml:"watch"`   // Rebuild on descriptor/template changes
}

// Validate checks the extensions section.
func (e *ExtensionsConfig) Validate() error {
	if len(e.Paths) == 0 {
		return fmt.Errorf("extensions.paths is required")
	}
	for i, p := range e.Paths {
		if p == "" {
			return fmt.Errorf("extensions.paths[%d] is empty", i)
		}
	}
	return nil
}

// ThemeConfig configures dispatch.
type ThemeConfig struct {
	Default string `yaml:"default"` // Skin used when a request names none
	Debug   bool   `yaml:"debug"`   // Wrap template output in debug markers
}

// Validate checks the theme section.
func (t *ThemeConfig) Validate() error {
	if t.Default == "" {
		return fmt.Errorf("theme.default is required")
	}
	return nil
}

// CacheConfig configures the cache store.
type CacheConfig struct {
	Type            string        `yaml:"type"`             // memory | sqlite
	Path            string        `yaml:"path"`             // sqlite database file
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // memory store expiry sweep
}

// Validate checks the cache section.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case CacheMemory:
		if c.CleanupInterval == 0 {
			return fmt.Errorf("cache.cleanup_interval is required for memory cache")
		}
	case CacheSQLite:
		if c.Path == "" {
			return fmt.Errorf("cache.path is required for sqlite cache")
		}
	case "":
		return fmt.Errorf("cache.type is required")
	default:
		return fmt.Errorf("invalid cache.type: %s (must be %s or %s)", c.Type, CacheMemory, CacheSQLite)
	}
	return nil
}

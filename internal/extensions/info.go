// Info file parsing.
//
// Supported formats:
//   - <name>.info.yml / <name>.info.yaml: YAML
//   - <name>.info.jsonc / <name>.info.json: JSON with comments and trailing commas
package extensions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var infoSuffixes = []string{".info.yml", ".info.yaml", ".info.jsonc", ".info.json"}

// IsInfoFile reports whether path names an info file.
func IsInfoFile(path string) bool {
	_, ok := infoName(path)
	return ok
}

// infoName returns the machine name encoded in an info file name.
func infoName(path string) (string, bool) {
	base := filepath.Base(path)
	for _, suffix := range infoSuffixes {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			return strings.TrimSuffix(base, suffix), true
		}
	}
	return "", false
}

// LoadInfo reads and parses an info file.
func LoadInfo(path string) (*Info, error) {
	name, ok := infoName(path)
	if !ok {
		return nil, fmt.Errorf("'%s' is not an info file", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read info file '%s': %w", path, err)
	}

	info, err := ParseInfo(name, filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse info file '%s': %w", path, err)
	}
	info.Path = filepath.Dir(path)
	info.Filename = path
	return info, nil
}

// ParseInfo parses info file content. ext selects the format (".yml", ".yaml",
// ".jsonc" or ".json").
func ParseInfo(name, ext string, data []byte) (*Info, error) {
	var info Info
	switch ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &info); err != nil {
			return nil, err
		}
	case ".jsonc", ".json":
		if err := json.Unmarshal(jsonc.ToJSON(data), &info); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported info format %q", ext)
	}

	info.Name = name
	if info.Kind == "" {
		info.Kind = KindModule
	}
	if info.Kind != KindModule && info.Kind != KindTheme {
		return nil, fmt.Errorf("invalid type %q (must be module or theme)", info.Kind)
	}
	return &info, nil
}

// Package pipes - variables.go defines the variable bag passed through a render call.
//
// DESIGN: Variables is an insertion-ordered map. Order matters for templates that
// iterate the bag and for deterministic debug output. Two entries are special:
//   - theme_hook_suggestion:  single suggestion, highest priority
//   - theme_hook_suggestions: ordered list, later entries win
//
// Processors may populate either to reroute the render call after the pipeline runs.
package pipes

import (
	"fmt"
	"sort"
)

// Reserved variable names.
const (
	KeyHookOriginal    = "theme_hook_original"
	KeyHookSuggestion  = "theme_hook_suggestion"
	KeyHookSuggestions = "theme_hook_suggestions"

	// KeyDirectory is set by the default pre-processor. Its presence means the
	// bag has already seen template_preprocess.
	KeyDirectory = "directory"
)

// Variables is an ordered, mutable mapping of named values.
type Variables struct {
	keys   []string
	values map[string]any
}

// NewVariables creates an empty bag.
func NewVariables() *Variables {
	return &Variables{values: make(map[string]any)}
}

// VariablesFrom builds a bag from a plain map. Keys are inserted in sorted order
// since Go maps carry none.
func VariablesFrom(m map[string]any) *Variables {
	v := NewVariables()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Set(k, m[k])
	}
	return v
}

// Len returns the number of entries.
func (v *Variables) Len() int { return len(v.keys) }

// Has reports whether key is present.
func (v *Variables) Has(key string) bool {
	_, ok := v.values[key]
	return ok
}

// Get returns the value stored under key.
func (v *Variables) Get(key string) (any, bool) {
	val, ok := v.values[key]
	return val, ok
}

// String returns the value under key formatted as a string, or "" when absent.
func (v *Variables) String(key string) string {
	val, ok := v.values[key]
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprint(val)
}

// Set stores val under key. New keys are appended; existing keys keep their position.
func (v *Variables) Set(key string, val any) {
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = val
}

// SetDefault stores val only when key is absent. Returns true if it was stored.
func (v *Variables) SetDefault(key string, val any) bool {
	if v.Has(key) {
		return false
	}
	v.Set(key, val)
	return true
}

// Delete removes key.
func (v *Variables) Delete(key string) {
	if _, ok := v.values[key]; !ok {
		return
	}
	delete(v.values, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (v *Variables) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Map returns a shallow copy of the entries.
func (v *Variables) Map() map[string]any {
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Clone returns a shallow copy of the bag.
func (v *Variables) Clone() *Variables {
	c := &Variables{
		keys:   make([]string, len(v.keys)),
		values: make(map[string]any, len(v.values)),
	}
	copy(c.keys, v.keys)
	for k, val := range v.values {
		c.values[k] = val
	}
	return c
}

// Suggestion returns theme_hook_suggestion, or "".
func (v *Variables) Suggestion() string {
	return v.String(KeyHookSuggestion)
}

// SetSuggestion sets the single high-priority suggestion.
func (v *Variables) SetSuggestion(hook string) {
	v.Set(KeyHookSuggestion, hook)
}

// Suggestions returns theme_hook_suggestions in list order.
// Lists written by scripted processors arrive as []any and are accepted too.
func (v *Variables) Suggestions() []string {
	raw, ok := v.values[KeyHookSuggestions]
	if !ok || raw == nil {
		return nil
	}
	switch list := raw.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	}
	return nil
}

// AddSuggestion appends hook to theme_hook_suggestions.
func (v *Variables) AddSuggestion(hook string) {
	v.Set(KeyHookSuggestions, append(v.Suggestions(), hook))
}

// ResetSuggestions empties theme_hook_suggestions.
func (v *Variables) ResetSuggestions() {
	v.Set(KeyHookSuggestions, []string{})
}

// =============================================================================
// RENDER ELEMENTS
// =============================================================================

// Element is a structured render element. Properties are keys prefixed with "#";
// everything else is a child.
type Element map[string]any

// IsElement reports whether m looks like a render element rather than a flat
// variable map.
func IsElement(m map[string]any) bool {
	if m == nil {
		return false
	}
	_, theme := m["#theme"]
	_, wrappers := m["#theme_wrappers"]
	return theme || wrappers
}

// Property returns the "#name" property of the element.
func (e Element) Property(name string) (any, bool) {
	val, ok := e["#"+name]
	return val, ok
}

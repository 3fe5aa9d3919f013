package hooks

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/store"
)

// Registry maps hook names to descriptors.
//
// A Registry is built by one goroutine and treated as read-only once returned
// by the Builder; concurrent readers need no locking.
type Registry struct {
	hooks map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]*Descriptor)}
}

// Get returns the descriptor for hook.
func (r *Registry) Get(hook string) (*Descriptor, bool) {
	d, ok := r.hooks[hook]
	return d, ok
}

// Has reports whether hook is registered.
func (r *Registry) Has(hook string) bool {
	_, ok := r.hooks[hook]
	return ok
}

// Names returns every hook name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of hooks.
func (r *Registry) Len() int { return len(r.hooks) }

// Set adds or replaces a descriptor.
func (r *Registry) Set(hook string, d *Descriptor) {
	r.hooks[hook] = d
}

// Delete removes hook.
func (r *Registry) Delete(hook string) {
	delete(r.hooks, hook)
}

// Descriptors returns the underlying map. Callers must not modify it.
func (r *Registry) Descriptors() map[string]*Descriptor {
	return r.hooks
}

// Clone returns a deep copy.
func (r *Registry) Clone() *Registry {
	c := &Registry{hooks: make(map[string]*Descriptor, len(r.hooks))}
	for name, d := range r.hooks {
		c.hooks[name] = d.Clone()
	}
	return c
}

// Encode returns the deterministic encoding of the registry. Two registries
// with equal content encode to identical bytes.
func (r *Registry) Encode() ([]byte, error) {
	return store.Marshal(r.hooks)
}

// DecodeRegistry restores a registry produced by Encode.
func DecodeRegistry(data []byte) (*Registry, error) {
	hooks := make(map[string]*Descriptor)
	if err := store.Unmarshal(data, &hooks); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	return &Registry{hooks: hooks}, nil
}

// Fingerprint returns the hex BLAKE3 digest of the encoded registry.
func (r *Registry) Fingerprint() string {
	data, err := r.Encode()
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ensure Registry can be handed to extensions as the registry built so far.
var _ extensions.HookSet = (*Registry)(nil)

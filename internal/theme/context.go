package theme

import (
	"context"
	"sync"

	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/hooks"
)

// DispatchContext carries the per-request rendering state: the active skin,
// its ancestry and engine, the registry fetched for this request and the
// counters template defaults rely on. Create one per request with
// Dispatcher.Context.
type DispatchContext struct {
	Skin     *extensions.Info
	Ancestry []extensions.Ancestor
	Engine   string

	// Bootstrap tolerates dispatch before every module is loaded.
	Bootstrap bool

	RequestID string

	registry *hooks.Registry
	counts   map[string]int
	mu       sync.Mutex
}

// nextCount returns the 1-based render count of hook within this request.
func (dc *DispatchContext) nextCount(hook string) int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.counts == nil {
		dc.counts = make(map[string]int)
	}
	dc.counts[hook]++
	return dc.counts[hook]
}

type contextKey string

const dispatchContextKey contextKey = "dispatch_context"

// WithDispatchContext attaches dc to ctx.
func WithDispatchContext(ctx context.Context, dc *DispatchContext) context.Context {
	return context.WithValue(ctx, dispatchContextKey, dc)
}

// DispatchContextFrom returns the DispatchContext attached to ctx, or nil.
func DispatchContextFrom(ctx context.Context) *DispatchContext {
	dc, _ := ctx.Value(dispatchContextKey).(*DispatchContext)
	return dc
}

// Package pipes runs the variable-transformation pipeline for a render call.
//
// DESIGN: A render call carries a Variables bag through two phases:
//   - preprocess: template defaults, then extensions, engine and skin contributions
//   - process:    same contributor order, after every preprocessor has run
//
// FLOW:
//  1. Registry build resolves each phase chain to an ordered list of callable names
//  2. Dispatcher calls RunPhases with the chains of the matched hook
//  3. Every processor that still resolves runs once, in order
//  4. Suggestion rerouting is evaluated by the dispatcher AFTER both phases
//
// There is no short-circuiting. A processor that adds suggestions does not stop
// the chain.
package pipes

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Phase names a variable-processing phase.
type Phase string

const (
	PhasePreprocess Phase = "preprocess"
	PhaseProcess    Phase = "process"
)

// Phases lists the phases in execution order.
var Phases = []Phase{PhasePreprocess, PhaseProcess}

// Processor transforms the variable bag for hook. The hook argument is a copy;
// reassigning it inside a processor has no effect on the rest of the chain.
type Processor func(ctx context.Context, vars *Variables, hook string)

// Resolver looks up processors by callable name.
type Resolver interface {
	Processor(name string) (Processor, bool)
}

// Run invokes every resolvable processor in chain, in order. Names that no
// longer resolve are skipped. Returns the number of processors invoked.
func Run(ctx context.Context, resolver Resolver, chain []string, vars *Variables, hook string) int {
	invoked := 0
	for _, name := range chain {
		fn, ok := resolver.Processor(name)
		if !ok || fn == nil {
			log.Debug().Str("processor", name).Str("hook", hook).Msg("processor not resolvable, skipped")
			continue
		}
		fn(ctx, vars, hook)
		invoked++
	}
	return invoked
}

// RunPhases runs the preprocess chain to completion, then the process chain.
func RunPhases(ctx context.Context, resolver Resolver, preprocess, process []string, vars *Variables, hook string) int {
	n := Run(ctx, resolver, preprocess, vars, hook)
	n += Run(ctx, resolver, process, vars, hook)
	return n
}

// =============================================================================
// DISPATCH CONTEXT VALUES
// =============================================================================

type contextKey string

const themePathKey contextKey = "theme_path"

// WithThemePath returns a context carrying the path of the contributor that
// owns the hook currently being rendered.
func WithThemePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, themePathKey, path)
}

// ThemePathFromContext returns the path set by WithThemePath, or "".
func ThemePathFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(themePathKey).(string); ok {
		return p
	}
	return ""
}

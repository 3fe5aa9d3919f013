// Package gateway types - constants and request types for the render API.
//
// DESIGN: Types are defined here to avoid circular imports and provide clear contracts.
package gateway

import (
	"github.com/compresr/theme-registry/internal/pipes"
)

// HTTP header names.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderTheme     = "X-Theme"
)

// Limits.
const (
	MaxRequestBodySize  = 4 << 20 // 4 MiB
	MaxRateLimitBuckets = 10000
	DefaultRateLimit    = 200 // requests per second per IP
)

// RenderRequest is a parsed POST /render body.
//
//	{"theme": "seven", "hook": "links" | ["a", "b"], "variables": {...}, "element": {...}}
//
// Exactly one of Hook, Candidates or Element drives the dispatch.
type RenderRequest struct {
	Theme      string
	Hook       string
	Candidates []string
	Variables  *pipes.Variables
	Element    pipes.Element
}

// Label returns the hook name used in logs.
func (r *RenderRequest) Label() string {
	switch {
	case r.Hook != "":
		return r.Hook
	case len(r.Candidates) > 0:
		return r.Candidates[0]
	case r.Element != nil:
		if s, ok := r.Element["#theme"].(string); ok {
			return s
		}
	}
	return ""
}

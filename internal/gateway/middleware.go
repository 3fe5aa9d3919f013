// HTTP middleware for the render API.
//
// DESIGN: Chain, outermost first:
//  1. panicRecovery:     a panicking render becomes a 500 with an alert
//  2. rateLimit:         per-client token bucket, 429 when empty
//  3. loggingMiddleware: request ID in header and context, request/response lines
//  4. security:          response hardening headers, CORS for local origins
package gateway

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/theme-registry/internal/monitoring"
)

// Rate limiter bucket lifetimes.
const (
	bucketSweepInterval = 5 * time.Minute
	bucketIdleTTL       = 10 * time.Minute
)

// statusRecorder remembers the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// =============================================================================
// RATE LIMITER
// =============================================================================

// rateLimiter keeps one token bucket per client, refilled at rate tokens per
// second up to rate. At most maxBuckets clients are tracked; the least
// recently seen is dropped first.
type rateLimiter struct {
	buckets    map[string]*bucket
	rate       int
	maxBuckets int
	mu         sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

func newRateLimiter(rate int) *rateLimiter {
	rl := &rateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		maxBuckets: MaxRateLimitBuckets,
		done:       make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// allow takes a token for client, reporting false when its bucket is empty.
func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[client]
	if !ok {
		if len(rl.buckets) >= rl.maxBuckets {
			rl.dropLeastRecent()
		}
		rl.buckets[client] = &bucket{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	refill := int(now.Sub(b.lastSeen).Seconds() * float64(rl.rate))
	b.tokens = min(b.tokens+refill, rl.rate)
	b.lastSeen = now
	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// dropLeastRecent removes the bucket seen longest ago. Called with mu held.
func (rl *rateLimiter) dropLeastRecent() {
	var oldest string
	var oldestSeen time.Time
	for client, b := range rl.buckets {
		if oldest == "" || b.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen = client, b.lastSeen
		}
	}
	delete(rl.buckets, oldest)
}

func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(bucketSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.prune(now.Add(-bucketIdleTTL))
		}
	}
}

// prune drops buckets idle since before cutoff.
func (rl *rateLimiter) prune(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, client)
		}
	}
}

// stop ends the sweep goroutine. Safe to call more than once.
func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)
		r = r.WithContext(monitoring.WithRequestIDContext(r.Context(), requestID))

		g.requestLogger.LogIncoming(monitoring.NewRequestInfo(r, requestID, max(int(r.ContentLength), 0)))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		g.requestLogger.LogResponse(&monitoring.ResponseInfo{
			RequestID:  requestID,
			StatusCode: rec.status,
			Latency:    time.Since(start),
		})
	})
}

func (g *Gateway) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				g.alerts.FlagPanic(monitoring.RequestIDFromContext(r.Context()), v, string(debug.Stack()))
				g.writeError(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := g.clientIP(r)
		if !g.rateLimiter.allow(client) {
			log.Warn().Str("ip", client).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			g.writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")

		if origin := r.Header.Get("Origin"); isLocalOrigin(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderRequestID+", "+HeaderTheme)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isLocalOrigin permits CORS for development front ends on the loopback host.
func isLocalOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
}

// clientIP identifies the caller for rate limiting. Forwarding headers are
// trusted only from a loopback reverse proxy.
func (g *Gateway) clientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if remote != "127.0.0.1" && remote != "::1" {
		return remote
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return remote
}

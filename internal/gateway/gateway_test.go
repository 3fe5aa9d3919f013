package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/compresr/theme-registry/internal/adapters"
	"github.com/compresr/theme-registry/internal/callables"
	"github.com/compresr/theme-registry/internal/config"
	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/pipes"
	"github.com/compresr/theme-registry/internal/store"
	"github.com/compresr/theme-registry/internal/theme"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testExtension struct {
	info  *extensions.Info
	hooks map[string]extensions.HookDeclaration
}

func (e *testExtension) Info() *extensions.Info { return e.info }

func (e *testExtension) DeclareHooks(extensions.HookSet) map[string]extensions.HookDeclaration {
	return e.hooks
}

type nopIncluder struct{}

func (nopIncluder) Include(string) error { return nil }

func newTestGateway(t *testing.T, load bool) *Gateway {
	t.Helper()
	exts := extensions.NewStore(nil, nil)
	exts.Register(&testExtension{
		info: &extensions.Info{Name: "system", Kind: extensions.KindModule, Path: "modules/system"},
		hooks: map[string]extensions.HookDeclaration{
			"links":     {Variables: map[string]any{"links": []any{}, "heading": ""}},
			"item_list": {Variables: map[string]any{"items": []any{}}},
		},
	})
	exts.Register(&testExtension{info: &extensions.Info{Name: "stark", Kind: extensions.KindTheme, Path: "themes/stark"}})

	calls := callables.NewRegistry()
	calls.RegisterTheme("theme_links", func(_ context.Context, vars *pipes.Variables) string {
		return "<ul>" + vars.String("heading") + "</ul>"
	})
	calls.RegisterTheme("theme_item_list", func(context.Context, *pipes.Variables) string { return "<ol></ol>" })

	cache := store.NewMemoryStore(0)
	t.Cleanup(func() { _ = cache.Close() })

	d := theme.New(exts, calls, nopIncluder{}, adapters.NewRegistry(), cache, theme.Options{DefaultSkin: "stark"})
	if load {
		exts.LoadAll(nopIncluder{})
	}

	cfg := &config.Config{
		Theme:      config.ThemeConfig{Default: "stark"},
		Monitoring: config.MonitoringConfig{LogLevel: "error", LogOutput: "stderr"},
	}
	g := New(cfg, exts, d)
	t.Cleanup(func() { g.rateLimiter.stop() })
	return g
}

func do(t *testing.T, g *Gateway, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseRenderRequest(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"theme":"stark","hook":"links","variables":{"heading":"Nav","n":2}}`))
	require.NoError(t, err)
	assert.Equal(t, "stark", req.Theme)
	assert.Equal(t, "links", req.Hook)
	assert.Equal(t, []string{"heading", "n"}, req.Variables.Keys())
	assert.Equal(t, "links", req.Label())

	req, err = ParseRenderRequest([]byte(`{"hook":["missing","links"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"missing", "links"}, req.Candidates)
	assert.Equal(t, "missing", req.Label())

	req, err = ParseRenderRequest([]byte(`{"element":{"#theme":"links","#heading":"x"}}`))
	require.NoError(t, err)
	require.NotNil(t, req.Element)
	assert.Equal(t, "links", req.Label())
}

func TestParseRenderRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"hook":`},
		{"missing hook", `{"variables":{}}`},
		{"numeric hook", `{"hook":3}`},
		{"empty candidates", `{"hook":[]}`},
		{"variables not object", `{"hook":"links","variables":[1]}`},
		{"element without theme", `{"element":{"title":"x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRenderRequest([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

func TestHandleRender(t *testing.T) {
	g := newTestGateway(t, true)

	rec := do(t, g, http.MethodPost, "/render", `{"hook":"links","variables":{"heading":"Nav"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<ul>Nav</ul>", gjson.Get(rec.Body.String(), "output").String())
	assert.Equal(t, "stark", gjson.Get(rec.Body.String(), "theme").String())
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	assert.Equal(t, rec.Header().Get(HeaderRequestID), gjson.Get(rec.Body.String(), "request_id").String())
}

func TestHandleRender_CandidatesAndElement(t *testing.T) {
	g := newTestGateway(t, true)

	rec := do(t, g, http.MethodPost, "/render", `{"hook":["missing","item_list"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<ol></ol>", gjson.Get(rec.Body.String(), "output").String())

	rec = do(t, g, http.MethodPost, "/render", `{"element":{"#theme":"links","#heading":"El"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<ul>El</ul>", gjson.Get(rec.Body.String(), "output").String())
}

func TestHandleRender_KeepsRequestID(t *testing.T) {
	g := newTestGateway(t, true)
	req := httptest.NewRequest(http.MethodPost, "/render", strings.NewReader(`{"hook":"links"}`))
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-42", gjson.Get(rec.Body.String(), "request_id").String())
}

func TestHandleRender_Errors(t *testing.T) {
	g := newTestGateway(t, true)

	rec := do(t, g, http.MethodPost, "/render", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", gjson.Get(rec.Body.String(), "error.message").String())

	rec = do(t, g, http.MethodPost, "/render", `{"theme":"garland","hook":"links"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, g, http.MethodGet, "/render", ``)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleRender_NotLoaded(t *testing.T) {
	g := newTestGateway(t, false)
	rec := do(t, g, http.MethodPost, "/render", `{"hook":"links"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPanicRecovery(t *testing.T) {
	g := newTestGateway(t, true)
	h := g.panicRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", gjson.Get(rec.Body.String(), "error.message").String())
}

func TestHandleRegistry(t *testing.T) {
	g := newTestGateway(t, true)

	rec := do(t, g, http.MethodGet, "/registry", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "stark", gjson.Get(body, "theme").String())
	assert.Len(t, gjson.Get(body, "fingerprint").String(), 64)
	assert.Equal(t, int64(2), gjson.Get(body, "count").Int())
	assert.Equal(t, "theme_links", gjson.Get(body, "hooks.links.function").String())

	rec = do(t, g, http.MethodGet, "/registry?theme=garland", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRebuild(t *testing.T) {
	g := newTestGateway(t, true)
	do(t, g, http.MethodGet, "/registry", ``)

	rec := do(t, g, http.MethodPost, "/rebuild", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rebuilt", gjson.Get(rec.Body.String(), "status").String())
	assert.Equal(t, int64(1), g.metrics.Stats()["rebuilds"])
}

func TestHandleHealthAndStats(t *testing.T) {
	g := newTestGateway(t, true)

	rec := do(t, g, http.MethodGet, "/health", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "loaded").Bool())

	do(t, g, http.MethodPost, "/render", `{"hook":"links"}`)
	rec = do(t, g, http.MethodGet, "/stats", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "renders").Int())
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestSecurityHeaders(t *testing.T) {
	g := newTestGateway(t, true)
	req := httptest.NewRequest(http.MethodOptions, "/render", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderTheme)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit_Rejects(t *testing.T) {
	g := newTestGateway(t, true)
	g.rateLimiter.stop()
	g.rateLimiter = newRateLimiter(1)
	t.Cleanup(g.rateLimiter.stop)

	assert.Equal(t, http.StatusOK, do(t, g, http.MethodGet, "/health", ``).Code)
	rec := do(t, g, http.MethodGet, "/health", ``)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", gjson.Get(rec.Body.String(), "error.message").String())
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2)
	defer rl.stop()

	assert.True(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"))

	rl.buckets["1.2.3.4"].lastSeen = time.Now().Add(-time.Second)
	assert.True(t, rl.allow("1.2.3.4"), "tokens refill over time")
}

func TestRateLimiter_DropsLeastRecent(t *testing.T) {
	rl := newRateLimiter(1)
	defer rl.stop()
	rl.maxBuckets = 2

	rl.allow("a")
	rl.buckets["a"].lastSeen = time.Now().Add(-time.Minute)
	rl.allow("b")
	rl.allow("c")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.buckets, 2)
	assert.NotContains(t, rl.buckets, "a")
}

func TestRateLimiter_Prune(t *testing.T) {
	rl := newRateLimiter(1)
	rl.stop()
	rl.stop()

	rl.allow("idle")
	rl.allow("active")
	rl.buckets["idle"].lastSeen = time.Now().Add(-time.Hour)
	rl.prune(time.Now().Add(-bucketIdleTTL))

	assert.NotContains(t, rl.buckets, "idle")
	assert.Contains(t, rl.buckets, "active")
}

func TestClientIP(t *testing.T) {
	g := newTestGateway(t, true)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", g.clientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "10.0.0.9")
	assert.Equal(t, "10.0.0.9", g.clientIP(req))

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "127.0.0.1", g.clientIP(req))

	req.RemoteAddr = "8.8.8.8:5555"
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	assert.Equal(t, "8.8.8.8", g.clientIP(req), "forwarding headers from remote clients are ignored")
}

package store_test

// Store Tests - cache bin behaviour shared by both implementations.

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/compresr/theme-registry/internal/store"
)

type payload struct {
	Name  string         `cbor:"name"`
	Hooks map[string]int `cbor:"hooks"`
}

// implementations returns a fresh instance of every Store for table tests.
func implementations(t *testing.T) map[string]store.Store {
	t.Helper()
	sqlStore, err := store.OpenSQLStore(context.Background(), filepath.Join(t.TempDir(), "cache.db"), "cache_bootstrap")
	require.NoError(t, err)

	stores := map[string]store.Store{
		"memory": store.NewMemoryStore(time.Minute),
		"sqlite": sqlStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStore_SetAndGetRaw(t *testing.T) {
	ctx := context.Background()
	for name, st := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			st.Set(ctx, store.DefaultBin, "greeting", "hello", store.Permanent)

			e, ok := st.Get(ctx, store.DefaultBin, "greeting")
			require.True(t, ok)
			assert.False(t, e.Serialized)

			var got string
			require.NoError(t, e.Decode(&got))
			assert.Equal(t, "hello", got)
		})
	}
}

func TestStore_SetAndGetSerialized(t *testing.T) {
	ctx := context.Background()
	for name, st := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			want := payload{Name: "seven", Hooks: map[string]int{"links": 1, "node": 2}}
			st.Set(ctx, store.DefaultBin, "theme_registry:seven", want, store.Permanent)

			e, ok := st.Get(ctx, store.DefaultBin, "theme_registry:seven")
			require.True(t, ok)
			assert.True(t, e.Serialized)
			assert.False(t, e.Created.IsZero())

			var got payload
			require.NoError(t, e.Decode(&got))
			assert.Equal(t, want, got)
		})
	}
}

func TestStore_ExpiredIsMiss(t *testing.T) {
	ctx := context.Background()
	for name, st := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			st.Set(ctx, store.DefaultBin, "old", "v", time.Now().Add(-time.Hour).Unix())
			st.Set(ctx, store.DefaultBin, "fresh", "v", time.Now().Add(time.Hour).Unix())

			_, ok := st.Get(ctx, store.DefaultBin, "old")
			assert.False(t, ok)
			_, ok = st.Get(ctx, store.DefaultBin, "fresh")
			assert.True(t, ok)
		})
	}
}

func TestStore_ClearModes(t *testing.T) {
	ctx := context.Background()
	for name, st := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			st.Set(ctx, store.DefaultBin, "theme_registry:seven", "a", store.Permanent)
			st.Set(ctx, store.DefaultBin, "theme_registry:build:modules", "b", store.Permanent)
			st.Set(ctx, store.DefaultBin, "menu:main", "c", store.Permanent)
			st.Set(ctx, store.DefaultBin, "temp", "d", store.Temporary)

			// General clear only drops temporary entries.
			require.NoError(t, st.Clear(ctx, store.DefaultBin, "", false))
			_, ok := st.Get(ctx, store.DefaultBin, "temp")
			assert.False(t, ok)
			_, ok = st.Get(ctx, store.DefaultBin, "menu:main")
			assert.True(t, ok)

			// Prefix clear.
			require.NoError(t, st.Clear(ctx, store.DefaultBin, "theme_registry", true))
			_, ok = st.Get(ctx, store.DefaultBin, "theme_registry:seven")
			assert.False(t, ok)
			_, ok = st.Get(ctx, store.DefaultBin, "theme_registry:build:modules")
			assert.False(t, ok)
			_, ok = st.Get(ctx, store.DefaultBin, "menu:main")
			assert.True(t, ok)

			// Exact clear.
			require.NoError(t, st.Clear(ctx, store.DefaultBin, "menu:main", false))
			_, ok = st.Get(ctx, store.DefaultBin, "menu:main")
			assert.False(t, ok)
		})
	}
}

func TestStore_TruncateCacheBin(t *testing.T) {
	ctx := context.Background()
	for name, st := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			st.Set(ctx, "cache_bootstrap", "a", "1", store.Permanent)
			st.Set(ctx, "cache_bootstrap", "b", "2", store.Permanent)

			require.NoError(t, st.Clear(ctx, "cache_bootstrap", store.Wildcard, true))

			_, ok := st.Get(ctx, "cache_bootstrap", "a")
			assert.False(t, ok)
		})
	}
}

func TestMemoryStore_TruncateUnknownBin(t *testing.T) {
	st := store.NewMemoryStore(time.Minute)
	defer st.Close()

	err := st.Clear(context.Background(), "variables", store.Wildcard, true)
	assert.ErrorIs(t, err, store.ErrInvalidBin)
}

func TestMemoryStore_CloseStopsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := store.NewMemoryStore(time.Millisecond)
	st.Set(context.Background(), store.DefaultBin, "k", "v", store.Permanent)
	require.NoError(t, st.Close())

	st.Set(context.Background(), store.DefaultBin, "k2", "v", store.Permanent)
	_, ok := st.Get(context.Background(), store.DefaultBin, "k2")
	assert.False(t, ok, "writes after Close are dropped")
}

func TestEntry_DecodeRawIntoStructFails(t *testing.T) {
	e := &store.Entry{CID: "x", Data: []byte("raw")}
	var p payload
	assert.Error(t, e.Decode(&p))
}

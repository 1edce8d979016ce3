package redis

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fetchup "github.com/sleepcha/Fetchup"
)

func dialTest(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("FETCHUP_REDIS_ADDR")
	if addr == "" {
		t.Skip("FETCHUP_REDIS_ADDR not set")
	}
	store, err := Dial(context.Background(), addr, "", 0, Config{
		KeyPrefix: "fetchup-test-" + uuid.NewString(),
		TTL:       time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBuildFullKey(t *testing.T) {
	prefixed := New(nil, Config{KeyPrefix: "app"})
	assert.Equal(t, "app:GET:https://example.com/", prefixed.buildFullKey("GET:https://example.com/"))

	bare := New(nil, Config{})
	assert.Equal(t, "k", bare.buildFullKey("k"))
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := dialTest(t)

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	entry := &fetchup.CacheEntry{Body: []byte("payload"), StatusCode: http.StatusOK, StoredAt: time.Now().UTC()}
	require.NoError(t, store.Set(ctx, "k", entry))

	got, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.Body, got.Body)
	assert.True(t, entry.StoredAt.Equal(got.StoredAt))

	require.NoError(t, store.Delete(ctx, "k"))
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exerciseStore(t *testing.T, s ports.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, core.KeyAccessToken)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Set(ctx, core.KeyAccessToken, "access"))
	require.NoError(t, s.Set(ctx, core.KeyRefreshToken, "refresh"))
	require.NoError(t, s.Set(ctx, core.KeySidebarCollapsed, "true"))

	got, err := s.Get(ctx, core.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access", got)

	require.NoError(t, s.Delete(ctx, core.SessionKeys...))

	_, err = s.Get(ctx, core.KeyRefreshToken)
	assert.ErrorIs(t, err, core.ErrNotFound)

	got, err = s.Get(ctx, core.KeySidebarCollapsed)
	require.NoError(t, err)
	assert.Equal(t, "true", got)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "")
	exerciseStore(t, s)

	require.NoError(t, s.Set(context.Background(), core.KeyAPIKey, "key"))
	assert.True(t, mr.Exists("sandbox:"+core.KeyAPIKey))
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.json")

	s, err := NewFileStore(path, zap.NewNop())
	require.NoError(t, err)
	exerciseStore(t, s)

	// survives a reload
	reloaded, err := NewFileStore(path, zap.NewNop())
	require.NoError(t, err)
	got, err := reloaded.Get(context.Background(), core.KeySidebarCollapsed)
	require.NoError(t, err)
	assert.Equal(t, "true", got)
}

func TestFileStore_CorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := NewFileStore(path, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), core.KeyAccessToken)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Set(context.Background(), core.KeyAccessToken, "fresh"))
}

package redisfs

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenvfs/internal/backend"
	"xenvfs/internal/backend/backendtest"
)

func TestConformance(t *testing.T) {
	s := miniredis.RunT(t)
	n := 0

	backendtest.Run(t, func(t *testing.T) backend.Backend {
		n++
		tree, err := New(context.Background(), Config{Addr: s.Addr(), Namespace: fmt.Sprintf("case%d", n)})
		require.NoError(t, err)
		t.Cleanup(func() { tree.Close() })
		return tree
	})
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	a := NewWithClient(rdb, "a")
	b := NewWithClient(rdb, "b")
	require.NoError(t, a.Write(ctx, "/only-in-a", []byte("1")))

	_, err := b.Stat(ctx, "/only-in-a")
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.True(t, s.Exists("a:tree"))

	require.NoError(t, a.Close(), "borrowed client is left open")
	require.NoError(t, rdb.Ping(ctx).Err())
}

func TestNewFailsWithoutServer(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	_, err := New(context.Background(), Config{Addr: addr})
	assert.ErrorContains(t, err, "failed to reach redis")
}

package hostfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenvfs/internal/backend"
	"xenvfs/internal/backend/backendtest"
)

func TestConformanceMemMap(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		return New(afero.NewMemMapFs())
	})
}

func TestConformanceOS(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		h, err := NewOS(t.TempDir())
		require.NoError(t, err)
		return h
	})
}

func TestNewOSRejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewOS(file)
	assert.ErrorContains(t, err, "not a directory")

	_, err = NewOS(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestHostContentVisible(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "host.txt"), []byte("from host"), 0o644))

	h, err := NewOS(root)
	require.NoError(t, err)

	got, err := h.Read(ctx, "/host.txt")
	require.NoError(t, err)
	assert.Equal(t, "from host", string(got))

	require.NoError(t, h.Write(ctx, "/guest.txt", []byte("from guest")))
	onDisk, err := os.ReadFile(filepath.Join(root, "guest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from guest", string(onDisk))
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	h := New(afero.NewMemMapFs())
	require.NoError(t, h.Mkdir(ctx, "/a"))
	require.NoError(t, h.Write(ctx, "/a/f", []byte("x")))

	require.NoError(t, h.Move(ctx, "/a", "/b"))
	got, err := h.Read(ctx, "/b/f")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	assert.ErrorIs(t, h.Move(ctx, "/b", "/b/c"), backend.ErrInvalid)
	assert.ErrorIs(t, h.Move(ctx, "/b/f", "/b"), backend.ErrInvalid)
	ok, err := afero.Exists(h.fs, "/b/f")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, h.Move(ctx, "/nope", "/c"), backend.ErrNotFound)
}

// Package backendtest holds the behaviour every backend.Backend
// implementation must share, so each backend package can run the same
// checks against its own storage.
package backendtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenvfs/internal/backend"
)

// Run exercises b, which must be empty.
func Run(t *testing.T, newBackend func(t *testing.T) backend.Backend) {
	t.Run("MkdirCreatesParents", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		require.NoError(t, b.Mkdir(ctx, "/a/b/c"))
		require.NoError(t, b.Mkdir(ctx, "/a/b"))
		st, err := b.Stat(ctx, "/a/b/c")
		require.NoError(t, err)
		assert.True(t, st.IsDirectory)
		assert.False(t, st.IsFile)
		assert.Empty(t, st.MIME)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		payloads := map[string][]byte{
			"/empty.bin": {},
			"/text.txt":  []byte("hello, world"),
			"/bin.dat":   {0x00, 0xff, 0x10, 0x00, 0x7f},
		}
		for p, data := range payloads {
			require.NoError(t, b.Write(ctx, p, data))
		}
		for p, data := range payloads {
			got, err := b.Read(ctx, p)
			require.NoError(t, err, p)
			assert.Equal(t, len(data), len(got), p)
			if len(data) > 0 {
				assert.Equal(t, data, got, p)
			}
		}

		require.NoError(t, b.Write(ctx, "/text.txt", []byte("short")))
		got, err := b.Read(ctx, "/text.txt")
		require.NoError(t, err)
		assert.Equal(t, "short", string(got), "write truncates")
	})

	t.Run("ListOrder", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		require.NoError(t, b.Mkdir(ctx, "/a/b"))
		require.NoError(t, b.Write(ctx, "/a.txt", []byte("1")))
		require.NoError(t, b.Write(ctx, "/a/b/c.txt", []byte("2")))
		require.NoError(t, b.Write(ctx, "/z", []byte("3")))

		top, err := b.List(ctx, "/", false)
		require.NoError(t, err)
		assert.Equal(t, []backend.FileEntryInfo{
			{Name: "a", IsDirectory: true},
			{Name: "a.txt", IsFile: true},
			{Name: "z", IsFile: true},
		}, top)

		all, err := b.List(ctx, "/", true)
		require.NoError(t, err)
		names := make([]string, 0, len(all))
		for _, e := range all {
			names = append(names, e.Name)
		}
		assert.Equal(t, []string{"a", "a/b", "a/b/c.txt", "a.txt", "z"}, names)

		sub, err := b.List(ctx, "/a", true)
		require.NoError(t, err)
		assert.Equal(t, []backend.FileEntryInfo{
			{Name: "b", IsDirectory: true},
			{Name: "b/c.txt", IsFile: true},
		}, sub)
	})

	t.Run("Errors", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		require.NoError(t, b.Mkdir(ctx, "/dir"))
		require.NoError(t, b.Write(ctx, "/file", []byte("x")))

		_, err := b.Read(ctx, "/missing")
		assert.ErrorIs(t, err, backend.ErrNotFound)
		_, err = b.Stat(ctx, "/missing")
		assert.ErrorIs(t, err, backend.ErrNotFound)
		_, err = b.Read(ctx, "/dir")
		assert.ErrorIs(t, err, backend.ErrIsDirectory)
		_, err = b.List(ctx, "/file", false)
		assert.ErrorIs(t, err, backend.ErrNotDirectory)
		_, err = b.List(ctx, "/missing", false)
		assert.ErrorIs(t, err, backend.ErrNotFound)
		assert.ErrorIs(t, b.Write(ctx, "/dir", nil), backend.ErrIsDirectory)
		assert.ErrorIs(t, b.Write(ctx, "/nowhere/f", nil), backend.ErrNotFound)
		assert.ErrorIs(t, b.Mkdir(ctx, "/file/sub"), backend.ErrNotDirectory)
		assert.ErrorIs(t, b.Rm(ctx, "/missing"), backend.ErrNotFound)
	})

	t.Run("RmRecursive", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		require.NoError(t, b.Mkdir(ctx, "/d/e"))
		require.NoError(t, b.Write(ctx, "/d/e/f", []byte("x")))
		require.NoError(t, b.Write(ctx, "/d2", []byte("y")))

		require.NoError(t, b.Rm(ctx, "/d"))
		_, err := b.Stat(ctx, "/d/e/f")
		assert.ErrorIs(t, err, backend.ErrNotFound)
		_, err = b.Stat(ctx, "/d2")
		require.NoError(t, err, "sibling sharing a name prefix survives")

		require.NoError(t, b.Rm(ctx, "/"))
		entries, err := b.List(ctx, "/", true)
		require.NoError(t, err)
		assert.Empty(t, entries)
		st, err := b.Stat(ctx, "/")
		require.NoError(t, err)
		assert.True(t, st.IsDirectory)
	})

	t.Run("StatFile", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		require.NoError(t, b.Mkdir(ctx, "/docs"))
		require.NoError(t, b.Write(ctx, "/docs/page.html", []byte("<p>hi</p>")))
		st, err := b.Stat(ctx, "/docs/page.html")
		require.NoError(t, err)
		assert.Equal(t, "page.html", st.Name)
		assert.Equal(t, int64(9), st.Size)
		assert.True(t, st.IsFile)
		assert.Contains(t, st.MIME, "text/html")
		assert.False(t, st.LastModified.IsZero())
	})
}

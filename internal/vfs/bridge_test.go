package vfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenvfs/internal/backend"
	"xenvfs/internal/backend/memfs"
)

// plainBackend hides the optional capabilities of the wrapped backend.
type plainBackend struct {
	backend.Backend
}

// ctxBackend fails writes once the caller's context is done.
type ctxBackend struct {
	*memfs.FS
}

func (b ctxBackend) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.FS.Write(ctx, p, data)
}

func seedTree(t *testing.T, m *Manager, dir string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.Mkdir(ctx, dir+"/inner/empty"))
	require.NoError(t, m.Write(ctx, dir+"/top.txt", Text("top")))
	require.NoError(t, m.Write(ctx, dir+"/inner/blob.bin", Binary([]byte{0, 1, 2})))
}

func assertTree(t *testing.T, m *Manager, dir string) {
	t.Helper()
	ctx := context.Background()
	entries, err := m.List(ctx, dir, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"inner", "inner/blob.bin", "inner/empty", "top.txt"}, names(entries))

	got, err := m.Read(ctx, dir+"/inner/blob.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got)
	text, err := m.ReadText(ctx, dir+"/top.txt")
	require.NoError(t, err)
	assert.Equal(t, "top", text)
}

func TestCopyAndMove(t *testing.T) {
	tests := []struct {
		name  string
		mount func(*Manager) error
		op    string
		src   string
		dest  string
	}{
		{"copy within backend", nil, OpCopy, "/src", "/dest"},
		{"move within backend", nil, OpMove, "/src", "/dest"},
		{"copy across backends", func(m *Manager) error { return m.Mount("/other", memfs.New()) }, OpCopy, "/src", "/other/dest"},
		{"move across backends", func(m *Manager) error { return m.Mount("/other", memfs.New()) }, OpMove, "/src", "/other/dest"},
		{"copy without native support", func(m *Manager) error { return m.Mount("/plain", plainBackend{memfs.New()}) }, OpCopy, "/plain/src", "/plain/dest"},
		{"move without native support", func(m *Manager) error { return m.Mount("/plain", plainBackend{memfs.New()}) }, OpMove, "/plain/src", "/plain/dest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m, _ := newTestManager(t)
			if tt.mount != nil {
				require.NoError(t, tt.mount(m))
			}
			seedTree(t, m, tt.src)

			if tt.op == OpCopy {
				require.NoError(t, m.Copy(ctx, tt.src, tt.dest))
				assertTree(t, m, tt.src)
			} else {
				require.NoError(t, m.Move(ctx, tt.src, tt.dest))
				ok, err := m.Exists(ctx, tt.src)
				require.NoError(t, err)
				assert.False(t, ok, "source is gone after move")
			}
			assertTree(t, m, tt.dest)
		})
	}
}

func TestCopyIsDeep(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.Write(ctx, "/a.txt", Text("one")))
	require.NoError(t, m.Copy(ctx, "/a.txt", "/b.txt"))
	require.NoError(t, m.Write(ctx, "/a.txt", Text("two")))

	got, err := m.ReadText(ctx, "/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", got)
}

func TestMoveDurability(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	a := memfs.New(memfs.WithName("a"))
	b := memfs.New(memfs.WithName("b"))
	require.NoError(t, m.Mount("/mntA", a))
	require.NoError(t, m.Mount("/mntB", b))
	require.NoError(t, m.Write(ctx, "/mntA/file", Binary([]byte("precious"))))

	boom := errors.New("disk full")
	b.InjectFault(memfs.OpWrite, "/file2", boom)

	err := m.Move(ctx, "/mntA/file", "/mntB/file2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrossBackendBridge)
	assert.ErrorIs(t, err, boom)

	var bErr *BridgeError
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, OpMove, bErr.Op)
	assert.Equal(t, "/mntA/file", bErr.Src)
	assert.Equal(t, "/mntB/file2", bErr.Dest)

	got, err := m.Read(ctx, "/mntA/file")
	require.NoError(t, err)
	assert.Equal(t, []byte("precious"), got)
}

func TestMoveDurabilityPartialTree(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	dest := memfs.New()
	require.NoError(t, m.Mount("/dest", dest))
	seedTree(t, m, "/src")

	dest.InjectFault(memfs.OpWrite, "/moved/top.txt", assert.AnError)

	err := m.Move(ctx, "/src", "/dest/moved")
	assert.ErrorIs(t, err, ErrCrossBackendBridge)
	assertTree(t, m, "/src")
}

func TestMoveRemovalFailure(t *testing.T) {
	ctx := context.Background()
	m, root := newTestManager(t)
	require.NoError(t, m.Mount("/other", memfs.New()))
	require.NoError(t, m.Write(ctx, "/f", Text("x")))
	root.InjectFault(memfs.OpRm, "/f", assert.AnError)

	err := m.Move(ctx, "/f", "/other/f")
	assert.ErrorIs(t, err, ErrCrossBackendBridge)

	got, err := m.ReadText(ctx, "/other/f")
	require.NoError(t, err)
	assert.Equal(t, "x", got, "destination is complete")
	got, err = m.ReadText(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "x", got, "source is kept")
}

func TestBridgeIgnoresCancellation(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Mount("/other", ctxBackend{memfs.New()}))
	require.NoError(t, m.Write(context.Background(), "/f", Text("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Move(ctx, "/f", "/other/f"))

	got, err := m.ReadText(context.Background(), "/other/f")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestCopyAcrossNestedMount(t *testing.T) {
	ctx := context.Background()
	m, root := newTestManager(t)
	require.NoError(t, m.Mkdir(ctx, "/proj"))
	require.NoError(t, m.Write(ctx, "/proj/a.txt", Text("a")))
	require.NoError(t, m.Mount("/proj/mnt", memfs.New()))
	require.NoError(t, m.Write(ctx, "/proj/mnt/b.txt", Text("b")))

	require.NoError(t, m.Copy(ctx, "/proj", "/copy"))

	got, err := root.Read(ctx, "/copy/mnt/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b", string(got), "content below the nested mount is copied")
	got, err = root.Read(ctx, "/copy/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))
}

func TestTransferErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.Mount("/other", memfs.New()))
	require.NoError(t, m.Mkdir(ctx, "/a/b"))

	assert.ErrorIs(t, m.Copy(ctx, "/a", "/a/b/c"), ErrInvalidPath)
	assert.ErrorIs(t, m.Move(ctx, "/", "/x"), ErrInvalidPath)
	assert.NoError(t, m.Move(ctx, "/a", "/a/../a"), "same path is a no-op")

	err := m.Move(ctx, "/missing", "/other/x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrCrossBackendBridge)

	ok, err := m.Exists(ctx, "/a/b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTransferOntoAncestor(t *testing.T) {
	ctx := context.Background()
	layouts := []struct {
		name  string
		mount func(t *testing.T, m *Manager)
	}{
		{"same backend", func(t *testing.T, m *Manager) {}},
		{"without native transfer", func(t *testing.T, m *Manager) {
			require.NoError(t, m.Mount("/a", plainBackend{memfs.New()}))
		}},
		{"across mounts", func(t *testing.T, m *Manager) {
			require.NoError(t, m.Mount("/a/b", memfs.New()))
		}},
	}

	for _, layout := range layouts {
		for _, op := range []string{OpCopy, OpMove} {
			t.Run(layout.name+"/"+op, func(t *testing.T) {
				m, _ := newTestManager(t)
				layout.mount(t, m)
				require.NoError(t, m.Mkdir(ctx, "/a/b"))
				require.NoError(t, m.Write(ctx, "/a/keep.txt", Text("keep")))
				require.NoError(t, m.Write(ctx, "/a/b/x.txt", Text("x")))

				var err error
				if op == OpCopy {
					err = m.Copy(ctx, "/a/b", "/a")
				} else {
					err = m.Move(ctx, "/a/b", "/a")
				}
				assert.ErrorIs(t, err, ErrInvalidPath)
				assert.ErrorIs(t, m.Move(ctx, "/a/b/x.txt", "/"), ErrInvalidPath)

				for _, p := range []string{"/a/keep.txt", "/a/b/x.txt"} {
					ok, err := m.Exists(ctx, p)
					require.NoError(t, err)
					assert.True(t, ok, "%s must survive", p)
				}
			})
		}
	}
}

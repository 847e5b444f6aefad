package fusefs

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	"bazil.org/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenvfs/internal/backend"
	"xenvfs/internal/backend/memfs"
	"xenvfs/internal/vfs"
)

func setupTestFS(t *testing.T) (*FS, *vfs.Manager, *Dir) {
	t.Helper()
	m, err := vfs.NewManager(memfs.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	f := New(m)
	root, err := f.Root()
	require.NoError(t, err)
	return f, m, root.(*Dir)
}

func direntNames(entries []fuse.Dirent) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestDirOperations(t *testing.T) {
	ctx := context.Background()
	_, m, root := setupTestFS(t)
	require.NoError(t, m.Mount("/mnt/usb", memfs.New()))
	require.NoError(t, m.Write(ctx, "/file1.txt", vfs.Text("test")))

	t.Run("RootDirectory", func(t *testing.T) {
		attr := &fuse.Attr{}
		require.NoError(t, root.Attr(ctx, attr))
		assert.True(t, attr.Mode.IsDir())

		entries, err := root.ReadDirAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{".", "..", "file1.txt", "mnt"}, direntNames(entries))
	})

	t.Run("Mkdir", func(t *testing.T) {
		node, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "dir1"})
		require.NoError(t, err)
		assert.Equal(t, "/dir1", node.(*Dir).path)

		_, err = root.Mkdir(ctx, &fuse.MkdirRequest{Name: "dir1"})
		assert.Equal(t, syscall.EEXIST, err)
	})

	t.Run("LookupThroughMount", func(t *testing.T) {
		mnt, err := root.Lookup(ctx, "mnt")
		require.NoError(t, err)
		usb, err := mnt.(*Dir).Lookup(ctx, "usb")
		require.NoError(t, err)
		assert.Equal(t, "/mnt/usb", usb.(*Dir).path)

		_, err = root.Lookup(ctx, "nope")
		assert.Equal(t, syscall.ENOENT, err)
	})

	t.Run("Remove", func(t *testing.T) {
		_, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "full"})
		require.NoError(t, err)
		require.NoError(t, m.Write(ctx, "/full/x", vfs.Text("x")))

		assert.Equal(t, syscall.ENOTEMPTY, root.Remove(ctx, &fuse.RemoveRequest{Name: "full", Dir: true}))
		assert.Equal(t, syscall.EISDIR, root.Remove(ctx, &fuse.RemoveRequest{Name: "full"}))
		assert.Equal(t, syscall.ENOTDIR, root.Remove(ctx, &fuse.RemoveRequest{Name: "file1.txt", Dir: true}))

		require.NoError(t, root.Remove(ctx, &fuse.RemoveRequest{Name: "dir1", Dir: true}))
		ok, err := m.Exists(ctx, "/dir1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RenameAcrossMounts", func(t *testing.T) {
		mnt, err := root.Lookup(ctx, "mnt")
		require.NoError(t, err)
		usb, err := mnt.(*Dir).Lookup(ctx, "usb")
		require.NoError(t, err)

		require.NoError(t, root.Rename(ctx, &fuse.RenameRequest{OldName: "file1.txt", NewName: "moved.txt"}, usb))
		got, err := m.ReadText(ctx, "/mnt/usb/moved.txt")
		require.NoError(t, err)
		assert.Equal(t, "test", got)
		_, err = root.Lookup(ctx, "file1.txt")
		assert.Equal(t, syscall.ENOENT, err)
	})
}

func TestFileOperations(t *testing.T) {
	ctx := context.Background()
	_, m, root := setupTestFS(t)
	testContent := []byte("test file content")
	require.NoError(t, m.Write(ctx, "/testfile.txt", vfs.Binary(testContent)))

	node, err := root.Lookup(ctx, "testfile.txt")
	require.NoError(t, err)
	file := node.(*File)

	t.Run("FileAttributes", func(t *testing.T) {
		attr := &fuse.Attr{}
		require.NoError(t, file.Attr(ctx, attr))
		assert.False(t, attr.Mode.IsDir())
		assert.Equal(t, uint64(len(testContent)), attr.Size)
	})

	t.Run("FileReading", func(t *testing.T) {
		h, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, &fuse.OpenResponse{})
		require.NoError(t, err)
		fh := h.(*FileHandle)

		resp := &fuse.ReadResponse{}
		require.NoError(t, fh.Read(ctx, &fuse.ReadRequest{Offset: 5, Size: 4}, resp))
		assert.Equal(t, "file", string(resp.Data))

		require.NoError(t, fh.Read(ctx, &fuse.ReadRequest{Offset: 100, Size: 4}, resp))
		assert.Empty(t, resp.Data)
		require.NoError(t, fh.Release(ctx, &fuse.ReleaseRequest{}))
	})

	t.Run("FileWriting", func(t *testing.T) {
		h, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadWrite}, &fuse.OpenResponse{})
		require.NoError(t, err)
		fh := h.(*FileHandle)

		wresp := &fuse.WriteResponse{}
		require.NoError(t, fh.Write(ctx, &fuse.WriteRequest{Offset: 0, Data: []byte("TEST")}, wresp))
		assert.Equal(t, 4, wresp.Size)
		require.NoError(t, fh.Write(ctx, &fuse.WriteRequest{Offset: 20, Data: []byte("!")}, wresp))

		before, err := m.ReadText(ctx, "/testfile.txt")
		require.NoError(t, err)
		assert.Equal(t, string(testContent), before, "writes are buffered until flush")

		require.NoError(t, fh.Flush(ctx, &fuse.FlushRequest{}))
		got, err := m.Read(ctx, "/testfile.txt")
		require.NoError(t, err)
		assert.Equal(t, append([]byte("TEST file content\x00\x00\x00"), '!'), got)
		require.NoError(t, fh.Release(ctx, &fuse.ReleaseRequest{}))
	})

	t.Run("Truncate", func(t *testing.T) {
		resp := &fuse.SetattrResponse{}
		require.NoError(t, file.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 4}, resp))
		assert.Equal(t, uint64(4), resp.Attr.Size)

		h, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenWriteOnly | fuse.OpenTruncate}, &fuse.OpenResponse{})
		require.NoError(t, err)
		require.NoError(t, h.(*FileHandle).Release(ctx, &fuse.ReleaseRequest{}))
		got, err := m.Read(ctx, "/testfile.txt")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Create", func(t *testing.T) {
		node, h, err := root.Create(ctx, &fuse.CreateRequest{Name: "new.bin"}, &fuse.CreateResponse{})
		require.NoError(t, err)
		assert.Equal(t, "/new.bin", node.(*File).path)

		fh := h.(*FileHandle)
		require.NoError(t, fh.Write(ctx, &fuse.WriteRequest{Data: []byte{0, 1, 2}}, &fuse.WriteResponse{}))
		require.NoError(t, fh.Release(ctx, &fuse.ReleaseRequest{}))

		got, err := m.Read(ctx, "/new.bin")
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 1, 2}, got)
	})
}

func TestSymlinks(t *testing.T) {
	ctx := context.Background()
	_, m, root := setupTestFS(t)
	require.NoError(t, m.Mkdir(ctx, "/docs/deep"))
	require.NoError(t, m.Write(ctx, "/docs/readme.txt", vfs.Text("r")))

	docs, err := root.Lookup(ctx, "docs")
	require.NoError(t, err)
	deep, err := docs.(*Dir).Lookup(ctx, "deep")
	require.NoError(t, err)

	node, err := deep.(*Dir).Symlink(ctx, &fuse.SymlinkRequest{NewName: "link", Target: "../readme.txt"})
	require.NoError(t, err)
	assert.Equal(t, "/docs/readme.txt", node.(*Symlink).target)

	target, err := m.Readlink(ctx, "/docs/deep/link")
	require.NoError(t, err)
	assert.Equal(t, "/docs/readme.txt", target)

	looked, err := deep.(*Dir).Lookup(ctx, "link")
	require.NoError(t, err)
	link, ok := looked.(*Symlink)
	require.True(t, ok, "link files are presented as symlinks")

	host, err := link.Readlink(ctx, &fuse.ReadlinkRequest{})
	require.NoError(t, err)
	assert.Equal(t, "../readme.txt", host)

	attr := &fuse.Attr{}
	require.NoError(t, link.Attr(ctx, attr))
	assert.Equal(t, os.ModeSymlink, attr.Mode&os.ModeSymlink)
}

func TestToFuseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"not found", &vfs.Error{Op: "read", Path: "/x", Err: vfs.ErrNotFound}, syscall.ENOENT},
		{"os not exist", os.ErrNotExist, syscall.ENOENT},
		{"not a directory", vfs.ErrNotADirectory, syscall.ENOTDIR},
		{"is a directory", backend.ErrIsDirectory, syscall.EISDIR},
		{"invalid path", vfs.ErrInvalidPath, syscall.EINVAL},
		{"not a link", vfs.ErrNotALink, syscall.EINVAL},
		{"exists", backend.ErrExist, syscall.EEXIST},
		{"not empty", backend.ErrNotEmpty, syscall.ENOTEMPTY},
		{"busy", vfs.ErrMountBusy, syscall.EBUSY},
		{"permission", os.ErrPermission, syscall.EACCES},
		{"closed", vfs.ErrClosed, syscall.ENXIO},
		{"bridge", &vfs.BridgeError{Op: "move", Src: "/a", Dest: "/b", Err: errors.New("boom")}, syscall.EIO},
		{"unknown", errors.New("mystery"), syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToFuseError(tt.err))
		})
	}
}

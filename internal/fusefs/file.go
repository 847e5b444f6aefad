package fusefs

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"bazil.org/fuse"
	fs "bazil.org/fuse/fs"

	"xenvfs/internal/logging"
	"xenvfs/internal/vfs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a regular file of the namespace.
type File struct {
	fs   *FS
	path string
}

var (
	_ fs.Node          = (*File)(nil)
	_ fs.NodeOpener    = (*File)(nil)
	_ fs.NodeSetattrer = (*File)(nil)
	_ fs.NodeFsyncer   = (*File)(nil)
)

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.path)

	st, err := f.fs.manager.Stat(ctx, f.path)
	if err != nil {
		return fail(OpGetattr, f.path, err)
	}

	a.Mode = 0644
	a.Size = safeInt64ToUint64(st.Size)
	a.Mtime = st.LastModified
	a.Atime = st.LastModified // We don't track access time
	a.Ctime = st.LastModified // We don't track change time
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = 4096
	a.Blocks = safeInt64ToUint64((st.Size + 511) / 512)
	return nil
}

// Open implements the NodeOpener interface. The content is loaded into the
// handle and written back on flush.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	fileLogger.Debug("Opening file %q with flags %v", f.path, req.Flags)

	h := &FileHandle{fs: f.fs, path: f.path}
	if req.Flags&fuse.OpenTruncate != 0 {
		h.data = []byte{}
		h.dirty = true
		return h, nil
	}

	data, err := f.fs.manager.Read(ctx, f.path)
	if err != nil {
		fileLogger.Error("Failed to open file %q: %v", f.path, err)
		return nil, fail(OpOpen, f.path, err)
	}
	h.data = data
	return h, nil
}

// Setattr implements the NodeSetattrer interface. Only size changes are
// applied; ownership, mode and times are fixed.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		fileLogger.Debug("Truncating %q to %d bytes", f.path, req.Size)
		data, err := f.fs.manager.Read(ctx, f.path)
		if err != nil {
			return fail(OpSetattr, f.path, err)
		}
		data = resize(data, int(req.Size))
		if err := f.fs.manager.Write(ctx, f.path, vfs.Binary(data)); err != nil {
			return fail(OpSetattr, f.path, err)
		}
	}
	return f.Attr(ctx, &resp.Attr)
}

// Fsync implements the NodeFsyncer interface. Handles write through on
// flush, so there is nothing left to sync.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return nil
}

// FileHandle is an open file. Writes are buffered and stored through the
// manager when the handle is flushed or released.
type FileHandle struct {
	fs    *FS
	path  string
	mu    sync.Mutex
	data  []byte
	dirty bool
}

var (
	_ fs.HandleReader   = (*FileHandle)(nil)
	_ fs.HandleWriter   = (*FileHandle)(nil)
	_ fs.HandleFlusher  = (*FileHandle)(nil)
	_ fs.HandleReleaser = (*FileHandle)(nil)
)

// Read implements the HandleReader interface, reading data from the buffer.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, fh.path, req.Offset)
	if req.Offset >= int64(len(fh.data)) {
		resp.Data = []byte{}
		return nil
	}
	end := req.Offset + int64(req.Size)
	if end > int64(len(fh.data)) {
		end = int64(len(fh.data))
	}
	resp.Data = append([]byte(nil), fh.data[req.Offset:end]...)
	return nil
}

// Write implements the HandleWriter interface, writing into the buffer.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Writing %d bytes to file %q at offset %d", len(req.Data), fh.path, req.Offset)
	end := int(req.Offset) + len(req.Data)
	if end > len(fh.data) {
		fh.data = resize(fh.data, end)
	}
	copy(fh.data[req.Offset:], req.Data)
	fh.dirty = true
	resp.Size = len(req.Data)
	return nil
}

// Flush implements the HandleFlusher interface, storing buffered writes.
func (fh *FileHandle) Flush(ctx context.Context, _ *fuse.FlushRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.flushLocked(ctx)
}

// Release implements the HandleReleaser interface, storing buffered writes.
func (fh *FileHandle) Release(ctx context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Debug("Closing file %q", fh.path)
	return fh.flushLocked(ctx)
}

func (fh *FileHandle) flushLocked(ctx context.Context) error {
	if !fh.dirty {
		return nil
	}
	fileLogger.Debug("Flushing %d bytes to %q", len(fh.data), fh.path)
	if err := fh.fs.manager.Write(ctx, fh.path, vfs.Binary(append([]byte(nil), fh.data...))); err != nil {
		fileLogger.Error("Failed to flush %q: %v", fh.path, err)
		return fail(OpFlush, fh.path, err)
	}
	fh.dirty = false
	return nil
}

// resize returns data grown with zeroes or cut to n bytes.
func resize(data []byte, n int) []byte {
	if n <= len(data) {
		return data[:n]
	}
	grown := make([]byte, n)
	copy(grown, data)
	return grown
}

// Symlink is a link file of the namespace presented as a host symlink.
type Symlink struct {
	fs     *FS
	path   string
	target string
}

var (
	_ fs.Node           = (*Symlink)(nil)
	_ fs.NodeReadlinker = (*Symlink)(nil)
)

// Attr implements the Node interface.
func (s *Symlink) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeSymlink | 0777
	a.Uid = s.fs.uid
	a.Gid = s.fs.gid
	a.Size = uint64(len(s.hostTarget()))
	return nil
}

// Readlink implements the NodeReadlinker interface. The target is reported
// relative to the link so it resolves inside the mount point.
func (s *Symlink) Readlink(_ context.Context, _ *fuse.ReadlinkRequest) (string, error) {
	return s.hostTarget(), nil
}

func (s *Symlink) hostTarget() string {
	rel, err := filepath.Rel(vfs.Parent(s.path), s.target)
	if err != nil {
		return s.target
	}
	return rel
}

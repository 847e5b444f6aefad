package fusefs

import (
	"context"
	"os"
	"path"
	"syscall"

	"bazil.org/fuse"
	fs "bazil.org/fuse/fs"

	"xenvfs/internal/logging"
	"xenvfs/internal/vfs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// maxLinkSize bounds the files Lookup inspects for link content.
const maxLinkSize = vfs.MaxPathLength + 64

// Dir is a directory of the namespace, mount points and the directories
// synthesized above them included.
type Dir struct {
	fs   *FS
	path string
}

var (
	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.NodeMkdirer        = (*Dir)(nil)
	_ fs.NodeCreater        = (*Dir)(nil)
	_ fs.NodeRemover        = (*Dir)(nil)
	_ fs.NodeRenamer        = (*Dir)(nil)
	_ fs.NodeSymlinker      = (*Dir)(nil)
)

func (d *Dir) child(name string) string {
	return path.Join(d.path, name)
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path)
	a.Mode = os.ModeDir | 0755
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid

	st, err := d.fs.manager.Stat(ctx, d.path)
	if err != nil {
		return fail(OpGetattr, d.path, err)
	}
	a.Mtime = st.LastModified
	a.Ctime = st.LastModified
	a.Atime = st.LastModified
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	childPath := d.child(name)
	dirLogger.Debug("Looking up %q in directory %q", name, d.path)

	st, err := d.fs.manager.Stat(ctx, childPath)
	if err != nil {
		return nil, fail(OpLookup, childPath, err)
	}
	if st.IsDirectory {
		return &Dir{fs: d.fs, path: childPath}, nil
	}
	if st.Size <= maxLinkSize {
		if target, err := d.fs.manager.Readlink(ctx, childPath); err == nil {
			dirLogger.Trace("Found link %q -> %q", childPath, target)
			return &Symlink{fs: d.fs, path: childPath, target: target}, nil
		}
	}
	return &File{fs: d.fs, path: childPath}, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path)

	children, err := d.fs.manager.List(ctx, d.path, false)
	if err != nil {
		dirLogger.Warn("Failed to list %q: %v", d.path, err)
		return nil, fail(OpReadDir, d.path, err)
	}

	entries := make([]fuse.Dirent, 0, len(children)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, c := range children {
		typ := fuse.DT_File
		if c.IsDirectory {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: c.Name, Type: typ})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path, len(children))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a new directory.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	newPath := d.child(req.Name)
	dirLogger.Info("Creating new directory %q", newPath)

	if ok, err := d.fs.manager.Exists(ctx, newPath); err != nil {
		return nil, fail(OpMkdir, newPath, err)
	} else if ok {
		return nil, syscall.EEXIST
	}
	if err := d.fs.manager.Mkdir(ctx, newPath); err != nil {
		dirLogger.Error("Failed to create directory %q: %v", newPath, err)
		return nil, fail(OpMkdir, newPath, err)
	}
	return &Dir{fs: d.fs, path: newPath}, nil
}

// Create implements the NodeCreater interface, creating an empty file and
// opening it.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	newPath := d.child(req.Name)
	dirLogger.Info("Creating new file %q", newPath)

	if err := d.fs.manager.Write(ctx, newPath, vfs.Binary(nil)); err != nil {
		dirLogger.Error("Failed to create file %q: %v", newPath, err)
		return nil, nil, fail(OpCreate, newPath, err)
	}
	f := &File{fs: d.fs, path: newPath}
	return f, &FileHandle{fs: d.fs, path: newPath, data: []byte{}}, nil
}

// Remove implements the NodeRemover interface, removing a file or an empty
// directory.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := d.child(req.Name)
	dirLogger.Info("Removing %q (isDir=%v)", childPath, req.Dir)

	st, err := d.fs.manager.Stat(ctx, childPath)
	if err != nil {
		return fail(OpRemove, childPath, err)
	}
	if req.Dir {
		if !st.IsDirectory {
			return syscall.ENOTDIR
		}
		children, err := d.fs.manager.List(ctx, childPath, false)
		if err != nil {
			return fail(OpRemove, childPath, err)
		}
		if len(children) > 0 {
			dirLogger.Warn("Directory not empty: %q", childPath)
			return syscall.ENOTEMPTY
		}
	} else if st.IsDirectory {
		return syscall.EISDIR
	}

	if err := d.fs.manager.Rm(ctx, childPath); err != nil {
		dirLogger.Error("Failed to remove %q: %v", childPath, err)
		return fail(OpRemove, childPath, err)
	}
	return nil
}

// Rename implements the NodeRenamer interface, moving a file or directory,
// across mounts if needed.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Target is not a valid directory type")
		return syscall.EINVAL
	}

	oldPath := d.child(req.OldName)
	newPath := target.child(req.NewName)
	dirLogger.Info("Renaming %q to %q", oldPath, newPath)

	if err := d.fs.manager.Move(ctx, oldPath, newPath); err != nil {
		dirLogger.Error("Failed to rename %q: %v", oldPath, err)
		return fail(OpRename, oldPath, err)
	}
	return nil
}

// Symlink implements the NodeSymlinker interface. Relative targets are
// resolved against this directory.
func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	linkPath := d.child(req.NewName)
	target, err := vfs.Normalize(req.Target, d.path)
	if err != nil {
		return nil, fail(OpSymlink, linkPath, err)
	}
	dirLogger.Info("Linking %q -> %q", linkPath, target)

	if err := d.fs.manager.Link(ctx, target, linkPath); err != nil {
		return nil, fail(OpSymlink, linkPath, err)
	}
	return &Symlink{fs: d.fs, path: linkPath, target: target}, nil
}

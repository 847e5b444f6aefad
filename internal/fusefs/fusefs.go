package fusefs

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"bazil.org/fuse"
	fs "bazil.org/fuse/fs"

	"xenvfs/internal/logging"
	"xenvfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("fuse")
)

// FS exposes a vfs.Manager as a FUSE file system. Nodes carry namespace
// paths and call the manager for everything, so mounts added or removed on
// the manager show up on the host immediately.
type FS struct {
	manager *vfs.Manager
	uid     uint32 // User ID reported for every node
	gid     uint32 // Group ID reported for every node
}

// New wraps m. Ownership defaults to the current process and can be set with
// the PUID and PGID environment variables.
func New(m *vfs.Manager) *FS {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			logger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			logger.Debug("Using PGID from environment: %d", gid)
		}
	}

	return &FS{manager: m, uid: uid, gid: gid}
}

// Root implements fs.FS.
func (f *FS) Root() (fs.Node, error) {
	logger.Trace("Getting root directory node")
	return &Dir{fs: f, path: "/"}, nil
}

// Serve mounts the namespace at mountPoint and serves it until ctx is done
// or the kernel drops the connection. The mount point is unmounted on return.
func (f *FS) Serve(ctx context.Context, mountPoint string) error {
	logger.Info("Mounting namespace at %s", mountPoint)
	logger.Debug("UID: %d, GID: %d", f.uid, f.gid)

	c, err := fuse.Mount(mountPoint,
		fuse.FSName("xenvfs"),
		fuse.Subtype("xenvfs"),
		fuse.AllowOther(),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	defer c.Close()

	served := make(chan error, 1)
	go func() {
		logger.Info("Serving filesystem...")
		served <- fs.Serve(c, f)
	}()

	select {
	case err := <-served:
		if err != nil {
			logger.Error("FUSE server error: %v", err)
			return fmt.Errorf("fuse server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Unmounting %s", mountPoint)
		if err := fuse.Unmount(mountPoint); err != nil {
			logger.Error("Unmount error: %v", err)
			return fmt.Errorf("unmount failed: %w", err)
		}
		if err := <-served; err != nil {
			logger.Error("FUSE server error: %v", err)
		}
		logger.Debug("FUSE server stopped")
		return nil
	}
}

func safeInt64ToUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

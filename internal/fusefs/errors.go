// Package fusefs serves a vfs.Manager namespace on the host through FUSE.
//
// This file contains error translation utilities.
package fusefs

import (
	"errors"
	"os"
	"syscall"

	"xenvfs/internal/backend"
	"xenvfs/internal/logging"
	"xenvfs/internal/vfs"
)

var (
	errLogger = logging.GetLogger().WithPrefix("fuse-error")
)

// Operation names for consistent logging
const (
	OpLookup  = "lookup"  // Looking up a path
	OpReadDir = "readdir" // Reading directory contents
	OpOpen    = "open"    // Opening a file
	OpCreate  = "create"  // Creating a new file
	OpMkdir   = "mkdir"   // Creating a new directory
	OpRemove  = "remove"  // Removing a file or directory
	OpRename  = "rename"  // Renaming/moving a file or directory
	OpSetattr = "setattr" // Setting file attributes
	OpGetattr = "getattr" // Getting file attributes
	OpSymlink = "symlink" // Creating a link
	OpFlush   = "flush"   // Writing back a handle
)

// fail logs a failed node operation and returns its errno.
func fail(op, path string, err error) error {
	errLogger.Debug("%s %q failed: %v", op, path, err)
	return ToFuseError(err)
}

// ToFuseError converts a namespace error to the errno FUSE expects.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}
	errLogger.Trace("Converting error to FUSE error: %v", err)

	switch {
	case errors.Is(err, vfs.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, vfs.ErrIsADirectory):
		return syscall.EISDIR
	case errors.Is(err, vfs.ErrInvalidPath), errors.Is(err, vfs.ErrNotALink), errors.Is(err, backend.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, backend.ErrExist), errors.Is(err, vfs.ErrDuplicateMount):
		return syscall.EEXIST
	case errors.Is(err, backend.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, vfs.ErrMountBusy):
		return syscall.EBUSY
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, vfs.ErrClosed):
		return syscall.ENXIO
	default:
		errLogger.Debug("Unmapped error, returning EIO: %v", err)
		return syscall.EIO
	}
}

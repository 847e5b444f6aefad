// Package vfs provides the virtual file system core.
//
// This file contains error types and error handling utilities.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"xenvfs/internal/backend"
)

var (
	// ErrInvalidPath indicates a path with a null byte, an over-long path or
	// an operation whose paths are inconsistent (copying a tree into itself).
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFound indicates a path that does not exist. It is the backend
	// sentinel, so backend results match it without translation.
	ErrNotFound = backend.ErrNotFound

	// ErrNotADirectory indicates a directory operation on a file.
	ErrNotADirectory = backend.ErrNotDirectory

	// ErrIsADirectory indicates a file operation on a directory.
	ErrIsADirectory = backend.ErrIsDirectory

	// ErrDuplicateMount indicates a mount path that already has a mount.
	ErrDuplicateMount = errors.New("mount path already in use")

	// ErrInvalidMountPath indicates a mount path that is not absolute and
	// normalized, or a nil backend.
	ErrInvalidMountPath = errors.New("invalid mount path")

	// ErrMountNotFound indicates an unmount of a path without a mount.
	ErrMountNotFound = errors.New("no mount at path")

	// ErrRootMountProtected indicates an attempt to unmount "/".
	ErrRootMountProtected = errors.New("root mount cannot be removed")

	// ErrMountBusy indicates an unmount while operations are in flight.
	ErrMountBusy = errors.New("mount is busy")

	// ErrCrossBackendBridge indicates a copy or move between backends that
	// could not complete. See BridgeError.
	ErrCrossBackendBridge = errors.New("cross-backend bridge failed")

	// ErrNotALink indicates readlink or unlink on a regular file.
	ErrNotALink = errors.New("not a link")

	// ErrClosed indicates use of a manager after Close.
	ErrClosed = errors.New("vfs is closed")
)

// Error wraps failures with the operation and namespace path they concern.
type Error struct {
	Op   string // Operation that failed (e.g., "read", "mount")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// BridgeError reports a cross-backend copy or move that failed. The source
// is left intact; the destination may hold a partial copy.
type BridgeError struct {
	Op   string
	Src  string
	Dest string
	Err  error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s %s -> %s: %v: %v", e.Op, e.Src, e.Dest, ErrCrossBackendBridge, e.Err)
}

// Is makes errors.Is(err, ErrCrossBackendBridge) hold.
func (e *BridgeError) Is(target error) bool {
	return target == ErrCrossBackendBridge
}

// Unwrap returns the read, write or remove failure that stopped the bridge.
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Common operation names for consistent logging and error reporting
const (
	OpNormalize = "normalize"
	OpMkdir     = "mkdir"
	OpList      = "list"
	OpRm        = "rm"
	OpWrite     = "write"
	OpRead      = "read"
	OpStat      = "stat"
	OpExists    = "exists"
	OpCd        = "cd"
	OpCopy      = "copy"
	OpMove      = "move"
	OpMount     = "mount"
	OpUnmount   = "unmount"
	OpLink      = "link"
	OpUnlink    = "unlink"
	OpReadlink  = "readlink"
	OpClose     = "close"
)

// normalizeError maps backend-specific failures onto the taxonomy so callers
// never need backend-specific handling.
func normalizeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backend.ErrNotFound):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, syscall.ENOTDIR) && !errors.Is(err, ErrNotADirectory):
		return fmt.Errorf("%w: %v", ErrNotADirectory, err)
	case errors.Is(err, syscall.EISDIR) && !errors.Is(err, ErrIsADirectory):
		return fmt.Errorf("%w: %v", ErrIsADirectory, err)
	default:
		return err
	}
}

// wrap attaches op and path unless err already carries them.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var vErr *Error
	var bErr *BridgeError
	if errors.As(err, &vErr) || errors.As(err, &bErr) {
		return err
	}
	return &Error{Op: op, Path: path, Err: normalizeError(err)}
}

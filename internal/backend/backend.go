// Package backend defines the capability set every storage provider mounted
// into the virtual file system implements, together with the entry and stat
// types they report.
//
// Paths handed to a backend are always normalized and relative to the
// backend's own root: "/" is the backend root, "/a/b" a descendant. A backend
// never sees the global namespace.
package backend

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

var (
	// ErrNotFound indicates that no entry exists at the path.
	ErrNotFound = &backendError{"no such file or directory", fs.ErrNotExist}

	// ErrExist indicates that an entry already exists at the path.
	ErrExist = &backendError{"file already exists", fs.ErrExist}

	// ErrIsDirectory indicates a file operation on a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotDirectory indicates a directory operation on a file, or a file
	// used as an intermediate path segment.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotEmpty indicates a directory that still has children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrInvalid indicates a malformed argument.
	ErrInvalid = &backendError{"invalid argument", fs.ErrInvalid}
)

// backendError lets the backend sentinels match their io/fs counterparts with
// errors.Is, so os-style checks keep working on backend results.
type backendError struct {
	msg string
	is  error
}

func (e *backendError) Error() string { return e.msg }

func (e *backendError) Is(target error) bool { return target == e.is }

// FileEntryInfo is produced by listing. Exactly one of IsFile and
// IsDirectory is true. In recursive listings Name is the slash separated
// path relative to the listed directory.
type FileEntryInfo struct {
	Name        string `json:"name"`
	IsFile      bool   `json:"isFile"`
	IsDirectory bool   `json:"isDirectory"`
}

// FileStat is FileEntryInfo plus size, modification time and MIME type.
// MIME is empty for directories.
type FileStat struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	IsFile       bool      `json:"isFile"`
	IsDirectory  bool      `json:"isDirectory"`
	LastModified time.Time `json:"lastModified"`
	MIME         string    `json:"mime"`
}

// Entry returns the FileEntryInfo view of s.
func (s FileStat) Entry() FileEntryInfo {
	return FileEntryInfo{Name: s.Name, IsFile: s.IsFile, IsDirectory: s.IsDirectory}
}

// Backend is the fixed capability set of a storage provider.
//
// Mkdir creates missing parents. Rm removes recursively; Rm("/") empties the
// backend but keeps its root. Write creates or truncates a file whose parent
// directory must exist. Implementations own the serialization of concurrent
// access to their storage; bundled implementations are last-write-wins.
type Backend interface {
	Mkdir(ctx context.Context, path string) error
	List(ctx context.Context, path string, recursive bool) ([]FileEntryInfo, error)
	Rm(ctx context.Context, path string) error
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Stat(ctx context.Context, path string) (FileStat, error)
}

// Copier is implemented by backends with a native same-backend copy.
type Copier interface {
	Copy(ctx context.Context, src, dest string) error
}

// Mover is implemented by backends with a native same-backend rename.
type Mover interface {
	Move(ctx context.Context, src, dest string) error
}

// Namer is implemented by backends that describe themselves in logs,
// metrics and mount listings.
type Namer interface {
	Name() string
}

// KindOf returns a short description of b for logs and metric labels.
func KindOf(b Backend) string {
	if n, ok := b.(Namer); ok {
		return n.Name()
	}
	return "backend"
}

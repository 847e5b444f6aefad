// Package hostfs bridges a host directory (or any afero.Fs) into the virtual
// file system.
package hostfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"syscall"

	"github.com/spf13/afero"

	"xenvfs/internal/backend"
	"xenvfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("hostfs")
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FS adapts an afero.Fs to backend.Backend.
type FS struct {
	fs afero.Fs
}

// New wraps an arbitrary afero filesystem.
func New(afs afero.Fs) *FS {
	return &FS{fs: afs}
}

// NewOS exposes the host directory root. The directory must exist.
func NewOS(root string) (*FS, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("host directory %s not usable: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("host path %s is not a directory", root)
	}
	logger.Info("Bridging host directory %s", root)
	return New(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// Name implements backend.Namer.
func (h *FS) Name() string { return "host" }

// translate maps host errors onto the backend sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return backend.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return backend.ErrExist
	case errors.Is(err, syscall.ENOTDIR):
		return backend.ErrNotDirectory
	case errors.Is(err, syscall.EISDIR):
		return backend.ErrIsDirectory
	default:
		return err
	}
}

func (h *FS) stat(p string) (fs.FileInfo, error) {
	info, err := h.fs.Stat(p)
	return info, translate(err)
}

// Mkdir implements backend.Backend.
func (h *FS) Mkdir(_ context.Context, p string) error {
	p = backend.Clean(p)
	cur := ""
	for _, seg := range backend.Segments(p) {
		cur += "/" + seg
		info, err := h.stat(cur)
		if errors.Is(err, backend.ErrNotFound) {
			if err := h.fs.Mkdir(cur, dirPerm); err != nil && !errors.Is(err, fs.ErrExist) {
				return translate(err)
			}
			continue
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return backend.ErrNotDirectory
		}
	}
	return nil
}

// List implements backend.Backend.
func (h *FS) List(_ context.Context, p string, recursive bool) ([]backend.FileEntryInfo, error) {
	p = backend.Clean(p)
	info, err := h.stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, backend.ErrNotDirectory
	}

	entries := []backend.FileEntryInfo{}
	if err := h.appendDir(&entries, p, "", recursive); err != nil {
		return nil, err
	}
	return entries, nil
}

func (h *FS) appendDir(entries *[]backend.FileEntryInfo, dir, prefix string, recursive bool) error {
	infos, err := afero.ReadDir(h.fs, dir)
	if err != nil {
		return translate(err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		*entries = append(*entries, backend.FileEntryInfo{
			Name:        prefix + info.Name(),
			IsFile:      !info.IsDir(),
			IsDirectory: info.IsDir(),
		})
		if recursive && info.IsDir() {
			if err := h.appendDir(entries, backend.Join(dir, info.Name()), prefix+info.Name()+"/", true); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rm implements backend.Backend.
func (h *FS) Rm(_ context.Context, p string) error {
	p = backend.Clean(p)
	if p == "/" {
		infos, err := afero.ReadDir(h.fs, "/")
		if err != nil {
			return translate(err)
		}
		for _, info := range infos {
			if err := h.fs.RemoveAll("/" + info.Name()); err != nil {
				return translate(err)
			}
		}
		return nil
	}
	if _, err := h.stat(p); err != nil {
		return err
	}
	return translate(h.fs.RemoveAll(p))
}

// Write implements backend.Backend.
func (h *FS) Write(_ context.Context, p string, data []byte) error {
	p = backend.Clean(p)
	parent, err := h.stat(backend.Parent(p))
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return backend.ErrNotDirectory
	}
	if info, err := h.stat(p); err == nil && info.IsDir() {
		return backend.ErrIsDirectory
	}
	return translate(afero.WriteFile(h.fs, p, data, filePerm))
}

// Read implements backend.Backend.
func (h *FS) Read(_ context.Context, p string) ([]byte, error) {
	p = backend.Clean(p)
	info, err := h.stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, backend.ErrIsDirectory
	}
	data, err := afero.ReadFile(h.fs, p)
	if err != nil {
		return nil, translate(err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Stat implements backend.Backend.
func (h *FS) Stat(_ context.Context, p string) (backend.FileStat, error) {
	p = backend.Clean(p)
	info, err := h.stat(p)
	if err != nil {
		return backend.FileStat{}, err
	}
	st := backend.FileStat{
		Name:         backend.Base(p),
		IsFile:       !info.IsDir(),
		IsDirectory:  info.IsDir(),
		LastModified: info.ModTime(),
	}
	if !info.IsDir() {
		st.Size = info.Size()
		st.MIME = backend.DetectMIME(st.Name)
	}
	return st, nil
}

// Move implements backend.Mover with a host rename.
func (h *FS) Move(_ context.Context, src, dest string) error {
	src, dest = backend.Clean(src), backend.Clean(dest)
	if src == "/" || backend.IsWithin(dest, src) || backend.IsWithin(src, dest) {
		return backend.ErrInvalid
	}
	if _, err := h.stat(src); err != nil {
		return err
	}
	return translate(h.fs.Rename(src, dest))
}

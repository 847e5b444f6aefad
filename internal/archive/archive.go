// Package archive bundles trees of the namespace into ZIP archives and back.
// Everything here is composed from vfs.Manager operations, so archives cross
// mount boundaries the same way listings do.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"xenvfs/internal/logging"
	"xenvfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("archive")
)

// Operation names used in errors.
const (
	OpCompress   = "compress"
	OpDecompress = "decompress"
	OpExport     = "export"
	OpImport     = "import"
	OpWipe       = "wipe"
)

// Compress writes a ZIP archive of the file or directory at src to the file
// dest. Entry names are relative to src; a single file is stored under its
// base name.
func Compress(ctx context.Context, m *vfs.Manager, src, dest string) error {
	var buf bytes.Buffer
	n, err := writeTree(ctx, m, src, &buf)
	if err != nil {
		return wrapErr(OpCompress, src, err)
	}
	if err := m.Write(ctx, dest, vfs.Binary(buf.Bytes())); err != nil {
		return err
	}
	logger.Info("Compressed %d entries from %s into %s (%d bytes)", n, src, dest, buf.Len())
	return nil
}

// Decompress extracts the ZIP archive stored at archivePath into the
// directory dest, creating it if needed. Entries that would land outside
// dest fail with vfs.ErrInvalidPath before anything is written.
func Decompress(ctx context.Context, m *vfs.Manager, archivePath, dest string) error {
	data, err := m.Read(ctx, archivePath)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return &vfs.Error{Op: OpDecompress, Path: archivePath, Err: fmt.Errorf("failed to open archive: %w", err)}
	}
	destAbs, err := m.NormalizePath(dest)
	if err != nil {
		return err
	}
	n, err := extract(ctx, m, zr, destAbs)
	if err != nil {
		return wrapErr(OpDecompress, archivePath, err)
	}
	logger.Info("Decompressed %d entries from %s into %s", n, archivePath, destAbs)
	return nil
}

// Export writes the whole namespace as a ZIP archive to w.
func Export(ctx context.Context, m *vfs.Manager, w io.Writer) error {
	n, err := writeTree(ctx, m, "/", w)
	if err != nil {
		return wrapErr(OpExport, "/", err)
	}
	logger.Info("Exported %d entries", n)
	return nil
}

// Import replaces the content of the namespace with the ZIP archive in r.
// The archive is validated before anything is wiped. Mounts stay in place and
// receive the entries that fall below them.
func Import(ctx context.Context, m *vfs.Manager, r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return &vfs.Error{Op: OpImport, Err: fmt.Errorf("failed to open archive: %w", err)}
	}
	for _, f := range zr.File {
		if _, err := entryPath("/", f.Name); err != nil {
			return wrapErr(OpImport, f.Name, err)
		}
	}

	if err := Wipe(ctx, m); err != nil {
		return err
	}
	n, err := extract(ctx, m, zr, "/")
	if err != nil {
		return wrapErr(OpImport, "/", err)
	}
	logger.Info("Imported %d entries", n)
	return nil
}

// Wipe removes every entry of the namespace. Mounts are kept; their
// backends are emptied.
func Wipe(ctx context.Context, m *vfs.Manager) error {
	entries, err := m.List(ctx, "/", false)
	if err != nil {
		return wrapErr(OpWipe, "/", err)
	}
	for _, e := range entries {
		if err := m.Rm(ctx, "/"+e.Name); err != nil {
			return wrapErr(OpWipe, "/"+e.Name, err)
		}
	}
	logger.Info("Wiped %d top-level entries", len(entries))
	return nil
}

func writeTree(ctx context.Context, m *vfs.Manager, src string, w io.Writer) (int, error) {
	srcAbs, err := m.NormalizePath(src)
	if err != nil {
		return 0, err
	}
	st, err := m.Stat(ctx, srcAbs)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(w)
	n := 0
	if st.IsFile {
		if err := addFile(ctx, m, zw, srcAbs, vfs.Base(srcAbs)); err != nil {
			return 0, err
		}
		n++
	} else {
		entries, err := m.List(ctx, srcAbs, true)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if e.IsDirectory {
				if _, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name + "/", Method: zip.Store}); err != nil {
					return 0, fmt.Errorf("failed to add %s: %w", e.Name, err)
				}
			} else if err := addFile(ctx, m, zw, childPath(srcAbs, e.Name), e.Name); err != nil {
				return 0, err
			}
			n++
		}
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}
	return n, nil
}

func addFile(ctx context.Context, m *vfs.Manager, zw *zip.Writer, p, name string) error {
	st, err := m.Stat(ctx, p)
	if err != nil {
		return err
	}
	data, err := m.Read(ctx, p)
	if err != nil {
		return err
	}
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: st.LastModified,
	})
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	return nil
}

func extract(ctx context.Context, m *vfs.Manager, zr *zip.Reader, destAbs string) (int, error) {
	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		target, err := entryPath(destAbs, f.Name)
		if err != nil {
			return 0, err
		}
		targets[i] = target
	}

	if err := m.Mkdir(ctx, destAbs); err != nil {
		return 0, err
	}
	for i, f := range zr.File {
		target := targets[i]
		if f.FileInfo().IsDir() {
			if err := m.Mkdir(ctx, target); err != nil {
				return i, err
			}
			continue
		}
		if err := m.Mkdir(ctx, vfs.Parent(target)); err != nil {
			return i, err
		}
		data, err := readEntry(f)
		if err != nil {
			return i, err
		}
		if err := m.Write(ctx, target, vfs.Binary(data)); err != nil {
			return i, err
		}
	}
	return len(zr.File), nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", f.Name, err)
	}
	return data, nil
}

// entryPath resolves an archive entry name below destAbs, refusing names
// that are absolute or climb out of it.
func entryPath(destAbs, name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		return "", &vfs.Error{Op: OpDecompress, Path: name, Err: vfs.ErrInvalidPath}
	}
	target, err := vfs.Normalize(name, destAbs)
	if err != nil {
		return "", err
	}
	if !vfs.IsWithin(target, destAbs) {
		return "", &vfs.Error{Op: OpDecompress, Path: name, Err: vfs.ErrInvalidPath}
	}
	return target, nil
}

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func wrapErr(op, p string, err error) error {
	var vErr *vfs.Error
	var bErr *vfs.BridgeError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &vErr), errors.As(err, &bErr):
		return err
	default:
		return &vfs.Error{Op: op, Path: p, Err: err}
	}
}

package vfs

import (
	"context"
	"errors"
	"path"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"xenvfs/internal/backend"
)

// List lists the directory at p. Mounts below p take precedence over what
// the owning backend holds at their paths, and every directory on the way to
// a mount is listed even when the owning backend does not have it.
//
// Recursive listings are depth-first with names relative to p. Entries of the
// owning backend come in its native order; each directly nested mount is then
// inserted as a block (its directory entry followed by its own recursive
// listing) right after the last entry of its parent directory.
func (m *Manager) List(ctx context.Context, p string, recursive bool) ([]backend.FileEntryInfo, error) {
	abs, err := m.begin(OpList, p)
	if err != nil {
		return nil, m.finish(OpList, p, err)
	}
	entries, err := m.list(ctx, abs, recursive)
	if err != nil {
		return nil, m.finish(OpList, abs, err)
	}
	return entries, m.finish(OpList, abs, nil)
}

func (m *Manager) list(ctx context.Context, abs string, recursive bool) ([]backend.FileEntryInfo, error) {
	snap := m.table.snapshot()
	below := mountsBelow(snap, abs)

	entries, err := m.listNative(ctx, abs, recursive)
	if err != nil {
		if len(below) == 0 || !errors.Is(normalizeError(err), ErrNotFound) {
			return nil, err
		}
		entries = []backend.FileEntryInfo{}
	}
	if len(below) == 0 {
		return entries, nil
	}

	if !recursive {
		for _, mt := range below {
			entries = setDir(entries, firstSegment(backend.Rel(mt.path, abs)))
		}
		return entries, nil
	}

	direct := directMountsBelow(snap, abs)
	blocks := make([][]backend.FileEntryInfo, len(direct))
	g, gctx := errgroup.WithContext(ctx)
	for i, mt := range direct {
		i, mt := i, mt
		g.Go(func() error {
			sub, err := m.list(gctx, mt.path, true)
			if err != nil {
				return err
			}
			blocks[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, mt := range direct {
		entries = splice(entries, backend.Rel(mt.path, abs), blocks[i])
	}
	return entries, nil
}

func (m *Manager) listNative(ctx context.Context, abs string, recursive bool) ([]backend.FileEntryInfo, error) {
	l, err := m.acquire(abs)
	if err != nil {
		return nil, err
	}
	defer l.release()
	return l.mount.backend.List(ctx, l.rel, recursive)
}

// splice replaces the entries at or below rel with the listing of
// the mount at rel.
func splice(entries []backend.FileEntryInfo, rel string, sub []backend.FileEntryInfo) []backend.FileEntryInfo {
	entries = slices.DeleteFunc(entries, func(e backend.FileEntryInfo) bool {
		return e.Name == rel || strings.HasPrefix(e.Name, rel+"/")
	})

	segs := strings.Split(rel, "/")
	for i := 1; i < len(segs); i++ {
		ancestor := strings.Join(segs[:i], "/")
		if idx := indexOf(entries, ancestor); idx >= 0 {
			entries[idx] = dirEntry(ancestor)
			continue
		}
		entries = slices.Insert(entries, subtreeEnd(entries, parentName(ancestor)), dirEntry(ancestor))
	}

	block := make([]backend.FileEntryInfo, 0, len(sub)+1)
	block = append(block, dirEntry(rel))
	for _, e := range sub {
		e.Name = rel + "/" + e.Name
		block = append(block, e)
	}
	return slices.Insert(entries, subtreeEnd(entries, parentName(rel)), block...)
}

// setDir makes sure a directory entry called name is present, replacing a
// file entry of the same name.
func setDir(entries []backend.FileEntryInfo, name string) []backend.FileEntryInfo {
	if idx := indexOf(entries, name); idx >= 0 {
		entries[idx] = dirEntry(name)
		return entries
	}
	return append(entries, dirEntry(name))
}

func dirEntry(name string) backend.FileEntryInfo {
	return backend.FileEntryInfo{Name: name, IsDirectory: true}
}

func indexOf(entries []backend.FileEntryInfo, name string) int {
	return slices.IndexFunc(entries, func(e backend.FileEntryInfo) bool { return e.Name == name })
}

// parentName returns the relative parent of name, "" for top-level names.
func parentName(name string) string {
	dir := path.Dir(name)
	if dir == "." {
		return ""
	}
	return dir
}

// subtreeEnd returns the index just past the last entry of the subtree rooted
// at the relative directory parent. The listed directory itself is "".
func subtreeEnd(entries []backend.FileEntryInfo, parent string) int {
	if parent == "" {
		return len(entries)
	}
	idx := indexOf(entries, parent)
	if idx < 0 {
		return len(entries)
	}
	end := idx + 1
	for end < len(entries) && strings.HasPrefix(entries[end].Name, parent+"/") {
		end++
	}
	return end
}

package vfs

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"xenvfs/internal/backend"
)

// MountEntry describes one binding of a backend into the namespace.
type MountEntry struct {
	Path    string
	Backend backend.Backend
}

type mount struct {
	path     string
	depth    int
	backend  backend.Backend
	inflight atomic.Int64
}

// MountTable maps absolute mount paths to backends and resolves namespace
// paths to the owning backend by longest segment-wise prefix.
//
// Writers replace the mount slice instead of mutating it, so a snapshot taken
// under the read lock stays consistent for as long as the caller holds it.
type MountTable struct {
	mu     sync.RWMutex
	mounts []*mount
	// trackBusy makes Remove fail while leases on the mount are held.
	trackBusy bool
}

// NewMountTable returns an empty table. A root mount must be added before
// anything resolves.
func NewMountTable() *MountTable {
	return &MountTable{}
}

// Add binds b at mountPath, which must already be absolute and normalized.
func (t *MountTable) Add(mountPath string, b backend.Backend) error {
	if b == nil {
		return &Error{Op: OpMount, Path: mountPath, Err: ErrInvalidMountPath}
	}
	clean, err := Normalize(mountPath, "/")
	if err != nil || clean != mountPath {
		return &Error{Op: OpMount, Path: mountPath, Err: ErrInvalidMountPath}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.mounts {
		if m.path == mountPath {
			return &Error{Op: OpMount, Path: mountPath, Err: ErrDuplicateMount}
		}
	}

	next := make([]*mount, len(t.mounts), len(t.mounts)+1)
	copy(next, t.mounts)
	next = append(next, &mount{
		path:    mountPath,
		depth:   len(backend.Segments(mountPath)),
		backend: b,
	})
	t.mounts = next
	return nil
}

// Remove unbinds the mount at mountPath and returns its backend. The root
// mount cannot be removed.
func (t *MountTable) Remove(mountPath string) (backend.Backend, error) {
	if mountPath == "/" {
		return nil, &Error{Op: OpUnmount, Path: mountPath, Err: ErrRootMountProtected}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.mounts {
		if m.path != mountPath {
			continue
		}
		if t.trackBusy && m.inflight.Load() > 0 {
			return nil, &Error{Op: OpUnmount, Path: mountPath, Err: ErrMountBusy}
		}
		next := make([]*mount, 0, len(t.mounts)-1)
		next = append(next, t.mounts[:i]...)
		next = append(next, t.mounts[i+1:]...)
		t.mounts = next
		return m.backend, nil
	}
	return nil, &Error{Op: OpUnmount, Path: mountPath, Err: ErrMountNotFound}
}

// Resolve returns the backend owning the absolute path p and the path
// relative to that backend's root.
func (t *MountTable) Resolve(p string) (backend.Backend, string, error) {
	m, rel, err := resolveIn(t.snapshot(), p)
	if err != nil {
		return nil, "", err
	}
	return m.backend, rel, nil
}

// List returns the mounts in the order they were added, the root first.
func (t *MountTable) List() []MountEntry {
	snap := t.snapshot()
	entries := make([]MountEntry, 0, len(snap))
	for _, m := range snap {
		entries = append(entries, MountEntry{Path: m.path, Backend: m.backend})
	}
	return entries
}

func (t *MountTable) snapshot() []*mount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mounts
}

// drain removes every mount, the root included, and returns them.
func (t *MountTable) drain() []*mount {
	t.mu.Lock()
	defer t.mu.Unlock()
	mounts := t.mounts
	t.mounts = nil
	return mounts
}

// lease pins a mount for the duration of one operation.
type lease struct {
	mount *mount
	rel   string
}

func (l *lease) release() {
	l.mount.inflight.Add(-1)
}

// acquire resolves p and marks its mount as in use. The increment happens
// under the read lock, so a concurrent Remove either sees it or ran first.
func (t *MountTable) acquire(p string) (*lease, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, rel, err := resolveIn(t.mounts, p)
	if err != nil {
		return nil, err
	}
	m.inflight.Add(1)
	return &lease{mount: m, rel: rel}, nil
}

func resolveIn(mounts []*mount, p string) (*mount, string, error) {
	var best *mount
	for _, m := range mounts {
		if !backend.IsWithin(p, m.path) {
			continue
		}
		if best == nil || m.depth > best.depth {
			best = m
		}
	}
	if best == nil {
		return nil, "", &Error{Op: "resolve", Path: p, Err: ErrMountNotFound}
	}
	return best, "/" + backend.Rel(p, best.path), nil
}

// mountsBelow returns the mounts strictly below dir, shallowest first.
func mountsBelow(mounts []*mount, dir string) []*mount {
	var below []*mount
	for _, m := range mounts {
		if isStrictlyWithin(m.path, dir) {
			below = append(below, m)
		}
	}
	sort.Slice(below, func(i, j int) bool {
		if below[i].depth != below[j].depth {
			return below[i].depth < below[j].depth
		}
		return below[i].path < below[j].path
	})
	return below
}

// directMountsBelow returns the mounts below dir that are not themselves
// below another mount below dir.
func directMountsBelow(mounts []*mount, dir string) []*mount {
	below := mountsBelow(mounts, dir)
	direct := below[:0:0]
	for _, m := range below {
		nested := false
		for _, d := range direct {
			if isStrictlyWithin(m.path, d.path) {
				nested = true
				break
			}
		}
		if !nested {
			direct = append(direct, m)
		}
	}
	sort.Slice(direct, func(i, j int) bool { return direct[i].path < direct[j].path })
	return direct
}

// firstSegment returns the first segment of a relative name.
func firstSegment(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}

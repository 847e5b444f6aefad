// Package memfs is the reference in-memory backend. It keeps a tree of nodes
// behind one RWMutex, supports native copy and move, and can be told to fail
// chosen operations, which tests use to exercise failure paths of callers.
package memfs

import (
	"context"
	"sort"
	"sync"
	"time"

	"xenvfs/internal/backend"
	"xenvfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("memfs")
)

// Operation names accepted by InjectFault.
const (
	OpMkdir = "mkdir"
	OpList  = "list"
	OpRm    = "rm"
	OpWrite = "write"
	OpRead  = "read"
	OpStat  = "stat"
	OpCopy  = "copy"
	OpMove  = "move"
)

type node struct {
	isDir    bool
	data     []byte
	modTime  time.Time
	children map[string]*node
}

func newDir(now time.Time) *node {
	return &node{isDir: true, modTime: now, children: make(map[string]*node)}
}

func (n *node) clone() *node {
	c := &node{isDir: n.isDir, modTime: n.modTime}
	if n.isDir {
		c.children = make(map[string]*node, len(n.children))
		for name, child := range n.children {
			c.children[name] = child.clone()
		}
		return c
	}
	c.data = append([]byte(nil), n.data...)
	return c
}

type faultKey struct {
	op   string
	path string
}

// FS is an in-memory tree. The zero value is not usable; call New.
type FS struct {
	name   string
	mu     sync.RWMutex
	root   *node
	faults map[faultKey]error
	now    func() time.Time
}

// Option configures an FS.
type Option func(*FS)

// WithName sets the name reported by Name.
func WithName(name string) Option {
	return func(f *FS) { f.name = name }
}

// WithClock replaces time.Now for modification times.
func WithClock(now func() time.Time) Option {
	return func(f *FS) { f.now = now }
}

// New returns an empty in-memory backend.
func New(opts ...Option) *FS {
	f := &FS{
		name:   "memory",
		faults: make(map[faultKey]error),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.root = newDir(f.now())
	return f
}

// Name implements backend.Namer.
func (f *FS) Name() string { return f.name }

// InjectFault makes every later op on path fail with err. An empty path
// matches every path.
func (f *FS) InjectFault(op, path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path != "" {
		path = backend.Clean(path)
	}
	logger.Debug("Injecting fault on %s %q: %v", op, path, err)
	f.faults[faultKey{op, path}] = err
}

// ClearFaults removes every injected fault.
func (f *FS) ClearFaults() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[faultKey]error)
}

// fault must be called with f.mu held.
func (f *FS) fault(op, path string) error {
	if len(f.faults) == 0 {
		return nil
	}
	if err, ok := f.faults[faultKey{op, path}]; ok {
		return err
	}
	return f.faults[faultKey{op, ""}]
}

// lookup walks to p. Must be called with f.mu held.
func (f *FS) lookup(p string) (*node, error) {
	n := f.root
	for _, seg := range backend.Segments(p) {
		if !n.isDir {
			return nil, backend.ErrNotDirectory
		}
		child, ok := n.children[seg]
		if !ok {
			return nil, backend.ErrNotFound
		}
		n = child
	}
	return n, nil
}

// parentDir returns the directory that holds p. Must be called with f.mu held.
func (f *FS) parentDir(p string) (*node, error) {
	parent, err := f.lookup(backend.Parent(p))
	if err != nil {
		return nil, err
	}
	if !parent.isDir {
		return nil, backend.ErrNotDirectory
	}
	return parent, nil
}

// Mkdir implements backend.Backend.
func (f *FS) Mkdir(_ context.Context, p string) error {
	p = backend.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(OpMkdir, p); err != nil {
		return err
	}

	now := f.now()
	n := f.root
	for _, seg := range backend.Segments(p) {
		child, ok := n.children[seg]
		if !ok {
			child = newDir(now)
			n.children[seg] = child
			n.modTime = now
		} else if !child.isDir {
			return backend.ErrNotDirectory
		}
		n = child
	}
	return nil
}

// List implements backend.Backend. Entries are sorted by name; recursive
// listings are depth-first.
func (f *FS) List(_ context.Context, p string, recursive bool) ([]backend.FileEntryInfo, error) {
	p = backend.Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.fault(OpList, p); err != nil {
		return nil, err
	}

	n, err := f.lookup(p)
	if err != nil {
		return nil, err
	}
	if !n.isDir {
		return nil, backend.ErrNotDirectory
	}

	entries := []backend.FileEntryInfo{}
	appendChildren(&entries, n, "", recursive)
	return entries, nil
}

func appendChildren(entries *[]backend.FileEntryInfo, n *node, prefix string, recursive bool) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := n.children[name]
		*entries = append(*entries, backend.FileEntryInfo{
			Name:        prefix + name,
			IsFile:      !child.isDir,
			IsDirectory: child.isDir,
		})
		if recursive && child.isDir {
			appendChildren(entries, child, prefix+name+"/", true)
		}
	}
}

// Rm implements backend.Backend.
func (f *FS) Rm(_ context.Context, p string) error {
	p = backend.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(OpRm, p); err != nil {
		return err
	}

	if p == "/" {
		f.root.children = make(map[string]*node)
		f.root.modTime = f.now()
		return nil
	}

	parent, err := f.parentDir(p)
	if err != nil {
		return err
	}
	name := backend.Base(p)
	if _, ok := parent.children[name]; !ok {
		return backend.ErrNotFound
	}
	delete(parent.children, name)
	parent.modTime = f.now()
	return nil
}

// Write implements backend.Backend.
func (f *FS) Write(_ context.Context, p string, data []byte) error {
	p = backend.Clean(p)
	if p == "/" {
		return backend.ErrIsDirectory
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(OpWrite, p); err != nil {
		return err
	}

	parent, err := f.parentDir(p)
	if err != nil {
		return err
	}
	name := backend.Base(p)
	if existing, ok := parent.children[name]; ok && existing.isDir {
		return backend.ErrIsDirectory
	}

	now := f.now()
	parent.children[name] = &node{data: append([]byte(nil), data...), modTime: now}
	parent.modTime = now
	return nil
}

// Read implements backend.Backend.
func (f *FS) Read(_ context.Context, p string) ([]byte, error) {
	p = backend.Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.fault(OpRead, p); err != nil {
		return nil, err
	}

	n, err := f.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.isDir {
		return nil, backend.ErrIsDirectory
	}
	return append([]byte{}, n.data...), nil
}

// Stat implements backend.Backend.
func (f *FS) Stat(_ context.Context, p string) (backend.FileStat, error) {
	p = backend.Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.fault(OpStat, p); err != nil {
		return backend.FileStat{}, err
	}

	n, err := f.lookup(p)
	if err != nil {
		return backend.FileStat{}, err
	}

	st := backend.FileStat{
		Name:         backend.Base(p),
		IsFile:       !n.isDir,
		IsDirectory:  n.isDir,
		LastModified: n.modTime,
	}
	if !n.isDir {
		st.Size = int64(len(n.data))
		st.MIME = backend.DetectMIME(st.Name)
	}
	return st, nil
}

// Copy implements backend.Copier by deep-cloning the source subtree.
func (f *FS) Copy(_ context.Context, src, dest string) error {
	src, dest = backend.Clean(src), backend.Clean(dest)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(OpCopy, src); err != nil {
		return err
	}
	return f.place(src, dest, false)
}

// Move implements backend.Mover as a rename within the tree.
func (f *FS) Move(_ context.Context, src, dest string) error {
	src, dest = backend.Clean(src), backend.Clean(dest)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(OpMove, src); err != nil {
		return err
	}
	return f.place(src, dest, true)
}

// place attaches src (or a clone of it) at dest, replacing what is there.
// Neither path may contain the other.
// Must be called with f.mu held for writing.
func (f *FS) place(src, dest string, detach bool) error {
	if src == "/" || dest == "/" || backend.IsWithin(dest, src) || backend.IsWithin(src, dest) {
		return backend.ErrInvalid
	}
	n, err := f.lookup(src)
	if err != nil {
		return err
	}
	destParent, err := f.parentDir(dest)
	if err != nil {
		return err
	}
	if existing, ok := destParent.children[backend.Base(dest)]; ok && existing.isDir != n.isDir {
		if existing.isDir {
			return backend.ErrIsDirectory
		}
		return backend.ErrNotDirectory
	}

	now := f.now()
	if detach {
		srcParent, err := f.parentDir(src)
		if err != nil {
			return err
		}
		delete(srcParent.children, backend.Base(src))
		srcParent.modTime = now
	} else {
		n = n.clone()
	}
	destParent.children[backend.Base(dest)] = n
	destParent.modTime = now
	return nil
}

// Restore places an entry with an explicit modification time, creating
// missing parents. It is used to rebuild a tree from persisted state.
func (f *FS) Restore(p string, isDir bool, data []byte, modTime time.Time) error {
	p = backend.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.root
	segs := backend.Segments(p)
	for i, seg := range segs {
		child, ok := n.children[seg]
		last := i == len(segs)-1
		switch {
		case last && !isDir:
			if ok && child.isDir {
				return backend.ErrIsDirectory
			}
			n.children[seg] = &node{data: append([]byte(nil), data...), modTime: modTime}
			return nil
		case !ok:
			child = newDir(modTime)
			n.children[seg] = child
		case !child.isDir:
			return backend.ErrNotDirectory
		}
		if last {
			child.modTime = modTime
		}
		n = child
	}
	return nil
}

// Walk calls fn for every entry below the root, parents before children.
// fn must not call back into f.
func (f *FS) Walk(fn func(p string, isDir bool, data []byte, modTime time.Time)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	walk(f.root, "", fn)
}

func walk(n *node, prefix string, fn func(string, bool, []byte, time.Time)) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := n.children[name]
		p := prefix + "/" + name
		fn(p, child.isDir, child.data, child.modTime)
		if child.isDir {
			walk(child, p, fn)
		}
	}
}

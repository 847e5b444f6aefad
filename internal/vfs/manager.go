package vfs

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"xenvfs/internal/backend"
	"xenvfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("vfs")
)

// Manager is the single namespace applications talk to. It owns the mount
// table and the current working directory and routes every operation to the
// backend that owns the path. A Manager is safe for concurrent use.
type Manager struct {
	table   *MountTable
	metrics *metrics
	closed  atomic.Bool

	cwdMu sync.RWMutex
	cwd   string
}

// Option configures a Manager.
type Option func(*Manager)

// WithBusyTracking makes Unmount fail with ErrMountBusy while operations on
// the mount are in flight. Without it, unmount always succeeds and in-flight
// operations finish against the detached backend.
func WithBusyTracking() Option {
	return func(m *Manager) { m.table.trackBusy = true }
}

// WithMetrics registers operation counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.metrics = newMetrics(reg) }
}

// NewManager returns a manager with root mounted at "/" and the working
// directory at "/".
func NewManager(root backend.Backend, opts ...Option) (*Manager, error) {
	m := &Manager{
		table: NewMountTable(),
		cwd:   "/",
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.table.Add("/", root); err != nil {
		return nil, err
	}
	m.metrics.setMounts(1)
	logger.Info("Mounted %s backend at /", backend.KindOf(root))
	return m, nil
}

// Pwd returns the current working directory.
func (m *Manager) Pwd() string {
	m.cwdMu.RLock()
	defer m.cwdMu.RUnlock()
	return m.cwd
}

// NormalizePath resolves p against the current working directory.
func (m *Manager) NormalizePath(p string) (string, error) {
	return Normalize(p, m.Pwd())
}

// begin fails on a closed manager and resolves p.
func (m *Manager) begin(op, p string) (string, error) {
	if m.closed.Load() {
		return "", &Error{Op: op, Path: p, Err: ErrClosed}
	}
	abs, err := m.NormalizePath(p)
	if err != nil {
		return "", &Error{Op: op, Path: truncate(p), Err: ErrInvalidPath}
	}
	return abs, nil
}

// finish wraps and records the outcome of a public operation.
func (m *Manager) finish(op, p string, err error) error {
	err = wrap(op, p, err)
	m.metrics.observe(op, err)
	if err != nil {
		logger.Debug("%s %s failed: %v", op, p, err)
	} else {
		logger.Trace("%s %s", op, p)
	}
	return err
}

func (m *Manager) acquire(abs string) (*lease, error) {
	l, err := m.table.acquire(abs)
	if err != nil && m.closed.Load() {
		return nil, ErrClosed
	}
	return l, err
}

func (m *Manager) hasMountsBelow(abs string) bool {
	return len(mountsBelow(m.table.snapshot(), abs)) > 0
}

// Mkdir creates a directory and any missing parents.
func (m *Manager) Mkdir(ctx context.Context, p string) error {
	abs, err := m.begin(OpMkdir, p)
	if err != nil {
		return m.finish(OpMkdir, p, err)
	}
	return m.finish(OpMkdir, abs, m.mkdir(ctx, abs))
}

func (m *Manager) mkdir(ctx context.Context, abs string) error {
	l, err := m.acquire(abs)
	if err != nil {
		return err
	}
	defer l.release()
	return l.mount.backend.Mkdir(ctx, l.rel)
}

// Write creates or truncates the file at p. The parent directory must exist,
// possibly only as the parent of a mount.
func (m *Manager) Write(ctx context.Context, p string, c Content) error {
	abs, err := m.begin(OpWrite, p)
	if err != nil {
		return m.finish(OpWrite, p, err)
	}
	return m.finish(OpWrite, abs, m.write(ctx, abs, c.Bytes()))
}

func (m *Manager) write(ctx context.Context, abs string, data []byte) error {
	l, err := m.acquire(abs)
	if err != nil {
		return err
	}
	defer l.release()

	err = l.mount.backend.Write(ctx, l.rel, data)
	if l.rel == "/" || !errors.Is(normalizeError(err), ErrNotFound) || !m.hasMountsBelow(Parent(abs)) {
		return err
	}
	// The parent only exists as the parent of a mount; give it a real
	// directory on the owning backend.
	if err := l.mount.backend.Mkdir(ctx, backend.Parent(l.rel)); err != nil {
		return err
	}
	return l.mount.backend.Write(ctx, l.rel, data)
}

// Read returns the content of the file at p.
func (m *Manager) Read(ctx context.Context, p string) ([]byte, error) {
	abs, err := m.begin(OpRead, p)
	if err != nil {
		return nil, m.finish(OpRead, p, err)
	}
	data, err := m.read(ctx, abs)
	if err != nil {
		return nil, m.finish(OpRead, abs, err)
	}
	return data, m.finish(OpRead, abs, nil)
}

// ReadText returns the content of the file at p as a string.
func (m *Manager) ReadText(ctx context.Context, p string) (string, error) {
	data, err := m.Read(ctx, p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *Manager) read(ctx context.Context, abs string) ([]byte, error) {
	l, err := m.acquire(abs)
	if err != nil {
		return nil, err
	}
	defer l.release()
	return l.mount.backend.Read(ctx, l.rel)
}

// Stat describes the entry at p. A path that only exists because a mount
// lies below it reports as a directory.
func (m *Manager) Stat(ctx context.Context, p string) (backend.FileStat, error) {
	abs, err := m.begin(OpStat, p)
	if err != nil {
		return backend.FileStat{}, m.finish(OpStat, p, err)
	}
	st, err := m.stat(ctx, abs)
	if err != nil {
		return backend.FileStat{}, m.finish(OpStat, abs, err)
	}
	return st, m.finish(OpStat, abs, nil)
}

func (m *Manager) stat(ctx context.Context, abs string) (backend.FileStat, error) {
	l, err := m.acquire(abs)
	if err != nil {
		return backend.FileStat{}, err
	}
	defer l.release()

	st, err := l.mount.backend.Stat(ctx, l.rel)
	if err != nil {
		if errors.Is(normalizeError(err), ErrNotFound) && m.hasMountsBelow(abs) {
			return backend.FileStat{Name: Base(abs), IsDirectory: true}, nil
		}
		return backend.FileStat{}, err
	}
	st.Name = Base(abs)
	if st.IsDirectory {
		st.Size = 0
		st.MIME = ""
	}
	return st, nil
}

// Exists reports whether anything is at p. A path below a file does not
// exist.
func (m *Manager) Exists(ctx context.Context, p string) (bool, error) {
	abs, err := m.begin(OpExists, p)
	if err != nil {
		return false, m.finish(OpExists, p, err)
	}
	_, err = m.stat(ctx, abs)
	if errors.Is(normalizeError(err), ErrNotFound) || errors.Is(normalizeError(err), ErrNotADirectory) {
		return false, m.finish(OpExists, abs, nil)
	}
	return err == nil, m.finish(OpExists, abs, err)
}

// Rm removes the file or directory at p recursively. Mounts below p are
// emptied but stay mounted; removing a mount point empties its backend.
func (m *Manager) Rm(ctx context.Context, p string) error {
	abs, err := m.begin(OpRm, p)
	if err != nil {
		return m.finish(OpRm, p, err)
	}
	return m.finish(OpRm, abs, m.rm(ctx, abs))
}

func (m *Manager) rm(ctx context.Context, abs string) error {
	below := mountsBelow(m.table.snapshot(), abs)
	for i := len(below) - 1; i >= 0; i-- {
		if err := m.emptyMount(ctx, below[i].path); err != nil {
			return err
		}
	}

	l, err := m.acquire(abs)
	if err != nil {
		return err
	}
	defer l.release()
	err = l.mount.backend.Rm(ctx, l.rel)
	if len(below) > 0 && errors.Is(normalizeError(err), ErrNotFound) {
		// abs only existed as the parent of a mount.
		return nil
	}
	return err
}

func (m *Manager) emptyMount(ctx context.Context, mountPath string) error {
	l, err := m.acquire(mountPath)
	if err != nil {
		return err
	}
	defer l.release()
	return l.mount.backend.Rm(ctx, l.rel)
}

// Cd changes the working directory. It is left unchanged on failure.
func (m *Manager) Cd(ctx context.Context, p string) error {
	abs, err := m.begin(OpCd, p)
	if err != nil {
		return m.finish(OpCd, p, err)
	}
	st, err := m.stat(ctx, abs)
	if err != nil {
		return m.finish(OpCd, abs, err)
	}
	if !st.IsDirectory {
		return m.finish(OpCd, abs, ErrNotADirectory)
	}

	m.cwdMu.Lock()
	m.cwd = abs
	m.cwdMu.Unlock()
	return m.finish(OpCd, abs, nil)
}

// Mount binds b at mountPath, which must be absolute and normalized.
func (m *Manager) Mount(mountPath string, b backend.Backend) error {
	if m.closed.Load() {
		return m.finish(OpMount, mountPath, ErrClosed)
	}
	if err := m.table.Add(mountPath, b); err != nil {
		return m.finish(OpMount, mountPath, err)
	}
	m.metrics.setMounts(len(m.table.snapshot()))
	logger.Info("Mounted %s backend at %s", backend.KindOf(b), mountPath)
	return m.finish(OpMount, mountPath, nil)
}

// Unmount detaches the mount at p. Backend data is left untouched and the
// backend is not closed. A working directory inside the mount moves to the
// mount's parent.
func (m *Manager) Unmount(p string) error {
	abs, err := m.begin(OpUnmount, p)
	if err != nil {
		return m.finish(OpUnmount, p, err)
	}
	b, err := m.table.Remove(abs)
	if err != nil {
		return m.finish(OpUnmount, abs, err)
	}

	m.cwdMu.Lock()
	if IsWithin(m.cwd, abs) {
		logger.Debug("Working directory %s was inside %s, moving to %s", m.cwd, abs, Parent(abs))
		m.cwd = Parent(abs)
	}
	m.cwdMu.Unlock()

	m.metrics.setMounts(len(m.table.snapshot()))
	logger.Info("Unmounted %s backend from %s", backend.KindOf(b), abs)
	return m.finish(OpUnmount, abs, nil)
}

// Mounts returns the current mounts, the root first.
func (m *Manager) Mounts() []MountEntry {
	return m.table.List()
}

// Close detaches every mount and closes the backends that implement
// io.Closer. Later operations fail with ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	mounts := m.table.drain()
	m.metrics.setMounts(0)

	seen := make(map[any]bool)
	var errs []error
	for i := len(mounts) - 1; i >= 0; i-- {
		mt := mounts[i]
		c, ok := mt.backend.(io.Closer)
		if !ok {
			continue
		}
		if reflect.TypeOf(mt.backend).Comparable() {
			if seen[mt.backend] {
				continue
			}
			seen[mt.backend] = true
		}
		if err := c.Close(); err != nil {
			logger.Error("Failed to close %s backend at %s: %v", backend.KindOf(mt.backend), mt.path, err)
			errs = append(errs, &Error{Op: OpClose, Path: mt.path, Err: err})
		}
	}
	logger.Info("Closed, released %d mounts", len(mounts))
	return errors.Join(errs...)
}

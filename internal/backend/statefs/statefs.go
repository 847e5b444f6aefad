// Package statefs is a persisted backend: the tree lives in memory and the
// whole of it is written to a JSON state file after every successful
// mutation, with rotating backups kept by the state manager.
package statefs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"xenvfs/internal/backend"
	"xenvfs/internal/backend/memfs"
	"xenvfs/internal/logging"
	"xenvfs/internal/state"
)

var (
	logger = logging.GetLogger().WithPrefix("statefs")
)

// FS is a memfs tree persisted through a state.Manager.
type FS struct {
	*memfs.FS
	stateManager *state.Manager
	// persistMu orders snapshot writes so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex
}

// Open loads the snapshot at statePath (creating it if needed) and returns
// the backend holding its content.
func Open(statePath string) (*FS, error) {
	sm, err := state.NewManager(statePath)
	if err != nil {
		return nil, err
	}
	return New(sm)
}

// New rebuilds the tree from the manager's current snapshot.
func New(sm *state.Manager) (*FS, error) {
	snap, err := sm.LoadState()
	if err != nil {
		return nil, err
	}

	tree := memfs.New(memfs.WithName("state"))
	for _, p := range sortedPaths(snap) {
		e := snap.Entries[p]
		if err := tree.Restore(p, e.Dir, e.Data, e.ModTime); err != nil {
			return nil, fmt.Errorf("failed to restore %q from %s: %w", p, sm.Path(), err)
		}
	}
	logger.Info("Restored %d entries from %s", len(snap.Entries), sm.Path())

	return &FS{FS: tree, stateManager: sm}, nil
}

func sortedPaths(snap *state.Snapshot) []string {
	paths := make([]string, 0, len(snap.Entries))
	for p := range snap.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (f *FS) persist(err error) error {
	if err != nil {
		return err
	}
	f.persistMu.Lock()
	defer f.persistMu.Unlock()

	snap := state.NewSnapshot()
	f.FS.Walk(func(p string, isDir bool, data []byte, modTime time.Time) {
		snap.Entries[p] = state.Entry{Dir: isDir, Data: data, ModTime: modTime}
	})
	if err := f.stateManager.SaveState(snap); err != nil {
		logger.Error("Failed to save state: %v", err)
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}

// Mkdir implements backend.Backend.
func (f *FS) Mkdir(ctx context.Context, p string) error {
	return f.persist(f.FS.Mkdir(ctx, p))
}

// Rm implements backend.Backend.
func (f *FS) Rm(ctx context.Context, p string) error {
	return f.persist(f.FS.Rm(ctx, p))
}

// Write implements backend.Backend.
func (f *FS) Write(ctx context.Context, p string, data []byte) error {
	return f.persist(f.FS.Write(ctx, p, data))
}

// Copy implements backend.Copier.
func (f *FS) Copy(ctx context.Context, src, dest string) error {
	return f.persist(f.FS.Copy(ctx, src, dest))
}

// Move implements backend.Mover.
func (f *FS) Move(ctx context.Context, src, dest string) error {
	return f.persist(f.FS.Move(ctx, src, dest))
}

// Flush writes the current tree to the state file.
func (f *FS) Flush() error {
	return f.persist(nil)
}

// Close flushes the tree one last time.
func (f *FS) Close() error {
	return f.Flush()
}

var _ backend.Backend = (*FS)(nil)

// Package state provides persistent state management for the virtual filesystem.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"xenvfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

// DefaultBackupCount is how many timestamped backups are kept.
const DefaultBackupCount = 5

// Manager handles loading and saving snapshots
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	mu          sync.Mutex
}

// NewManager creates a new state manager for the given state file path.
// It ensures the state directory exists and is writable.
func NewManager(statePath string) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", statePath)

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	stateDir := filepath.Dir(absPath)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Verify we have write permissions
	f, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, err)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, ".xenvfs-backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, err)
	}

	logger.Info("State manager ready at %s", absPath)
	return &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: DefaultBackupCount,
	}, nil
}

// Path returns the absolute state file path.
func (sm *Manager) Path() string {
	return sm.statePath
}

// LoadState loads the snapshot from disk. An empty or missing state file
// yields an empty snapshot.
func (sm *Manager) LoadState() (*Snapshot, error) {
	logger.Debug("Loading state from: %s", sm.statePath)
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := os.ReadFile(sm.statePath)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		logger.Info("No valid state file, starting from an empty snapshot")
		return NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	logger.Debug("Parsing existing state file (%d bytes)", len(data))
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if snap.Version > CurrentVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", snap.Version, CurrentVersion)
	}
	if snap.Entries == nil {
		snap.Entries = make(map[string]Entry)
	}

	logger.Info("State loaded successfully (%d entries)", len(snap.Entries))
	return &snap, nil
}

// SaveState writes snap to disk through a temporary file and rename. A
// backup of the previous state is taken first.
func (sm *Manager) SaveState(snap *Snapshot) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	logger.Debug("Saving state to: %s", sm.statePath)

	if err := sm.createBackup(); err != nil {
		logger.Warn("Failed to create backup: %v", err)
		// Continue with save even if backup fails
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := sm.statePath + ".tmp"
	logger.Trace("Writing %d bytes of state data", len(data))
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, sm.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	logger.Debug("State saved successfully")
	return nil
}

// createBackup creates a timestamped backup of the current state file
func (sm *Manager) createBackup() error {
	data, err := os.ReadFile(sm.statePath)
	if errors.Is(err, os.ErrNotExist) || len(data) == 0 {
		return nil
	}
	if err != nil {
		return err
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000000")
	backupPath := filepath.Join(sm.backupDir, fmt.Sprintf("state-%s.json", timestamp))

	logger.Trace("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (sm *Manager) cleanupOldBackups() error {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return err
	}

	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			backups = append(backups, entry.Name())
		}
	}

	// Names embed the timestamp, newest sorts last
	sort.Strings(backups)

	for i := 0; i < len(backups)-sm.backupCount; i++ {
		path := filepath.Join(sm.backupDir, backups[i])
		logger.Trace("Removing old backup: %s", path)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", path, err)
		}
	}

	return nil
}

// Backups returns the retained backup files, oldest first.
func (sm *Manager) Backups() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(sm.backupDir, "state-*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

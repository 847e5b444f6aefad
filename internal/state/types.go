// Package state provides persistent state management for the virtual filesystem.
package state

import "time"

// CurrentVersion is written into every new snapshot.
const CurrentVersion = 1

// Entry is one persisted file or directory.
type Entry struct {
	Dir     bool      `json:"dir,omitempty"`
	Data    []byte    `json:"data,omitempty"`
	ModTime time.Time `json:"mod_time"`
}

// Snapshot represents the persisted content of one backend
type Snapshot struct {
	// Map of backend paths to entries. The root is implicit.
	Entries map[string]Entry `json:"entries"`

	// Version for future compatibility
	Version int `json:"version"`
}

// NewSnapshot returns an empty snapshot at the current version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Entries: make(map[string]Entry),
		Version: CurrentVersion,
	}
}

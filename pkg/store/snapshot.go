// Package store persists the orchestrator's state snapshot to disk. The
// snapshot is a single JSON document written atomically (temp file +
// rename); a corrupt snapshot is quarantined rather than deleted so the
// operator can inspect it.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ceedaragents/cyrus/pkg/session"
)

// SchemaVersion is bumped whenever the snapshot shape changes incompatibly.
const SchemaVersion = 1

// ErrSchemaVersion indicates a snapshot written by an incompatible version.
var ErrSchemaVersion = errors.New("unsupported snapshot schema version")

// Snapshot is the persisted copy of in-memory state used for crash recovery.
// Sessions are stored stripped of non-serialisable handles (pids, streams).
type Snapshot struct {
	SchemaVersion int                `json:"schemaVersion"`
	ConfigPath    string             `json:"configPath"`
	Sessions      []*session.Session `json:"sessions"`
	ParentMap     map[string]string  `json:"parentMap"`
	SavedAt       time.Time          `json:"savedAt"`
}

// Store reads and writes the snapshot file.
type Store struct {
	path string
}

// New creates a store for the given snapshot path. The parent directory is
// created on first write, not here.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot from disk. Returns (nil, nil) when no snapshot
// exists. A snapshot that cannot be parsed is quarantined and treated as
// absent; the orchestrator starts fresh and writes a new one.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.quarantine(err)
		return nil, nil
	}
	if snap.SchemaVersion != SchemaVersion {
		s.quarantine(fmt.Errorf("%w: %d", ErrSchemaVersion, snap.SchemaVersion))
		return nil, nil
	}
	return &snap, nil
}

// Write persists the snapshot atomically: marshal, write to a temp file in
// the same directory, fsync, rename over the target.
func (s *Store) Write(snap *Snapshot) error {
	snap.SchemaVersion = SchemaVersion
	snap.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename snapshot into place: %w", err)
	}
	return nil
}

// quarantine renames an unreadable snapshot aside so a fresh one can be
// written without losing the evidence.
func (s *Store) quarantine(cause error) {
	target := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, target); err != nil {
		slog.Error("Failed to quarantine corrupt snapshot", "path", s.path, "error", err)
		return
	}
	slog.Warn("Quarantined corrupt snapshot", "path", target, "cause", cause)
}

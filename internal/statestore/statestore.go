// Package statestore persists the engine's runtime state across restarts:
// per-position exit states and the risk manager's counters. Snapshots are
// msgpack-encoded and written atomically (temp file + rename).
package statestore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"tradekit/pkg/decision"
	"tradekit/pkg/risk"
)

// Snapshot is the full persisted state.
type Snapshot struct {
	PositionStates map[string]decision.PositionState `msgpack:"position_states"`
	RiskStatus     risk.Status                       `msgpack:"risk_status"`
	SavedAt        time.Time                         `msgpack:"saved_at"`
}

// Store reads and writes snapshots at a fixed path.
type Store struct {
	path string
}

// New builds a store; parent directories are created on first save.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("statestore: path is required")
	}
	return &Store{path: path}, nil
}

// Save writes the snapshot atomically. A crash mid-write leaves the
// previous snapshot intact.
func (s *Store) Save(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("statestore: nil snapshot")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("statestore: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statestore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("statestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("statestore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("statestore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statestore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("statestore: rename into place: %w", err)
	}
	return nil
}

// Load reads the latest snapshot. A missing file returns (nil, nil): a
// fresh start is not an error.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: read %s: %w", s.path, err)
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("statestore: decode %s: %w", s.path, err)
	}
	if snap.PositionStates == nil {
		snap.PositionStates = make(map[string]decision.PositionState)
	}
	return &snap, nil
}

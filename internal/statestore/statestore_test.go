package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekit/pkg/decision"
	"tradekit/pkg/risk"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "state", "engine.msgpack"))
	require.NoError(t, err)

	snap := &Snapshot{
		PositionStates: map[string]decision.PositionState{
			"p1": decision.StateTP1Hit,
			"p2": decision.StateOpen,
		},
		RiskStatus: risk.Status{Day: "2026-08-31", DailyPnL: -12.5, ConsecutiveLosses: 2},
	}
	require.NoError(t, store.Save(snap))
	assert.False(t, snap.SavedAt.IsZero(), "SavedAt is stamped on save")

	got, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, decision.StateTP1Hit, got.PositionStates["p1"])
	assert.Equal(t, decision.StateOpen, got.PositionStates["p2"])
	assert.Equal(t, -12.5, got.RiskStatus.DailyPnL)
	assert.Equal(t, 2, got.RiskStatus.ConsecutiveLosses)
	assert.WithinDuration(t, snap.SavedAt, got.SavedAt, time.Second)
}

func TestLoad_MissingFileIsFreshStart(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "missing.msgpack"))
	require.NoError(t, err)
	snap, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.msgpack")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0o644))
	store, err := New(path)
	require.NoError(t, err)
	_, err = store.Load()
	assert.Error(t, err)
}

func TestSave_OverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "engine.msgpack"))
	require.NoError(t, err)

	require.NoError(t, store.Save(&Snapshot{
		PositionStates: map[string]decision.PositionState{"p1": decision.StateOpen},
	}))
	require.NoError(t, store.Save(&Snapshot{
		PositionStates: map[string]decision.PositionState{"p1": decision.StateTP2Hit},
	}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, decision.StateTP2Hit, got.PositionStates["p1"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSave_NilSnapshot(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "x.msgpack"))
	require.NoError(t, err)
	assert.Error(t, store.Save(nil))
	_, err = New("")
	assert.Error(t, err)
}

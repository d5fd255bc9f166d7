package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekit/pkg/errs"
)

func record(id string, pnl float64) *TradeRecord {
	return &TradeRecord{
		PositionID:    id,
		Symbol:        "BTCUSDT",
		Side:          "LONG",
		EntryPrice:    100,
		ExitPrice:     101,
		Quantity:      1,
		RealizedPnL:   pnl,
		PnLPercent:    1,
		ClosureReason: "TP1_HIT",
		State:         "TP1_HIT",
	}
}

func TestRecordTradeClose(t *testing.T) {
	w := NewWriter(t.TempDir())
	path, rollback, err := w.RecordTradeClose(record("p1", 10))
	require.NoError(t, err)
	require.NotNil(t, rollback)
	assert.FileExists(t, path)

	records, err := w.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].PositionID)
	assert.False(t, records[0].Timestamp.IsZero(), "missing timestamp is filled in")
}

func TestRecordTradeClose_NilRecord(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, _, err := w.RecordTradeClose(nil)
	var te *errs.TradingError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, errs.CodeJournalWrite, te.Code)
	assert.True(t, te.Recoverable(), "journal failures never abort trading")
}

func TestRollbackRemovesFile(t *testing.T) {
	w := NewWriter(t.TempDir())
	path, rollback, err := w.RecordTradeClose(record("p1", 10))
	require.NoError(t, err)

	require.NoError(t, rollback())
	assert.NoFileExists(t, path)
	assert.NoError(t, rollback(), "rollback is idempotent")
}

func TestReadAll_OldestFirst(t *testing.T) {
	w := NewWriter(t.TempDir())
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	w.nowFn = func() time.Time { return base }

	for i, id := range []string{"a", "b", "c"} {
		rec := record(id, float64(i))
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		_, _, err := w.RecordTradeClose(rec)
		require.NoError(t, err)
	}

	records, err := w.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].PositionID)
	assert.Equal(t, "c", records[2].PositionID)
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	_, _, err := w.RecordTradeClose(record("p1", 10))
	require.NoError(t, err)
	_, _, err = w.RecordTradeClose(record("p2", -4))
	require.NoError(t, err)

	out := filepath.Join(dir, "trades.csv")
	require.NoError(t, w.ExportCSV(out))

	file, err := os.Open(out)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two trades")
	assert.Equal(t, "position_id", rows[0][1])
	assert.Equal(t, "p1", rows[1][1])
	assert.Equal(t, "-4", rows[2][7])
}

func TestReadAll_MissingDir(t *testing.T) {
	w := &Writer{dir: filepath.Join(t.TempDir(), "nope"), nowFn: time.Now}
	_, err := w.ReadAll()
	var te *errs.TradingError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, errs.CodeJournalRead, te.Code)
}

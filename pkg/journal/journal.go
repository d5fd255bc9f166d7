// Package journal persists closed trades as JSON files for audit and
// analysis, and exports the accumulated history as CSV.
package journal

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"tradekit/pkg/errs"
)

// TradeRecord captures one closed (or partially closed) trade.
type TradeRecord struct {
	Timestamp     time.Time      `json:"timestamp"`
	PositionID    string         `json:"position_id"`
	Symbol        string         `json:"symbol"`
	Side          string         `json:"side"`
	EntryPrice    float64        `json:"entry_price"`
	ExitPrice     float64        `json:"exit_price"`
	Quantity      float64        `json:"quantity"`
	RealizedPnL   float64        `json:"realized_pnl"`
	PnLPercent    float64        `json:"pnl_percent"`
	ClosureReason string         `json:"closure_reason"`
	State         string         `json:"state"`
	Reason        string         `json:"reason,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Rollback removes a just-written record, for callers that persist the
// journal entry before a downstream step that may still fail.
type Rollback func() error

// Writer persists trade records to a directory as JSON files.
type Writer struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer rooted at dir.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// RecordTradeClose writes one record to a timestamped JSON file and returns
// the path plus a rollback handle that deletes it.
func (w *Writer) RecordTradeClose(rec *TradeRecord) (string, Rollback, error) {
	if rec == nil {
		return "", nil, errs.NewJournalWrite("nil trade record", nil)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	name := fmt.Sprintf("trade_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", nil, errs.NewJournalWrite("marshal trade record", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", nil, errs.NewJournalWrite(fmt.Sprintf("write %s", path), err)
	}
	rollback := func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errs.NewJournalWrite(fmt.Sprintf("rollback %s", path), err)
		}
		return nil
	}
	return path, rollback, nil
}

// ReadAll loads every journal record in the directory, oldest first.
func (w *Writer) ReadAll() ([]TradeRecord, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, errs.NewJournalRead(fmt.Sprintf("read dir %s", w.dir), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	records := make([]TradeRecord, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(w.dir, name))
		if err != nil {
			return nil, errs.NewJournalRead(fmt.Sprintf("read %s", name), err)
		}
		var rec TradeRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, errs.NewJournalRead(fmt.Sprintf("unmarshal %s", name), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ExportCSV writes the full trade history to path.
func (w *Writer) ExportCSV(path string) error {
	records, err := w.ReadAll()
	if err != nil {
		return errs.NewCSVExport("load trade history", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return errs.NewCSVExport(fmt.Sprintf("create %s", path), err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	header := []string{
		"timestamp", "position_id", "symbol", "side",
		"entry_price", "exit_price", "quantity",
		"realized_pnl", "pnl_percent", "closure_reason", "state",
	}
	if err := cw.Write(header); err != nil {
		return errs.NewCSVExport("write header", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.PositionID,
			rec.Symbol,
			rec.Side,
			formatFloat(rec.EntryPrice),
			formatFloat(rec.ExitPrice),
			formatFloat(rec.Quantity),
			formatFloat(rec.RealizedPnL),
			formatFloat(rec.PnLPercent),
			rec.ClosureReason,
			rec.State,
		}
		if err := cw.Write(row); err != nil {
			return errs.NewCSVExport(fmt.Sprintf("write row for %s", rec.PositionID), err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errs.NewCSVExport("flush", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

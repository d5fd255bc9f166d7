// Package repo persists closed trades to Postgres. It complements the file
// journal: the journal is the crash-safe write-ahead record, the database
// is the queryable history.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"tradekit/pkg/journal"
)

// TradeRow is a normalised view of the trades table.
type TradeRow struct {
	ID            int64     `db:"id"`
	PositionID    string    `db:"position_id"`
	Symbol        string    `db:"symbol"`
	Side          string    `db:"side"`
	EntryPrice    float64   `db:"entry_price"`
	ExitPrice     float64   `db:"exit_price"`
	Quantity      float64   `db:"quantity"`
	RealizedPnl   float64   `db:"realized_pnl"`
	PnlPercent    float64   `db:"pnl_percent"`
	ClosureReason string    `db:"closure_reason"`
	State         string    `db:"state"`
	ClosedAt      time.Time `db:"closed_at"`
}

// TradesRepo exposes the trade-history store.
type TradesRepo interface {
	// InsertClose records one closed (or partially closed) trade.
	InsertClose(ctx context.Context, rec *journal.TradeRecord) error
	// Recent returns trades ordered by close time descending.
	Recent(ctx context.Context, limit int) ([]TradeRow, error)
	// DailyRealizedPnL sums realized PnL for the UTC day containing ts.
	DailyRealizedPnL(ctx context.Context, ts time.Time) (float64, error)
}

type tradesRepo struct {
	conn sqlx.SqlConn
}

// NewTradesRepo builds the Postgres-backed trade store.
func NewTradesRepo(conn sqlx.SqlConn) (TradesRepo, error) {
	if conn == nil {
		return nil, errors.New("repo: missing database connection")
	}
	return &tradesRepo{conn: conn}, nil
}

func (r *tradesRepo) InsertClose(ctx context.Context, rec *journal.TradeRecord) error {
	if rec == nil {
		return errors.New("repo: nil trade record")
	}
	closedAt := rec.Timestamp
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	query := `
INSERT INTO trades (
    position_id, symbol, side,
    entry_price, exit_price, quantity,
    realized_pnl, pnl_percent, closure_reason, state, closed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.conn.ExecCtx(ctx, query,
		rec.PositionID, rec.Symbol, rec.Side,
		rec.EntryPrice, rec.ExitPrice, rec.Quantity,
		rec.RealizedPnL, rec.PnLPercent, rec.ClosureReason, rec.State, closedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("repo: insert trade close for %s: %w", rec.PositionID, err)
	}
	return nil
}

func (r *tradesRepo) Recent(ctx context.Context, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
SELECT
    id, position_id, symbol, side,
    entry_price, exit_price, quantity,
    realized_pnl, pnl_percent, closure_reason, state, closed_at
FROM trades
ORDER BY closed_at DESC
LIMIT $1`
	var rows []TradeRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, limit); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: query recent trades: %w", err)
	}
	return rows, nil
}

func (r *tradesRepo) DailyRealizedPnL(ctx context.Context, ts time.Time) (float64, error) {
	dayStart := ts.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
SELECT COALESCE(SUM(realized_pnl), 0)
FROM trades
WHERE closed_at >= $1 AND closed_at < $2`
	var total float64
	if err := r.conn.QueryRowCtx(ctx, &total, query, dayStart, dayEnd); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("repo: sum daily realized pnl: %w", err)
	}
	return total, nil
}

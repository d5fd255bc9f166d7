package exchange

import "context"

// Provider exposes trading capabilities in an exchange-agnostic fashion.
// Implementations must be safe for concurrent use; the orchestrator calls
// them from per-position goroutines.
type Provider interface {
	// Order management.
	OpenPosition(ctx context.Context, req OrderRequest) (*OrderResult, error)
	ClosePosition(ctx context.Context, positionID string, percent float64) (*OrderResult, error)
	UpdateStopLoss(ctx context.Context, positionID string, price float64) error
	CancelAllConditionalOrders(ctx context.Context, symbol string) error

	// Market and account data.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetAccountBalance(ctx context.Context) (float64, error)
}

package exchange

import (
	"time"

	"tradekit/pkg/decision"
)

// OrderRequest describes a new position to open. PositionID is assigned by
// the caller so the exchange-side position can be correlated with the
// orchestrator's tracking state.
type OrderRequest struct {
	PositionID  string
	Symbol      string
	Side        decision.Side
	Quantity    float64
	Price       float64
	Leverage    int
	StopLoss    float64
	TakeProfits []float64
}

// OrderResult reports a fill. RealizedPnL is nonzero only for closes.
type OrderResult struct {
	OrderID        string
	PositionID     string
	Symbol         string
	FilledQuantity float64
	AvgPrice       float64
	RealizedPnL    float64
	Timestamp      time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

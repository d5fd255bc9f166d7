// Package sim is a paper-trading exchange implementation that keeps
// positions, balance and seeded market data in memory. It is the default
// provider for tests and dry runs.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradekit/pkg/decision"
	"tradekit/pkg/errs"
	"tradekit/pkg/exchange"
)

const (
	defaultInitialBalance = 100000.0
	defaultFallbackPrice  = 100.0
)

// Provider is the in-memory simulator. Fills are synchronous at the mark
// price (or the request price for opens).
type Provider struct {
	mu sync.Mutex

	nextOrderID int64

	markPx    map[string]float64           // latest mark price per symbol
	candles   map[string][]exchange.Candle // symbol:interval -> bars
	positions map[string]*positionState    // position id -> state

	initialBalance float64
	cash           float64
}

type positionState struct {
	ID       string
	Symbol   string
	Side     decision.Side
	Qty      float64 // always positive; Side carries direction
	Entry    float64
	StopLoss float64
}

// Option mutates the simulator at construction time.
type Option func(*Provider)

// WithInitialBalance overrides the starting cash balance.
func WithInitialBalance(balance float64) Option {
	return func(p *Provider) {
		if balance > 0 {
			p.initialBalance = balance
			p.cash = balance
		}
	}
}

// New constructs a simulator with default balance.
func New(opts ...Option) *Provider {
	p := &Provider{
		nextOrderID:    1,
		markPx:         make(map[string]float64),
		candles:        make(map[string][]exchange.Candle),
		positions:      make(map[string]*positionState),
		initialBalance: defaultInitialBalance,
		cash:           defaultInitialBalance,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetMarkPrice updates the reference price used for closes and PnL.
func (p *Provider) SetMarkPrice(symbol string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("sim: mark price must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markPx[symbol] = price
	return nil
}

// SeedCandles loads bars returned by GetCandles for symbol/interval.
func (p *Provider) SeedCandles(symbol, interval string, bars []exchange.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := symbol + ":" + interval
	p.candles[key] = append([]exchange.Candle(nil), bars...)
}

// OpenPosition fills the request synchronously at the request price.
func (p *Provider) OpenPosition(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if req.PositionID == "" {
		return nil, errs.NewOrderValidation("sim: position id is required")
	}
	if req.Symbol == "" {
		return nil, errs.NewOrderValidation("sim: symbol is required")
	}
	if req.Quantity <= 0 {
		return nil, errs.NewOrderValidation(fmt.Sprintf("sim: invalid quantity %.8g", req.Quantity))
	}
	if req.Price <= 0 {
		return nil, errs.NewOrderValidation(fmt.Sprintf("sim: invalid price %.8g", req.Price))
	}
	if req.Side != decision.SideLong && req.Side != decision.SideShort {
		return nil, errs.NewOrderValidation(fmt.Sprintf("sim: invalid side %q", req.Side))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[req.PositionID]; exists {
		return nil, errs.NewOrderRejected(fmt.Sprintf("sim: position %s already open", req.PositionID))
	}
	notional := req.Quantity * req.Price
	if notional > p.cash*float64(maxInt(req.Leverage, 1)) {
		return nil, errs.NewInsufficientBalance(
			fmt.Sprintf("sim: notional %.2f exceeds buying power", notional))
	}

	p.positions[req.PositionID] = &positionState{
		ID:       req.PositionID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Qty:      req.Quantity,
		Entry:    req.Price,
		StopLoss: req.StopLoss,
	}
	p.markPx[req.Symbol] = req.Price

	oid := p.nextOrderID
	p.nextOrderID++
	return &exchange.OrderResult{
		OrderID:        fmt.Sprintf("sim-%d", oid),
		PositionID:     req.PositionID,
		Symbol:         req.Symbol,
		FilledQuantity: req.Quantity,
		AvgPrice:       req.Price,
		Timestamp:      time.Now(),
	}, nil
}

// ClosePosition closes percent (0, 100] of the position at the mark price
// and realizes PnL into the cash balance.
func (p *Provider) ClosePosition(ctx context.Context, positionID string, percent float64) (*exchange.OrderResult, error) {
	if percent <= 0 || percent > 100 {
		return nil, errs.NewOrderValidation(fmt.Sprintf("sim: close percent %.2f out of range", percent))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.positions[positionID]
	if !ok {
		return nil, errs.NewPositionNotFound(positionID)
	}

	price := p.resolveMarkPriceLocked(state)
	closeQty := state.Qty * percent / 100
	realized := closeQty * (price - state.Entry)
	if state.Side == decision.SideShort {
		realized = closeQty * (state.Entry - price)
	}
	p.cash += realized

	state.Qty -= closeQty
	if state.Qty < 1e-10 {
		delete(p.positions, positionID)
	}

	oid := p.nextOrderID
	p.nextOrderID++
	return &exchange.OrderResult{
		OrderID:        fmt.Sprintf("sim-%d", oid),
		PositionID:     positionID,
		Symbol:         state.Symbol,
		FilledQuantity: closeQty,
		AvgPrice:       price,
		RealizedPnL:    realized,
		Timestamp:      time.Now(),
	}, nil
}

// UpdateStopLoss moves the protective stop for an open position.
func (p *Provider) UpdateStopLoss(ctx context.Context, positionID string, price float64) error {
	if price <= 0 {
		return errs.NewOrderValidation(fmt.Sprintf("sim: invalid stop price %.8g", price))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.positions[positionID]
	if !ok {
		return errs.NewPositionNotFound(positionID)
	}
	state.StopLoss = price
	return nil
}

// CancelAllConditionalOrders is a no-op: simulated stops live on the
// position state, there is no separate order book.
func (p *Provider) CancelAllConditionalOrders(ctx context.Context, symbol string) error {
	return nil
}

// GetCandles returns up to limit of the most recent seeded bars.
func (p *Provider) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bars := p.candles[symbol+":"+interval]
	if len(bars) == 0 {
		return nil, errs.NewExchangeAPI(fmt.Sprintf("sim: no candles seeded for %s %s", symbol, interval), nil)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]exchange.Candle(nil), bars...), nil
}

// GetAccountBalance returns cash plus unrealized PnL across open positions.
func (p *Provider) GetAccountBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.cash
	for _, state := range p.positions {
		price := p.resolveMarkPriceLocked(state)
		if state.Side == decision.SideShort {
			equity += state.Qty * (state.Entry - price)
		} else {
			equity += state.Qty * (price - state.Entry)
		}
	}
	return equity, nil
}

// OpenPositionIDs lists currently open simulated positions, sorted order
// not guaranteed. Test helper.
func (p *Provider) OpenPositionIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.positions))
	for id := range p.positions {
		ids = append(ids, id)
	}
	return ids
}

// StopLossFor returns the current stop for an open position. Test helper.
func (p *Provider) StopLossFor(positionID string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.positions[positionID]
	if !ok {
		return 0, false
	}
	return state.StopLoss, true
}

func (p *Provider) resolveMarkPriceLocked(state *positionState) float64 {
	if price, ok := p.markPx[state.Symbol]; ok && price > 0 {
		return price
	}
	if state.Entry > 0 {
		return state.Entry
	}
	return defaultFallbackPrice
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Registry hook for exchange.Config.
func init() {
	exchange.RegisterProvider("sim", func(name string, cfg *exchange.ProviderConfig) (exchange.Provider, error) {
		if cfg != nil && cfg.InitialBalance > 0 {
			return New(WithInitialBalance(cfg.InitialBalance)), nil
		}
		return New(), nil
	})
}

var _ exchange.Provider = (*Provider)(nil)

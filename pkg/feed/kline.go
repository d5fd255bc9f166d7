// Package feed streams live kline (candlestick) data over a WebSocket
// connection and converts closed bars into exchange.Candle values for the
// trading engine.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"

	"tradekit/pkg/errs"
	"tradekit/pkg/exchange"
)

// Bar is one kline update from the stream. Closed reports whether the bar
// is final; the engine only evaluates closed bars.
type Bar struct {
	Symbol   string
	Interval string
	Candle   exchange.Candle
	Closed   bool
}

// klineMessage mirrors the combined-stream kline payload.
type klineMessage struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

// ParseBar decodes one raw stream message into a Bar.
func ParseBar(data []byte) (*Bar, error) {
	var msg klineMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("feed: decode kline message: %w", err)
	}
	if msg.EventType != "kline" {
		return nil, fmt.Errorf("feed: unexpected event type %q", msg.EventType)
	}

	parse := func(field, raw string) (float64, error) {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0, fmt.Errorf("feed: invalid %s %q: %w", field, raw, err)
		}
		return v, nil
	}

	var bar Bar
	var err error
	bar.Symbol = msg.Symbol
	bar.Interval = msg.Kline.Interval
	bar.Closed = msg.Kline.Final
	bar.Candle.OpenTime = time.UnixMilli(msg.Kline.OpenTime).UTC()
	if bar.Candle.Open, err = parse("open", msg.Kline.Open); err != nil {
		return nil, err
	}
	if bar.Candle.High, err = parse("high", msg.Kline.High); err != nil {
		return nil, err
	}
	if bar.Candle.Low, err = parse("low", msg.Kline.Low); err != nil {
		return nil, err
	}
	if bar.Candle.Close, err = parse("close", msg.Kline.Close); err != nil {
		return nil, err
	}
	if bar.Candle.Volume, err = parse("volume", msg.Kline.Volume); err != nil {
		return nil, err
	}
	return &bar, nil
}

// Client maintains one WebSocket subscription and republishes bars on a
// channel. Reconnection with backoff is handled internally until the
// context is cancelled.
type Client struct {
	url      string
	dialer   *websocket.Dialer
	barChan  chan Bar
	errChan  chan error
	interval string
	symbols  []string

	readTimeout  time.Duration
	pingInterval time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// Option customizes the client.
type Option func(*Client)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithReadTimeout overrides the read deadline between messages.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// NewClient builds a kline stream client for the given endpoint, symbols
// and interval.
func NewClient(url string, symbols []string, interval string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("feed: url is required")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("feed: at least one symbol is required")
	}
	if strings.TrimSpace(interval) == "" {
		return nil, fmt.Errorf("feed: interval is required")
	}
	c := &Client{
		url:          url,
		dialer:       websocket.DefaultDialer,
		barChan:      make(chan Bar, 1024),
		errChan:      make(chan error, 10),
		interval:     interval,
		symbols:      symbols,
		readTimeout:  60 * time.Second,
		pingInterval: 20 * time.Second,
		reconnectMin: time.Second,
		reconnectMax: time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bars is the stream of parsed kline updates.
func (c *Client) Bars() <-chan Bar { return c.barChan }

// Errors surfaces async connection errors; the client keeps reconnecting
// regardless.
func (c *Client) Errors() <-chan error { return c.errChan }

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// Run connects and pumps bars until ctx is cancelled. Connection loss
// triggers reconnection with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.reconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.connectAndPump(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		c.reportError(errs.NewExchangeConnection("feed: stream disconnected", err))
		logx.Slowf("feed: disconnected (%v), reconnecting in %s", err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.reconnectMax {
			backoff = c.reconnectMax
		}
	}
}

func (c *Client) connectAndPump(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()
	logx.Infof("feed: connected to %s", c.url)

	params := make([]string, 0, len(c.symbols))
	for _, sym := range c.symbols {
		params = append(params, fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), c.interval))
	}
	if err := conn.WriteJSON(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	conn.SetReadLimit(5 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	go c.pingLoop(ctx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))

		bar, err := ParseBar(message)
		if err != nil {
			// Subscription acks and other control frames land here.
			continue
		}
		select {
		case c.barChan <- *bar:
		default:
			logx.Slowf("feed: bar channel full, dropping %s %s update", bar.Symbol, bar.Interval)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close tears down the current connection, unblocking a running Run.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) reportError(err error) {
	select {
	case c.errChan <- err:
	default:
	}
}

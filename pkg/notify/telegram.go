// Package notify delivers trade event notifications over Telegram.
// Notification failures are never fatal; the orchestrator skips them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tradekit/pkg/journal"
)

const defaultBaseURL = "https://api.telegram.org"

// Client is a minimal Telegram Bot API client.
type Client struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the Telegram API endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		if strings.TrimSpace(url) != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// NewClient builds a Telegram client for one bot/chat pair.
func NewClient(token, chatID string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("notify: bot token is required")
	}
	if strings.TrimSpace(chatID) == "" {
		return nil, fmt.Errorf("notify: chat id is required")
	}
	c := &Client{
		token:      token,
		chatID:     chatID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// SendMessage posts one text message to the configured chat.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("notify: empty message")
	}
	payload, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("notify: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("notify: decode response (status %d): %w", resp.StatusCode, err)
	}
	if !parsed.OK {
		return fmt.Errorf("notify: telegram rejected message (status %d): %s", resp.StatusCode, parsed.Description)
	}
	return nil
}

// NotifyTradeClosed formats and sends a close notification.
func (c *Client) NotifyTradeClosed(ctx context.Context, rec *journal.TradeRecord) error {
	if rec == nil {
		return fmt.Errorf("notify: nil trade record")
	}
	emoji := "🟢"
	if rec.RealizedPnL < 0 {
		emoji = "🔴"
	}
	text := fmt.Sprintf(
		"%s <b>%s %s closed</b>\nReason: %s\nEntry %.8g → Exit %.8g\nPnL: %.2f USDT (%.2f%%)",
		emoji, rec.Symbol, rec.Side, rec.ClosureReason,
		rec.EntryPrice, rec.ExitPrice, rec.RealizedPnL, rec.PnLPercent,
	)
	return c.SendMessage(ctx, text)
}

// NotifyTradeOpened formats and sends an open notification.
func (c *Client) NotifyTradeOpened(ctx context.Context, symbol, side string, qty, price float64, reason string) error {
	text := fmt.Sprintf(
		"📈 <b>%s %s opened</b>\nQty %.8g @ %.8g\n%s",
		symbol, side, qty, price, reason,
	)
	return c.SendMessage(ctx, text)
}

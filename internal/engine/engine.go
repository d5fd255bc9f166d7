// Package engine orchestrates the trading loop: it runs the pure entry and
// exit decisions against live positions, executes the resulting actions on
// the exchange through the recovery layer, and fans results out to the
// journal, risk manager, trade store and notifier.
package engine

import (
	"context"
	"errors"

	"tradekit/internal/repo"
	"tradekit/pkg/decision"
	"tradekit/pkg/exchange"
	"tradekit/pkg/journal"
	"tradekit/pkg/recovery"
	"tradekit/pkg/risk"
)

// ErrExitInProgress is returned when an exit evaluation is already running
// for the same position. Duplicate close orders are worse than a skipped
// tick; the caller simply re-evaluates on the next bar.
var ErrExitInProgress = errors.New("engine: exit evaluation already in progress for position")

// Notifier is the subset of the notification client the engine uses.
// A nil Notifier disables notifications.
type Notifier interface {
	NotifyTradeOpened(ctx context.Context, symbol, side string, qty, price float64, reason string) error
	NotifyTradeClosed(ctx context.Context, rec *journal.TradeRecord) error
}

// Deps bundles the engine's collaborators. Provider, Journal, Risk and
// Registry are required; Trades and Notifier are optional.
type Deps struct {
	Provider exchange.Provider
	Journal  *journal.Writer
	Risk     *risk.Manager
	Registry *recovery.Registry
	Trades   repo.TradesRepo
	Notifier Notifier

	// ExitConfig tunes the exit state machine; nil selects defaults.
	ExitConfig *decision.ExitConfig

	// Retry governs exchange call retries. Zero values select the
	// recovery package defaults.
	Retry recovery.RetryPolicy
}

func (d Deps) validate() error {
	if d.Provider == nil {
		return errors.New("engine: exchange provider is required")
	}
	if d.Journal == nil {
		return errors.New("engine: journal writer is required")
	}
	if d.Risk == nil {
		return errors.New("engine: risk manager is required")
	}
	if d.Registry == nil {
		return errors.New("engine: error registry is required")
	}
	return nil
}

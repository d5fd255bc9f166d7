package errs

import (
	"fmt"
	"time"
)

// Error codes by domain. The retryable subset is defined in errs.go.
const (
	// TRADING
	CodeEntryValidation     = "ENTRY_VALIDATION_ERROR"
	CodeExitExecution       = "EXIT_EXECUTION_ERROR"
	CodeStrategyExecution   = "STRATEGY_EXECUTION_ERROR"
	CodeRiskLimitExceeded   = "RISK_LIMIT_EXCEEDED"
	CodeRiskValidation      = "RISK_VALIDATION_ERROR"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"

	// EXCHANGE
	CodeExchangeConnection = "EXCHANGE_CONNECTION_ERROR"
	CodeExchangeRateLimit  = "EXCHANGE_RATE_LIMIT"
	CodeExchangeAPI        = "EXCHANGE_API_ERROR"
	CodeOrderRejected      = "ORDER_REJECTED"

	// POSITION
	CodePositionNotFound = "POSITION_NOT_FOUND"
	CodePositionState    = "POSITION_STATE_ERROR"
	CodePositionSizing   = "POSITION_SIZING_ERROR"
	CodeLeverage         = "LEVERAGE_ERROR"

	// ORDER
	CodeOrderTimeout    = "ORDER_TIMEOUT"
	CodeOrderSlippage   = "ORDER_SLIPPAGE"
	CodeOrderCancelled  = "ORDER_CANCELLED"
	CodeOrderValidation = "ORDER_VALIDATION_ERROR"

	// PERSISTENCE
	CodeJournalWrite = "JOURNAL_WRITE_ERROR"
	CodeJournalRead  = "JOURNAL_READ_ERROR"
	CodeCSVExport    = "CSV_EXPORT_ERROR"

	// CONFIGURATION / PERFORMANCE / INTERNAL
	CodeConfiguration = "CONFIGURATION_ERROR"
	CodePerformance   = "PERFORMANCE_WARNING"
	CodeUnknown       = "UNKNOWN_ERROR"
)

// NewEntryValidation flags a malformed entry signal.
func NewEntryValidation(msg string) *TradingError {
	return newError(CodeEntryValidation, DomainTrading, SeverityMedium, msg)
}

// NewExitExecution wraps a failure while executing exit actions.
func NewExitExecution(msg string, cause error) *TradingError {
	e := newError(CodeExitExecution, DomainTrading, SeverityHigh, msg)
	e.cause = cause
	return e
}

// NewStrategyExecution wraps a failure inside strategy evaluation.
func NewStrategyExecution(msg string, cause error) *TradingError {
	e := newError(CodeStrategyExecution, DomainTrading, SeverityHigh, msg)
	e.cause = cause
	return e
}

// NewRiskLimitExceeded reports a breached risk limit.
func NewRiskLimitExceeded(msg string) *TradingError {
	return newError(CodeRiskLimitExceeded, DomainTrading, SeverityMedium, msg)
}

// NewRiskValidation flags a contract violation in risk-manager inputs.
// This models a caller bug, not a business rejection.
func NewRiskValidation(msg string) *TradingError {
	return newError(CodeRiskValidation, DomainTrading, SeverityMedium, msg)
}

// NewInsufficientBalance is CRITICAL: it halts new entries.
func NewInsufficientBalance(msg string) *TradingError {
	return newError(CodeInsufficientBalance, DomainTrading, SeverityCritical, msg)
}

// NewExchangeConnection reports a transport-level exchange failure.
func NewExchangeConnection(msg string, cause error) *TradingError {
	e := newError(CodeExchangeConnection, DomainExchange, SeverityHigh, msg)
	e.cause = cause
	return e
}

// NewExchangeRateLimit carries the server-provided retry delay.
func NewExchangeRateLimit(msg string, retryAfter time.Duration) *TradingError {
	e := newError(CodeExchangeRateLimit, DomainExchange, SeverityMedium, msg)
	e.RetryAfter = retryAfter
	return e
}

// NewExchangeAPI reports a generic exchange API error.
func NewExchangeAPI(msg string, cause error) *TradingError {
	e := newError(CodeExchangeAPI, DomainExchange, SeverityHigh, msg)
	e.cause = cause
	return e
}

// NewOrderRejected reports an order the exchange refused.
func NewOrderRejected(msg string) *TradingError {
	return newError(CodeOrderRejected, DomainExchange, SeverityMedium, msg)
}

// NewPositionNotFound reports a missing position.
func NewPositionNotFound(positionID string) *TradingError {
	e := newError(CodePositionNotFound, DomainPosition, SeverityMedium,
		fmt.Sprintf("position %s not found", positionID))
	return e.WithContext("position_id", positionID)
}

// NewPositionState reports an operation attempted in the wrong lifecycle state.
func NewPositionState(msg string) *TradingError {
	return newError(CodePositionState, DomainPosition, SeverityMedium, msg)
}

// NewPositionSizing reports an invalid computed position size.
func NewPositionSizing(msg string) *TradingError {
	return newError(CodePositionSizing, DomainPosition, SeverityMedium, msg)
}

// NewOrderTimeout carries the elapsed duration before the timeout fired.
func NewOrderTimeout(msg string, elapsed time.Duration) *TradingError {
	e := newError(CodeOrderTimeout, DomainOrder, SeverityHigh, msg)
	return e.WithContext("elapsed_ms", elapsed.Milliseconds())
}

// NewOrderValidation flags a malformed order request.
func NewOrderValidation(msg string) *TradingError {
	return newError(CodeOrderValidation, DomainOrder, SeverityMedium, msg)
}

// NewJournalWrite reports a journal persistence failure. Non-fatal.
func NewJournalWrite(msg string, cause error) *TradingError {
	e := newError(CodeJournalWrite, DomainPersistence, SeverityLow, msg)
	e.cause = cause
	return e
}

// NewJournalRead reports a journal read failure. Non-fatal.
func NewJournalRead(msg string, cause error) *TradingError {
	e := newError(CodeJournalRead, DomainPersistence, SeverityLow, msg)
	e.cause = cause
	return e
}

// NewCSVExport reports a trade-history export failure. Non-fatal.
func NewCSVExport(msg string, cause error) *TradingError {
	e := newError(CodeCSVExport, DomainPersistence, SeverityLow, msg)
	e.cause = cause
	return e
}

// NewConfiguration is CRITICAL and fails startup.
func NewConfiguration(msg string) *TradingError {
	return newError(CodeConfiguration, DomainConfiguration, SeverityCritical, msg)
}

// NewPerformance is informational only.
func NewPerformance(msg string) *TradingError {
	return newError(CodePerformance, DomainPerformance, SeverityLow, msg)
}

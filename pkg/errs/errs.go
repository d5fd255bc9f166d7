package errs

import (
	"fmt"
	"time"
)

// Domain partitions the error taxonomy by subsystem.
type Domain string

const (
	DomainTrading       Domain = "TRADING"
	DomainExchange      Domain = "EXCHANGE"
	DomainPosition      Domain = "POSITION"
	DomainOrder         Domain = "ORDER"
	DomainConfiguration Domain = "CONFIGURATION"
	DomainInternal      Domain = "INTERNAL"
	DomainPerformance   Domain = "PERFORMANCE"
	DomainPersistence   Domain = "PERSISTENCE"
)

// Severity classifies how urgently an error must be acted upon.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// TradingError is the typed error carried through the recovery pipeline.
// Instances are immutable once constructed.
type TradingError struct {
	Code       string
	Domain     Domain
	Severity   Severity
	Message    string
	Timestamp  time.Time
	Context    map[string]any
	RetryAfter time.Duration // only set for rate-limit errors

	cause error
}

func newError(code string, domain Domain, severity Severity, msg string) *TradingError {
	return &TradingError{
		Code:      code,
		Domain:    domain,
		Severity:  severity,
		Message:   msg,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (e *TradingError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Domain, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Domain, e.Code, e.Message)
}

// Unwrap exposes the chained original error, if any.
func (e *TradingError) Unwrap() error { return e.cause }

// Recoverable reports whether the system may continue after this error.
// Only CRITICAL errors are considered unrecoverable.
func (e *TradingError) Recoverable() bool { return e.Severity != SeverityCritical }

// Retryable reports whether the error code is in the transient allow-list.
func (e *TradingError) Retryable() bool {
	_, ok := retryableCodes[e.Code]
	return ok
}

// WithContext returns a copy carrying an extra context entry.
func (e *TradingError) WithContext(key string, value any) *TradingError {
	clone := *e
	clone.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		clone.Context[k] = v
	}
	clone.Context[key] = value
	return &clone
}

// retryableCodes is the fixed allow-list of transient error codes.
var retryableCodes = map[string]struct{}{
	CodeExchangeAPI:        {},
	CodeExchangeConnection: {},
	CodeExchangeRateLimit:  {},
	CodeOrderTimeout:       {},
}

// Normalize converts an arbitrary error into a *TradingError. TradingErrors
// pass through unchanged; anything else is wrapped as an unknown internal
// error preserving the original message and cause.
func Normalize(err error) *TradingError {
	if err == nil {
		return nil
	}
	if terr, ok := err.(*TradingError); ok {
		return terr
	}
	wrapped := newError(CodeUnknown, DomainInternal, SeverityMedium, err.Error())
	wrapped.cause = err
	return wrapped
}

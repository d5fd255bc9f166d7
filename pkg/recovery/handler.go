// Package recovery implements the centralized error-recovery layer: a
// strategy dispatcher that normalizes failures and applies retry, fallback,
// degrade, skip or throw policies, plus a telemetry registry.
package recovery

import (
	"context"
	"math"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradekit/pkg/errs"
)

// Strategy selects the recovery policy for a call site.
type Strategy int

const (
	// StrategyThrow surfaces the error to the caller. Default for any
	// unrecognized strategy value.
	StrategyThrow Strategy = iota
	// StrategyRetry re-executes the operation with exponential backoff.
	StrategyRetry
	// StrategyFallback signals the caller to proceed with alternate logic.
	StrategyFallback
	// StrategyDegrade continues with reduced functionality.
	StrategyDegrade
	// StrategySkip cancels the operation and continues.
	StrategySkip
)

// String returns the strategy name used in logs and telemetry.
func (s Strategy) String() string {
	switch s {
	case StrategyRetry:
		return "RETRY"
	case StrategyFallback:
		return "FALLBACK"
	case StrategyDegrade:
		return "GRACEFUL_DEGRADE"
	case StrategySkip:
		return "SKIP"
	default:
		return "THROW"
	}
}

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
	defaultMultiplier   = 2.0
)

// RetryPolicy encapsulates exponential backoff settings.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.BackoffMultiplier <= 1 {
		p.BackoffMultiplier = defaultMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// delayFor computes the backoff before retry attempt n (1-based):
// min(initial * multiplier^(n-1), max). A rate-limit error's own
// RetryAfter overrides the formula for the first attempt, capped at max.
func (p RetryPolicy) delayFor(attempt int, err *errs.TradingError) time.Duration {
	if attempt == 1 && err != nil && err.Code == errs.CodeExchangeRateLimit && err.RetryAfter > 0 {
		if err.RetryAfter > p.MaxDelay {
			return p.MaxDelay
		}
		return err.RetryAfter
	}
	d := time.Duration(math.Min(
		float64(p.MaxDelay),
		float64(p.InitialDelay)*math.Pow(p.BackoffMultiplier, float64(attempt-1)),
	))
	return d
}

// Options configures a single Handle call.
type Options struct {
	Strategy Strategy
	Retry    RetryPolicy

	// Op, when set, is re-executed on each retry attempt. Without it the
	// RETRY strategy only waits out the backoff schedule and reports the
	// original error as unrecovered.
	Op func(ctx context.Context) error

	// Hooks. All optional.
	OnRetry   func(attempt int, err *errs.TradingError, delay time.Duration)
	OnRecover func(strategy Strategy, attempts int)
	OnFailure func(err *errs.TradingError, attempts int)
}

// Outcome reports how a handled error was resolved.
type Outcome struct {
	Recovered bool
	Strategy  Strategy
	Attempts  int
	Err       *errs.TradingError
	Elapsed   time.Duration
}

// Handler dispatches errors to recovery strategies. It keeps no state of its
// own; telemetry recording is the caller's responsibility (see Registry).
type Handler struct{}

// NewHandler constructs a Handler.
func NewHandler() *Handler { return &Handler{} }

// strategyFuncs is the closed dispatch table. Strategies absent from the
// table fall back to throw, matching the taxonomy's "unknown ⇒ THROW" rule.
var strategyFuncs = map[Strategy]func(h *Handler, ctx context.Context, err *errs.TradingError, opts Options) Outcome{
	StrategyRetry:    (*Handler).retry,
	StrategyFallback: (*Handler).fallback,
	StrategyDegrade:  (*Handler).degrade,
	StrategySkip:     (*Handler).skip,
	StrategyThrow:    (*Handler).throw,
}

// Handle normalizes raw and applies the configured strategy.
func (h *Handler) Handle(ctx context.Context, raw error, opts Options) Outcome {
	start := time.Now()
	terr := errs.Normalize(raw)
	if terr == nil {
		return Outcome{Recovered: true, Strategy: opts.Strategy, Elapsed: time.Since(start)}
	}

	fn, ok := strategyFuncs[opts.Strategy]
	if !ok {
		fn = (*Handler).throw
	}
	out := fn(h, ctx, terr, opts)
	out.Elapsed = time.Since(start)
	return out
}

func (h *Handler) retry(ctx context.Context, terr *errs.TradingError, opts Options) Outcome {
	if !terr.Retryable() {
		logx.WithContext(ctx).Errorf("recovery: %s is not retryable, giving up", terr.Code)
		if opts.OnFailure != nil {
			opts.OnFailure(terr, 0)
		}
		return Outcome{Strategy: StrategyRetry, Err: terr}
	}

	policy := opts.Retry.withDefaults()
	lastErr := terr
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		delay := policy.delayFor(attempt, lastErr)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr, delay)
		}
		logx.WithContext(ctx).Infof("recovery: retry %d/%d for %s after %s",
			attempt, policy.MaxAttempts, lastErr.Code, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Outcome{Strategy: StrategyRetry, Attempts: attempt, Err: errs.Normalize(ctx.Err())}
		}

		if opts.Op == nil {
			continue
		}
		if err := opts.Op(ctx); err == nil {
			if opts.OnRecover != nil {
				opts.OnRecover(StrategyRetry, attempt)
			}
			return Outcome{Recovered: true, Strategy: StrategyRetry, Attempts: attempt}
		} else {
			lastErr = errs.Normalize(err)
			if !lastErr.Retryable() {
				break
			}
		}
	}

	if opts.OnFailure != nil {
		opts.OnFailure(lastErr, policy.MaxAttempts)
	}
	return Outcome{Strategy: StrategyRetry, Attempts: policy.MaxAttempts, Err: lastErr}
}

func (h *Handler) fallback(ctx context.Context, terr *errs.TradingError, opts Options) Outcome {
	logx.WithContext(ctx).Infof("recovery: fallback engaged for %s", terr.Code)
	if opts.OnRecover != nil {
		opts.OnRecover(StrategyFallback, 0)
	}
	return Outcome{Recovered: true, Strategy: StrategyFallback, Err: terr}
}

func (h *Handler) degrade(ctx context.Context, terr *errs.TradingError, opts Options) Outcome {
	logx.WithContext(ctx).Slowf("recovery: degraded operation, continuing without %s", terr.Code)
	if opts.OnRecover != nil {
		opts.OnRecover(StrategyDegrade, 0)
	}
	return Outcome{Recovered: true, Strategy: StrategyDegrade, Err: terr}
}

func (h *Handler) skip(ctx context.Context, terr *errs.TradingError, opts Options) Outcome {
	logx.WithContext(ctx).Slowf("recovery: skipping operation after %s", terr.Code)
	if opts.OnRecover != nil {
		opts.OnRecover(StrategySkip, 0)
	}
	return Outcome{Recovered: true, Strategy: StrategySkip, Err: terr}
}

func (h *Handler) throw(ctx context.Context, terr *errs.TradingError, opts Options) Outcome {
	if opts.OnFailure != nil {
		opts.OnFailure(terr, 0)
	}
	return Outcome{Strategy: StrategyThrow, Err: terr}
}

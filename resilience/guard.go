package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// Guard is the resilience wrapper around the backend connection. Every
// backend call passes through Execute, which applies a per-call timeout,
// fails fast while the circuit is open, retries transient failures with
// exponential backoff, and maps exhausted retries to a terminal
// availability error.
//
// One Guard owns one CircuitBreaker: the breaker state is per-connection,
// shared by reference among all callers of the same guard.
type Guard struct {
	breaker *CircuitBreaker
	retry   *RetryConfig
	timeout time.Duration
	logger  core.Logger
	metrics MetricsCollector
}

// GuardConfig configures a connection guard.
type GuardConfig struct {
	FailureThreshold int
	CoolDown         time.Duration
	CallTimeout      time.Duration
	Retry            *RetryConfig
	Logger           core.Logger
	Metrics          MetricsCollector
}

// NewGuard creates a guard with its own circuit breaker.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &noopMetrics{}
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}

	breaker := NewCircuitBreaker(cfg.FailureThreshold, cfg.CoolDown, cfg.Logger)
	breaker.SetMetrics(cfg.Metrics)

	return &Guard{
		breaker: breaker,
		retry:   cfg.Retry,
		timeout: cfg.CallTimeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Execute runs fn with circuit breaker and retry protection. The op name is
// used for logging and metrics only.
//
// Error contract: ErrCircuitOpen when rejected fast, ErrBackendUnavailable
// when retries exhaust, and the original error unchanged for validation and
// not-found failures.
func (g *Guard) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	err := Retry(ctx, g.retry, func() error {
		if !g.breaker.Allow() {
			g.metrics.RecordRejection(op)
			return fmt.Errorf("%s rejected: %w", op, core.ErrCircuitOpen)
		}

		callErr := fn(ctx)
		if callErr == nil {
			g.breaker.RecordSuccess()
			g.metrics.RecordSuccess(op)
			return nil
		}

		// Timeouts surface as transient failures and feed the breaker;
		// caller mistakes do not.
		if errors.Is(callErr, context.DeadlineExceeded) {
			callErr = fmt.Errorf("%s: %v: %w", op, callErr, core.ErrTimeout)
		}
		switch {
		case core.IsTransient(callErr):
			g.breaker.RecordFailure()
			g.metrics.RecordFailure(op)
		case errors.Is(callErr, context.Canceled):
			// The caller gave up mid-call; no evidence about the backend,
			// so a half-open trial slot must be released rather than held.
			g.breaker.CancelTrial()
		default:
			// A completed round-trip that returned a caller-level error
			// (not-found, invalid input) proves the backend is reachable.
			// Recording it as success lets a half-open trial close the
			// circuit instead of wedging it.
			g.breaker.RecordSuccess()
		}
		return callErr
	})

	if err == nil {
		return nil
	}

	if errors.Is(err, core.ErrCircuitOpen) {
		g.logger.Debug("Backend call rejected by open circuit", map[string]interface{}{
			"operation": op,
			"state":     g.breaker.State(),
		})
		return err
	}

	if errors.Is(err, core.ErrMaxRetriesExceeded) || core.IsTransient(err) {
		g.logger.Error("Backend call failed after retries", map[string]interface{}{
			"operation":   op,
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("%s: %v: %w", op, err, core.ErrBackendUnavailable)
	}

	return err
}

// Breaker exposes the shared circuit breaker for state reporting and
// manual reset.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

package resilience

import (
	"sync"
	"time"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a single trial request
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of breaker state for health reporting.
type Snapshot struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Rejections          uint64    `json:"rejections"`
	LastTransition      time.Time `json:"last_transition"`
}

// CircuitBreaker fails fast during sustained backend outages. It counts
// consecutive failures while closed; at the threshold it opens and rejects
// every call without touching the network. After the cool-down one trial
// call is allowed: success closes the circuit, failure reopens it and
// restarts the cool-down.
//
// One breaker instance is shared per backend connection. All state is
// guarded by a single mutex; concurrent callers reporting success and
// failure simultaneously never race.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	coolDown  time.Duration

	state          CircuitState
	failures       int
	openedAt       time.Time
	trialInFlight  bool
	lastTransition time.Time
	rejections     uint64

	logger  core.Logger
	metrics MetricsCollector
}

// NewCircuitBreaker creates a breaker with the given consecutive-failure
// threshold and cool-down.
func NewCircuitBreaker(threshold int, coolDown time.Duration, logger core.Logger) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &CircuitBreaker{
		threshold:      threshold,
		coolDown:       coolDown,
		state:          StateClosed,
		lastTransition: time.Now(),
		logger:         logger,
		metrics:        &noopMetrics{},
	}
}

// SetMetrics attaches a metrics collector for state changes and rejections.
func (cb *CircuitBreaker) SetMetrics(m MetricsCollector) {
	if m == nil {
		m = &noopMetrics{}
	}
	cb.mu.Lock()
	cb.metrics = m
	cb.mu.Unlock()
}

// Allow reports whether a call may proceed. In the open state it flips to
// half-open once the cool-down has elapsed; in half-open only one trial
// call is admitted until its result is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) < cb.coolDown {
			cb.rejections++
			return false
		}
		cb.transition(StateHalfOpen)
		cb.trialInFlight = true
		return true
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.rejections++
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.failures = 0
		cb.transition(StateClosed)
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure reports a failed call. Only transient backend failures
// should be recorded; validation and not-found errors are the caller's
// problem, not the backend's.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++

	switch cb.state {
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.openedAt = time.Now()
		cb.transition(StateOpen)
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.openedAt = time.Now()
			cb.transition(StateOpen)
		}
	}
}

// CancelTrial releases the half-open trial slot without a verdict. Used
// when a call was abandoned by its caller before producing evidence about
// the backend either way; the next caller becomes the trial.
func (cb *CircuitBreaker) CancelTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
}

// Reset forces the breaker to closed and clears the failure count. Used for
// operator-initiated recovery and deterministic testing.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialInFlight = false
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
	cb.logger.Info("Circuit breaker reset", map[string]interface{}{
		"operation": "circuit_breaker_reset",
		"state":     cb.state.String(),
	})
}

// State returns the current state name.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// GetState returns the current state plus failure count for external
// health reporting.
func (cb *CircuitBreaker) GetState() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.failures,
		Rejections:          cb.rejections,
		LastTransition:      cb.lastTransition,
	}
}

// transition changes state (must be called with lock held)
func (cb *CircuitBreaker) transition(next CircuitState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	cb.lastTransition = time.Now()

	cb.logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation": "circuit_breaker_transition",
		"from":      prev.String(),
		"to":        next.String(),
		"failures":  cb.failures,
	})
	cb.metrics.RecordStateChange(prev.String(), next.String())
}

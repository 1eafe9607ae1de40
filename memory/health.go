package memory

import (
	"context"
	"time"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/backend"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// HealthMonitor observes backend connectivity. Checks call the backend
// directly, bypassing the guard: a health probe must report the current
// state, not mask it behind retries or fail fast on an open circuit.
type HealthMonitor struct {
	backend backend.Backend
	timeout time.Duration
	logger  core.Logger
}

// NewHealthMonitor builds a monitor with the given probe timeout. Zero
// means 5 seconds.
func NewHealthMonitor(b backend.Backend, timeout time.Duration, logger core.Logger) *HealthMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HealthMonitor{backend: b, timeout: timeout, logger: logger}
}

// Check performs a single observation. An unreachable backend is a normal
// result, reported in the HealthReport rather than as an error.
func (h *HealthMonitor) Check(ctx context.Context) *core.HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	version, err := h.backend.Ping(ctx)
	report := &core.HealthReport{
		Latency:   time.Since(start),
		CheckedAt: start.UTC(),
	}
	if err != nil {
		report.Error = err.Error()
		h.logger.Warn("Health check failed", map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": report.Latency.Milliseconds(),
		})
		return report
	}

	report.Reachable = true
	report.Version = version
	return report
}

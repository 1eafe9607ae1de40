// Package agentmem wires the agent memory system together: configuration,
// backend selection, the connection guard, schema management, health
// monitoring, and per-agent memory managers.
//
// Typical usage:
//
//	system, err := agentmem.NewSystem(
//	    core.WithBackendDriver("redis"),
//	    core.WithRedisURL("redis://localhost:6379"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer system.Close()
//
//	if err := system.Initialize(ctx); err != nil {
//	    return err
//	}
//
//	mgr, err := system.Manager("reviewer", "project-alpha")
//	if err != nil {
//	    return err
//	}
//	mem, err := mgr.Remember(ctx, "Always check error returns", memory.RememberOptions{
//	    Category:   "code-review",
//	    Confidence: memory.Float64(0.6),
//	})
package agentmem

import (
	"context"
	"fmt"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/backend"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/memory"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/resilience"
)

// System owns the backend connection and the shared components built on
// top of it. One System serves any number of Managers.
type System struct {
	config  *core.Config
	logger  core.Logger
	backend backend.Backend
	guard   *resilience.Guard
	store   *memory.Store
	quality *memory.QualityEngine
	schema  *memory.SchemaManager
	health  *memory.HealthMonitor
}

// NewSystem builds a System from configuration options. The backend
// connection is established here; Initialize provisions the schema.
func NewSystem(opts ...core.Option) (*System, error) {
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()

	b, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	return newSystem(cfg, logger, b)
}

// NewSystemWithBackend builds a System over an already-constructed
// backend. Used by tests and by callers with custom backends.
func NewSystemWithBackend(b backend.Backend, opts ...core.Option) (*System, error) {
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newSystem(cfg, cfg.NewLogger(), b)
}

func newSystem(cfg *core.Config, logger core.Logger, b backend.Backend) (*System, error) {
	metrics, err := resilience.NewOTelMetricsCollector()
	if err != nil {
		logger.Warn("Metrics collector unavailable, continuing without metrics", map[string]interface{}{
			"error": err.Error(),
		})
		metrics = nil
	}

	var collector resilience.MetricsCollector
	if metrics != nil {
		collector = metrics
	}

	guard := resilience.NewGuard(resilience.GuardConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		CoolDown:         cfg.Resilience.CoolDown,
		CallTimeout:      cfg.Resilience.CallTimeout,
		Retry: &resilience.RetryConfig{
			MaxAttempts:   cfg.Resilience.MaxAttempts,
			InitialDelay:  cfg.Resilience.InitialDelay,
			MaxDelay:      cfg.Resilience.MaxDelay,
			BackoffFactor: cfg.Resilience.BackoffFactor,
			JitterEnabled: cfg.Resilience.JitterEnabled,
		},
		Logger:  logger,
		Metrics: collector,
	})

	var cacheTTL = cfg.Cache.TTL
	if !cfg.Cache.Enabled {
		cacheTTL = 0
	}

	store := memory.NewStore(memory.StoreConfig{
		Backend:  b,
		Guard:    guard,
		Logger:   logger,
		CacheTTL: cacheTTL,
	})

	return &System{
		config:  cfg,
		logger:  logger,
		backend: b,
		guard:   guard,
		store:   store,
		quality: memory.NewQualityEngine(cfg.Quality),
		schema:  memory.NewSchemaManager(b, guard, nil, logger),
		health:  memory.NewHealthMonitor(b, cfg.Resilience.CallTimeout, logger),
	}, nil
}

func openBackend(cfg *core.Config, logger core.Logger) (backend.Backend, error) {
	switch cfg.Backend.Driver {
	case "redis":
		return backend.NewRedisBackend(backend.RedisOptions{
			URL:       cfg.Backend.RedisURL,
			DB:        cfg.Backend.RedisDB,
			Namespace: cfg.Backend.Namespace,
			Logger:    logger,
		})
	case "sqlite", "postgres":
		return backend.NewSQLBackend(backend.SQLOptions{
			Driver:      cfg.Backend.Driver,
			SQLitePath:  cfg.Backend.SQLitePath,
			PostgresDSN: cfg.Backend.PostgresDSN,
			Logger:      logger,
		})
	case "inmem":
		return backend.NewInMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend driver %q: %w", cfg.Backend.Driver, core.ErrInvalidConfiguration)
	}
}

// Initialize provisions the backend schema. Idempotent.
func (s *System) Initialize(ctx context.Context) error {
	return s.schema.Initialize(ctx)
}

// VerifySchema reports which schema elements exist.
func (s *System) VerifySchema(ctx context.Context) (*core.SchemaReport, error) {
	return s.schema.Verify(ctx)
}

// Health performs a single connectivity observation.
func (s *System) Health(ctx context.Context) *core.HealthReport {
	return s.health.Check(ctx)
}

// Manager returns an agent-facing manager bound to the given agent type
// and project. An empty projectID binds to global scope only.
func (s *System) Manager(agentType, projectID string) (*memory.Manager, error) {
	return memory.NewManager(memory.ManagerConfig{
		Store:     s.store,
		Quality:   s.quality,
		AgentType: agentType,
		ProjectID: projectID,
		Recall:    s.config.Recall,
		Logger:    s.logger,
	})
}

// Store exposes the guarded store for callers that need direct access.
func (s *System) Store() *memory.Store {
	return s.store
}

// GuardState returns the circuit breaker snapshot for observability.
func (s *System) GuardState() resilience.Snapshot {
	return s.guard.Breaker().GetState()
}

// ResetGuard manually closes the circuit breaker after an operator has
// confirmed the backend recovered.
func (s *System) ResetGuard() {
	s.guard.Breaker().Reset()
}

// Close releases the backend connection.
func (s *System) Close() error {
	return s.backend.Close()
}

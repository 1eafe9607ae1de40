package memory

import (
	"context"
	"fmt"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/backend"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/resilience"
)

// SchemaManager provisions and verifies backend schema elements: the
// uniqueness constraint, the scope indexes, and the agent type catalog.
// All calls run through the connection guard.
type SchemaManager struct {
	backend    backend.Backend
	guard      *resilience.Guard
	agentTypes []string
	logger     core.Logger
}

// NewSchemaManager builds a schema manager for the given agent type
// catalog. A nil or empty catalog uses the default agent types.
func NewSchemaManager(b backend.Backend, guard *resilience.Guard, agentTypes []string, logger core.Logger) *SchemaManager {
	if len(agentTypes) == 0 {
		agentTypes = core.DefaultAgentTypes
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SchemaManager{
		backend:    b,
		guard:      guard,
		agentTypes: agentTypes,
		logger:     logger,
	}
}

// Initialize provisions all schema elements. Re-running against an
// already-provisioned backend succeeds without duplicating anything.
func (s *SchemaManager) Initialize(ctx context.Context) error {
	err := s.guard.Execute(ctx, "schema.initialize", func(ctx context.Context) error {
		return s.backend.EnsureSchema(ctx, s.agentTypes)
	})
	if err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	s.logger.Info("Schema initialized", map[string]interface{}{
		"agent_types": len(s.agentTypes),
	})
	return nil
}

// Verify reports schema state without modifying anything. Missing elements
// are reported in the result, not as an error; only backend failures
// return an error.
func (s *SchemaManager) Verify(ctx context.Context) (*core.SchemaReport, error) {
	var report *core.SchemaReport
	err := s.guard.Execute(ctx, "schema.verify", func(ctx context.Context) error {
		r, err := s.backend.VerifySchema(ctx, s.agentTypes)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("schema verification failed: %w", err)
	}
	if !report.Complete {
		s.logger.Warn("Schema incomplete", map[string]interface{}{
			"missing": report.Missing(),
		})
	}
	return report, nil
}

// AgentTypes returns the catalog this manager provisions.
func (s *SchemaManager) AgentTypes() []string {
	out := make([]string, len(s.agentTypes))
	copy(out, s.agentTypes)
	return out
}

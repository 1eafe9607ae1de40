package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/backend"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// Manager is the agent-facing API, bound to one agent type and project.
// Every operation applies that scope; an agent can never read or write
// another agent type's records, and project isolation holds unless a
// record has been promoted to global.
type Manager struct {
	store      *Store
	quality    *QualityEngine
	agentType  string
	projectID  string
	instanceID string
	recall     core.RecallConfig
	logger     core.Logger
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store     *Store
	Quality   *QualityEngine
	AgentType string

	// ProjectID scopes writes and project-local reads. Empty means the
	// manager works in global scope only.
	ProjectID string

	Recall core.RecallConfig
	Logger core.Logger
}

// NewManager builds a manager bound to an agent type and project.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil || cfg.Quality == nil {
		return nil, fmt.Errorf("store and quality engine are required: %w", core.ErrInvalidConfiguration)
	}
	if strings.TrimSpace(cfg.AgentType) == "" {
		return nil, fmt.Errorf("agent type is required: %w", core.ErrInvalidConfiguration)
	}
	if cfg.Recall.DefaultLimit <= 0 {
		cfg.Recall.DefaultLimit = 20
	}
	if cfg.Recall.LearnMinQuality <= 0 {
		cfg.Recall.LearnMinQuality = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &Manager{
		store:      cfg.Store,
		quality:    cfg.Quality,
		agentType:  cfg.AgentType,
		projectID:  cfg.ProjectID,
		instanceID: uuid.New().String(),
		recall:     cfg.Recall,
		logger:     cfg.Logger,
	}, nil
}

// AgentType returns the bound agent type.
func (m *Manager) AgentType() string { return m.agentType }

// ProjectID returns the bound project scope.
func (m *Manager) ProjectID() string { return m.projectID }

// InstanceID identifies this manager instance in logs.
func (m *Manager) InstanceID() string { return m.instanceID }

// RememberOptions carries the optional fields of a new memory.
type RememberOptions struct {
	Category string
	Tags     []string

	// Confidence is the initial confidence in [0, 1]. Nil means the
	// default of 0.5; an explicit zero is legal and preserved.
	Confidence *float64
}

// Float64 returns a pointer to v, for setting optional fields like
// RememberOptions.Confidence from a literal.
func Float64(v float64) *float64 {
	return &v
}

// Remember stores a new memory in this manager's scope. Content must be
// non-empty and confidence must stay within [0, 1].
func (m *Manager) Remember(ctx context.Context, content string, opts RememberOptions) (*core.Memory, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("memory content must not be empty: %w", core.ErrInvalidInput)
	}
	confidence := 0.5
	if opts.Confidence != nil {
		if *opts.Confidence < 0 || *opts.Confidence > 1 {
			return nil, fmt.Errorf("confidence %g outside [0, 1]: %w", *opts.Confidence, core.ErrInvalidInput)
		}
		confidence = *opts.Confidence
	}

	record := &core.Memory{
		ID:            uuid.New().String(),
		Content:       content,
		Category:      opts.Category,
		Tags:          append([]string(nil), opts.Tags...),
		AgentType:     m.agentType,
		ProjectID:     m.projectID,
		OriginProject: m.projectID,
		Confidence:    confidence,
		CreatedAt:     time.Now().UTC(),
	}
	record.QualityScore = m.quality.Score(record)

	if err := m.store.Insert(ctx, record); err != nil {
		return nil, err
	}

	m.logger.Debug("Memory stored", map[string]interface{}{
		"memory_id":  record.ID,
		"agent_type": m.agentType,
		"project_id": m.projectID,
		"category":   record.Category,
	})
	return record, nil
}

// RecallOptions narrows a recall query.
type RecallOptions struct {
	Category   string
	Tags       []string
	MinQuality float64

	// ExcludeGlobal restricts results to project-scoped records.
	ExcludeGlobal bool

	// Limit caps results; zero means the configured default.
	Limit int
}

// Recall returns this scope's memories ordered by quality. Global records
// of the same agent type are included unless ExcludeGlobal is set.
func (m *Manager) Recall(ctx context.Context, opts RecallOptions) ([]*core.Memory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = m.recall.DefaultLimit
	}
	return m.store.Find(ctx, core.MemoryFilter{
		AgentType:     m.agentType,
		ProjectID:     m.projectID,
		IncludeGlobal: !opts.ExcludeGlobal,
		Category:      opts.Category,
		Tags:          opts.Tags,
		MinQuality:    opts.MinQuality,
		Limit:         limit,
	})
}

// Search returns scope memories whose content or tags contain the query,
// case-insensitively.
func (m *Manager) Search(ctx context.Context, query string, opts RecallOptions) ([]*core.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query must not be empty: %w", core.ErrInvalidInput)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = m.recall.DefaultLimit
	}
	return m.store.Find(ctx, core.MemoryFilter{
		AgentType:     m.agentType,
		ProjectID:     m.projectID,
		IncludeGlobal: !opts.ExcludeGlobal,
		Category:      opts.Category,
		Tags:          opts.Tags,
		MinQuality:    opts.MinQuality,
		Query:         query,
		Limit:         limit,
	})
}

// LearnOptions narrows a cross-project learning query.
type LearnOptions struct {
	Category string
	Tags     []string

	// MinQuality filters out low-quality records; zero means the
	// configured learning threshold.
	MinQuality float64

	Limit int
}

// LearnFromOthers returns global memories of this agent type, including
// those promoted out of other projects. Only records at or above the
// learning quality threshold are returned.
func (m *Manager) LearnFromOthers(ctx context.Context, opts LearnOptions) ([]*core.Memory, error) {
	minQuality := opts.MinQuality
	if minQuality <= 0 {
		minQuality = m.recall.LearnMinQuality
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = m.recall.DefaultLimit
	}
	return m.store.Find(ctx, core.MemoryFilter{
		AgentType:  m.agentType,
		GlobalOnly: true,
		Category:   opts.Category,
		Tags:       opts.Tags,
		MinQuality: minQuality,
		Limit:      limit,
	})
}

// BestPractices returns the highest-quality validated global memories of
// this agent type.
func (m *Manager) BestPractices(ctx context.Context, limit int) ([]*core.Memory, error) {
	if limit <= 0 {
		limit = m.recall.DefaultLimit
	}
	return m.store.Find(ctx, core.MemoryFilter{
		AgentType:      m.agentType,
		GlobalOnly:     true,
		MinQuality:     m.quality.promotionThreshold,
		MinValidations: 1,
		Limit:          limit,
	})
}

// ApplyMemory records one use of a memory: the usage counter increments,
// the applied timestamp updates, and quality is recomputed. Records
// outside this manager's scope report not found.
func (m *Manager) ApplyMemory(ctx context.Context, id string) (*core.Memory, error) {
	return m.touchMemory(ctx, id, backend.CounterDelta{
		Usage:     1,
		AppliedAt: time.Now().UTC(),
	})
}

// ValidateMemory records a validation outcome. Positive validations raise
// quality; negative ones are counted on the record without lowering the
// score.
func (m *Manager) ValidateMemory(ctx context.Context, id string, positive bool) (*core.Memory, error) {
	delta := backend.CounterDelta{}
	if positive {
		delta.Validation = 1
	} else {
		delta.NegativeValidation = 1
	}
	return m.touchMemory(ctx, id, delta)
}

// touchMemory is the shared apply/validate path: visibility check, atomic
// counter delta, quality recompute, then promotion when eligible.
func (m *Manager) touchMemory(ctx context.Context, id string, delta backend.CounterDelta) (*core.Memory, error) {
	current, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// A record outside this scope is indistinguishable from a missing one.
	if !current.VisibleTo(m.agentType, m.projectID) {
		return nil, core.ErrNotFound
	}

	updated, err := m.store.ApplyDelta(ctx, id, delta)
	if err != nil {
		return nil, err
	}

	score := m.quality.Score(updated)
	if score > updated.QualityScore {
		if err := m.store.UpdateQuality(ctx, id, score); err != nil {
			return nil, err
		}
		updated.QualityScore = score
	}

	if m.quality.ShouldPromote(updated) {
		promoted, err := m.store.Promote(ctx, id)
		if err != nil {
			return nil, err
		}
		if promoted {
			updated.Promoted = true
			updated.ProjectID = ""
			m.logger.Info("Memory promoted to global scope", map[string]interface{}{
				"memory_id":      id,
				"agent_type":     m.agentType,
				"origin_project": updated.OriginProject,
				"quality_score":  updated.QualityScore,
			})
		}
	}

	return updated, nil
}

// Stats aggregates memory counts for this manager's scope.
func (m *Manager) Stats(ctx context.Context) (*core.MemoryStats, error) {
	return m.store.Stats(ctx, m.agentType, m.projectID)
}

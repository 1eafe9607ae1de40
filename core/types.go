package core

import (
	"sort"
	"strings"
	"time"
)

// Memory is a persisted unit of agent-learned experience. All fields are
// plain data; no backend types leak through this struct.
type Memory struct {
	ID            string   `json:"id" yaml:"id"`
	Content       string   `json:"content" yaml:"content"`
	Category      string   `json:"category" yaml:"category"`
	Tags          []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	AgentType     string   `json:"agent_type" yaml:"agent_type"`
	ProjectID     string   `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	OriginProject string   `json:"origin_project,omitempty" yaml:"origin_project,omitempty"`

	Confidence   float64 `json:"confidence" yaml:"confidence"`
	QualityScore float64 `json:"quality_score" yaml:"quality_score"`

	UsageCount              int64 `json:"usage_count" yaml:"usage_count"`
	ValidationCount         int64 `json:"validation_count" yaml:"validation_count"`
	NegativeValidationCount int64 `json:"negative_validation_count" yaml:"negative_validation_count"`

	Promoted      bool      `json:"promoted" yaml:"promoted"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	LastAppliedAt time.Time `json:"last_applied_at,omitempty" yaml:"last_applied_at,omitempty"`
}

// IsGlobal reports whether the memory is visible across projects.
// An empty ProjectID denotes global scope.
func (m *Memory) IsGlobal() bool {
	return m.ProjectID == ""
}

// VisibleTo reports whether a caller bound to (agentType, projectID) may see
// this memory. Agent type isolation is absolute; project isolation yields to
// global scope.
func (m *Memory) VisibleTo(agentType, projectID string) bool {
	if m.AgentType != agentType {
		return false
	}
	if m.IsGlobal() {
		return true
	}
	return m.ProjectID == projectID
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Callers that cache records hand out clones so
// shared slices are never aliased across goroutines.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	return &c
}

// MemoryFilter describes a memory query. The zero value matches nothing
// useful; AgentType is always required.
type MemoryFilter struct {
	AgentType string

	// ProjectID scopes the query; combined with IncludeGlobal it unions
	// project-scoped and global records. GlobalOnly restricts the query to
	// global records regardless of ProjectID.
	ProjectID     string
	IncludeGlobal bool
	GlobalOnly    bool

	Category       string
	Tags           []string
	MinQuality     float64
	MinValidations int64

	// Query is matched as a substring of content or any tag.
	Query string

	Limit int
}

// Matches reports whether a memory satisfies every predicate of the filter.
// Shared by backends that filter in process.
func (f MemoryFilter) Matches(m *Memory) bool {
	if m.AgentType != f.AgentType {
		return false
	}
	switch {
	case f.GlobalOnly:
		if !m.IsGlobal() {
			return false
		}
	case f.ProjectID == "":
		// Caller has no project scope: only global records are visible.
		if !m.IsGlobal() {
			return false
		}
	default:
		if !m.IsGlobal() && m.ProjectID != f.ProjectID {
			return false
		}
		if m.IsGlobal() && !f.IncludeGlobal {
			return false
		}
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if m.QualityScore < f.MinQuality {
		return false
	}
	if m.ValidationCount < f.MinValidations {
		return false
	}
	if len(f.Tags) > 0 {
		any := false
		for _, tag := range f.Tags {
			if m.HasTag(tag) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(m.Content), q) {
			tagged := false
			for _, tag := range m.Tags {
				if strings.Contains(strings.ToLower(tag), q) {
					tagged = true
					break
				}
			}
			if !tagged {
				return false
			}
		}
	}
	return true
}

// SortMemories orders results by quality score descending, tie-broken by
// last-applied time descending.
func SortMemories(memories []*Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		if memories[i].QualityScore != memories[j].QualityScore {
			return memories[i].QualityScore > memories[j].QualityScore
		}
		return memories[i].LastAppliedAt.After(memories[j].LastAppliedAt)
	})
}

// MemoryStats aggregates memory counts for one visibility scope.
type MemoryStats struct {
	TotalMemories  int64            `json:"total_memories"`
	AverageQuality float64          `json:"average_quality"`
	TotalUsage     int64            `json:"total_usage"`
	PromotedCount  int64            `json:"promoted_count"`
	ByCategory     map[string]int64 `json:"by_category"`
}

// SchemaElement is one constraint, index, or catalog entry tracked by
// schema verification.
type SchemaElement struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

// SchemaReport is the structured result of schema verification. Missing
// elements are a caller decision to re-run initialization, not an error.
type SchemaReport struct {
	Complete    bool            `json:"complete"`
	Constraints []SchemaElement `json:"constraints"`
	Indexes     []SchemaElement `json:"indexes"`
	AgentTypes  []SchemaElement `json:"agent_types"`
}

// Missing returns the names of all absent elements.
func (r *SchemaReport) Missing() []string {
	var missing []string
	for _, group := range [][]SchemaElement{r.Constraints, r.Indexes, r.AgentTypes} {
		for _, el := range group {
			if !el.Present {
				missing = append(missing, el.Name)
			}
		}
	}
	return missing
}

// HealthReport is a single backend liveness observation.
type HealthReport struct {
	Reachable bool          `json:"reachable"`
	Version   string        `json:"version,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     string        `json:"error,omitempty"`
}

// DefaultAgentTypes is the fixed agent type catalog seeded by the schema
// manager. Agent types are an isolation boundary and are never created by
// normal API calls.
var DefaultAgentTypes = []string{
	"architect",
	"builder",
	"reviewer",
	"tester",
	"optimizer",
	"security",
	"database",
	"api-designer",
	"integration",
	"analyzer",
	"cleanup",
	"pre-commit-diagnostic",
	"ci-diagnostic",
	"fix-agent",
}

// KnownAgentType reports whether the given type is in the default catalog.
func KnownAgentType(agentType string) bool {
	for _, t := range DefaultAgentTypes {
		if t == agentType {
			return true
		}
	}
	return false
}

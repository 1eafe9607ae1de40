// Package backend defines the pluggable storage boundary for the agent
// memory system. Implementations provide durable memory records with
// atomic per-record counter updates; the core logic above this interface
// is backend-agnostic.
package backend

import (
	"context"
	"time"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// schemaVersion marks a fully provisioned backend. Bump when the schema
// gains elements that EnsureSchema must create.
const schemaVersion = "1"

// CounterDelta describes an atomic counter update to one memory record.
// Deltas are applied at the backend (never read-modify-write from the
// caller), so concurrent updates to the same record cannot lose increments.
type CounterDelta struct {
	Usage              int64
	Validation         int64
	NegativeValidation int64

	// AppliedAt, when non-zero, updates the record's last-applied timestamp.
	AppliedAt time.Time
}

// Backend is the storage contract consumed by the memory store. All
// methods must be safe for concurrent use.
type Backend interface {
	// InsertMemory persists a new record. The id must be unique.
	InsertMemory(ctx context.Context, m *core.Memory) error

	// GetMemory returns a record by id, or core.ErrNotFound.
	GetMemory(ctx context.Context, id string) (*core.Memory, error)

	// FindMemories returns records matching the filter, ordered by quality
	// score descending then last-applied descending, capped at f.Limit.
	FindMemories(ctx context.Context, f core.MemoryFilter) ([]*core.Memory, error)

	// IncrementCounters atomically applies the delta and returns the updated
	// record. Returns core.ErrNotFound for unknown ids.
	IncrementCounters(ctx context.Context, id string, d CounterDelta) (*core.Memory, error)

	// UpdateQuality raises the stored quality score to the given value.
	// Scores never decrease: a lower value is a no-op, not an error.
	UpdateQuality(ctx context.Context, id string, score float64) error

	// PromoteMemory flips promoted=true and clears the project scope, as a
	// single conditional update keyed on promoted=false. Returns true only
	// for the write that actually promoted; repeated calls return false.
	PromoteMemory(ctx context.Context, id string) (bool, error)

	// Stats aggregates counts for one (agent type, project) scope. An empty
	// projectID aggregates the agent type's global records only.
	Stats(ctx context.Context, agentType, projectID string) (*core.MemoryStats, error)

	// EnsureSchema idempotently provisions constraints, indexes, and the
	// agent type catalog. Safe to re-run.
	EnsureSchema(ctx context.Context, agentTypes []string) error

	// VerifySchema reports which expected schema elements exist. Missing
	// elements appear in the report; only backend failures return an error.
	VerifySchema(ctx context.Context, agentTypes []string) (*core.SchemaReport, error)

	// Ping issues a minimal round-trip and returns the backend version.
	Ping(ctx context.Context) (string, error)

	// Close releases the underlying connection.
	Close() error
}

// statsFrom aggregates an already-filtered record set into summary stats.
func statsFrom(memories []*core.Memory) *core.MemoryStats {
	stats := &core.MemoryStats{
		TotalMemories: int64(len(memories)),
		ByCategory:    make(map[string]int64),
	}
	var qualitySum float64
	for _, m := range memories {
		qualitySum += m.QualityScore
		stats.TotalUsage += m.UsageCount
		if m.Promoted {
			stats.PromotedCount++
		}
		if m.Category != "" {
			stats.ByCategory[m.Category]++
		}
	}
	if len(memories) > 0 {
		stats.AverageQuality = qualitySum / float64(len(memories))
	}
	return stats
}

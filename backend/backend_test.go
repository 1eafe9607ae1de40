package backend

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

var testAgentTypes = []string{"reviewer", "tester"}

// eachBackend runs a subtest against every backend implementation that
// works without external services.
func eachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Helper()

	t.Run("inmem", func(t *testing.T) {
		b := NewInMemoryBackend()
		require.NoError(t, b.EnsureSchema(context.Background(), testAgentTypes))
		t.Cleanup(func() { b.Close() })
		fn(t, b)
	})

	t.Run("sqlite", func(t *testing.T) {
		b, err := NewSQLBackend(SQLOptions{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "agentmem.db"),
		})
		require.NoError(t, err)
		require.NoError(t, b.EnsureSchema(context.Background(), testAgentTypes))
		t.Cleanup(func() { b.Close() })
		fn(t, b)
	})
}

func newTestMemory(agentType, projectID string) *core.Memory {
	return &core.Memory{
		ID:            uuid.New().String(),
		Content:       "prefer table-driven tests",
		Category:      "testing",
		Tags:          []string{"go", "style"},
		AgentType:     agentType,
		ProjectID:     projectID,
		OriginProject: projectID,
		Confidence:    0.5,
		QualityScore:  0.5,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestBackendInsertAndGet(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		m := newTestMemory("reviewer", "proj-1")
		require.NoError(t, b.InsertMemory(ctx, m))

		got, err := b.GetMemory(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, m.Content, got.Content)
		assert.Equal(t, m.Category, got.Category)
		assert.Equal(t, m.Tags, got.Tags)
		assert.Equal(t, m.AgentType, got.AgentType)
		assert.Equal(t, m.ProjectID, got.ProjectID)
		assert.Equal(t, m.OriginProject, got.OriginProject)
		assert.Equal(t, m.Confidence, got.Confidence)
		assert.False(t, got.Promoted)
	})
}

func TestBackendGetMissing(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		_, err := b.GetMemory(context.Background(), uuid.New().String())
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})
}

func TestBackendRejectsDuplicateInsert(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		m := newTestMemory("reviewer", "proj-1")
		require.NoError(t, b.InsertMemory(ctx, m))

		err := b.InsertMemory(ctx, m)
		require.Error(t, err)
		assert.False(t, core.IsTransient(err), "duplicate ids are a caller error, not an outage")
	})
}

func TestBackendFindScoping(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		projectMem := newTestMemory("reviewer", "proj-1")
		otherProject := newTestMemory("reviewer", "proj-2")
		globalMem := newTestMemory("reviewer", "")
		otherAgent := newTestMemory("tester", "proj-1")
		for _, m := range []*core.Memory{projectMem, otherProject, globalMem, otherAgent} {
			require.NoError(t, b.InsertMemory(ctx, m))
		}

		withGlobal, err := b.FindMemories(ctx, core.MemoryFilter{
			AgentType: "reviewer", ProjectID: "proj-1", IncludeGlobal: true,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]string{projectMem.ID, globalMem.ID},
			idsOf(withGlobal))

		projectOnly, err := b.FindMemories(ctx, core.MemoryFilter{
			AgentType: "reviewer", ProjectID: "proj-1",
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{projectMem.ID}, idsOf(projectOnly))

		globalOnly, err := b.FindMemories(ctx, core.MemoryFilter{
			AgentType: "reviewer", GlobalOnly: true,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{globalMem.ID}, idsOf(globalOnly))
	})
}

func TestBackendFindOrderingAndLimit(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		scores := []float64{0.3, 0.9, 0.6}
		ids := make([]string, len(scores))
		for i, score := range scores {
			m := newTestMemory("reviewer", "proj-1")
			m.QualityScore = score
			ids[i] = m.ID
			require.NoError(t, b.InsertMemory(ctx, m))
		}

		results, err := b.FindMemories(ctx, core.MemoryFilter{
			AgentType: "reviewer", ProjectID: "proj-1", Limit: 2,
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, ids[1], results[0].ID, "highest quality first")
		assert.Equal(t, ids[2], results[1].ID)
	})
}

func TestBackendIncrementCounters(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		m := newTestMemory("reviewer", "proj-1")
		require.NoError(t, b.InsertMemory(ctx, m))

		applied := time.Now().UTC().Truncate(time.Second)
		updated, err := b.IncrementCounters(ctx, m.ID, CounterDelta{
			Usage:      1,
			Validation: 2,
			AppliedAt:  applied,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.UsageCount)
		assert.Equal(t, int64(2), updated.ValidationCount)
		assert.Equal(t, int64(0), updated.NegativeValidationCount)
		assert.False(t, updated.LastAppliedAt.IsZero())

		updated, err = b.IncrementCounters(ctx, m.ID, CounterDelta{NegativeValidation: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.NegativeValidationCount)

		_, err = b.IncrementCounters(ctx, uuid.New().String(), CounterDelta{Usage: 1})
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})
}

func TestBackendConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		m := newTestMemory("reviewer", "proj-1")
		require.NoError(t, b.InsertMemory(ctx, m))

		const workers = 20
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				_, err := b.IncrementCounters(ctx, m.ID, CounterDelta{Usage: 1})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := b.GetMemory(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), got.UsageCount)
	})
}

func TestBackendUpdateQualityIsMonotonic(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		m := newTestMemory("reviewer", "proj-1")
		require.NoError(t, b.InsertMemory(ctx, m))

		require.NoError(t, b.UpdateQuality(ctx, m.ID, 0.7))
		got, err := b.GetMemory(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.7, got.QualityScore)

		require.NoError(t, b.UpdateQuality(ctx, m.ID, 0.4), "lower score is a silent no-op")
		got, err = b.GetMemory(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.7, got.QualityScore)

		err = b.UpdateQuality(ctx, uuid.New().String(), 0.5)
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})
}

func TestBackendPromoteIsOneWay(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		m := newTestMemory("reviewer", "proj-1")
		require.NoError(t, b.InsertMemory(ctx, m))

		promoted, err := b.PromoteMemory(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, promoted)

		got, err := b.GetMemory(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, got.Promoted)
		assert.Empty(t, got.ProjectID, "promotion clears project scope")
		assert.Equal(t, "proj-1", got.OriginProject, "provenance survives promotion")

		promoted, err = b.PromoteMemory(ctx, m.ID)
		require.NoError(t, err)
		assert.False(t, promoted, "second promotion is a no-op")

		// The promoted record is now globally visible to its agent type.
		globals, err := b.FindMemories(ctx, core.MemoryFilter{AgentType: "reviewer", GlobalOnly: true})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{m.ID}, idsOf(globals))

		_, err = b.PromoteMemory(ctx, uuid.New().String())
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})
}

func TestBackendStats(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		first := newTestMemory("reviewer", "proj-1")
		first.QualityScore = 0.4
		first.UsageCount = 2
		second := newTestMemory("reviewer", "proj-1")
		second.QualityScore = 0.8
		second.Category = "debugging"
		globalMem := newTestMemory("reviewer", "")
		globalMem.QualityScore = 0.6
		globalMem.Promoted = true
		hidden := newTestMemory("reviewer", "proj-other")
		for _, m := range []*core.Memory{first, second, globalMem, hidden} {
			require.NoError(t, b.InsertMemory(ctx, m))
		}

		stats, err := b.Stats(ctx, "reviewer", "proj-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.TotalMemories)
		assert.Equal(t, int64(2), stats.TotalUsage)
		assert.Equal(t, int64(1), stats.PromotedCount)
		assert.InDelta(t, 0.6, stats.AverageQuality, 1e-9)
		assert.Equal(t, int64(2), stats.ByCategory["testing"])
		assert.Equal(t, int64(1), stats.ByCategory["debugging"])
	})
}

func TestBackendSchemaLifecycle(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		report, err := b.VerifySchema(ctx, testAgentTypes)
		require.NoError(t, err)
		assert.True(t, report.Complete, "eachBackend provisions before the test body")

		// Re-running initialization never fails or duplicates.
		require.NoError(t, b.EnsureSchema(ctx, testAgentTypes))
		report, err = b.VerifySchema(ctx, testAgentTypes)
		require.NoError(t, err)
		assert.True(t, report.Complete)
		assert.Empty(t, report.Missing())

		// An agent type absent from the catalog shows up as missing.
		report, err = b.VerifySchema(ctx, append([]string{"unseeded"}, testAgentTypes...))
		require.NoError(t, err)
		assert.False(t, report.Complete)
		assert.Contains(t, report.Missing(), "unseeded")
	})
}

func TestBackendPing(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		version, err := b.Ping(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, version)
	})
}

func TestInMemoryBackendFailureInjection(t *testing.T) {
	b := NewInMemoryBackend()
	ctx := context.Background()
	m := newTestMemory("reviewer", "proj-1")
	require.NoError(t, b.InsertMemory(ctx, m))

	b.FailNext(2, core.ErrConnectionFailed)

	_, err := b.GetMemory(ctx, m.ID)
	assert.True(t, errors.Is(err, core.ErrConnectionFailed))
	_, err = b.GetMemory(ctx, m.ID)
	assert.True(t, errors.Is(err, core.ErrConnectionFailed))

	got, err := b.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func idsOf(memories []*core.Memory) []string {
	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	return ids
}

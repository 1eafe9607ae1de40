package agentmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/backend"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/memory"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	system, err := NewSystem(
		core.WithBackendDriver("inmem"),
		core.WithLogging("error", "text"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })
	require.NoError(t, system.Initialize(context.Background()))
	return system
}

func TestSystemLifecycle(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	report, err := system.VerifySchema(ctx)
	require.NoError(t, err)
	assert.True(t, report.Complete)

	health := system.Health(ctx)
	assert.True(t, health.Reachable)
	assert.Equal(t, "inmem", health.Version)

	assert.Equal(t, "closed", system.GuardState().State)
}

func TestSystemEndToEnd(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	mgr, err := system.Manager("reviewer", "proj-alpha")
	require.NoError(t, err)

	stored, err := mgr.Remember(ctx, "prefer context-aware APIs", memory.RememberOptions{
		Category:   "api-design",
		Confidence: memory.Float64(0.6),
	})
	require.NoError(t, err)

	recalled, err := mgr.Recall(ctx, memory.RecallOptions{Category: "api-design"})
	require.NoError(t, err)
	require.Len(t, recalled, 1)
	assert.Equal(t, stored.ID, recalled[0].ID)

	applied, err := mgr.ApplyMemory(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied.UsageCount)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMemories)
}

func TestSystemManagerValidation(t *testing.T) {
	system := newTestSystem(t)

	_, err := system.Manager("", "proj-alpha")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestSystemRejectsUnknownDriver(t *testing.T) {
	_, err := NewSystem(core.WithBackendDriver("mongo"))
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestNewSystemWithBackend(t *testing.T) {
	b := backend.NewInMemoryBackend()
	system, err := NewSystemWithBackend(b,
		core.WithBackendDriver("inmem"),
		core.WithLogging("error", "text"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })

	require.NoError(t, system.Initialize(context.Background()))
	assert.True(t, system.Health(context.Background()).Reachable)
}

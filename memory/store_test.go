package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/backend"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/resilience"
)

func cachedStore(t *testing.T, ttl time.Duration) (*Store, *backend.InMemoryBackend) {
	t.Helper()
	b := backend.NewInMemoryBackend()
	guard := resilience.NewGuard(resilience.GuardConfig{
		FailureThreshold: 5,
		CoolDown:         time.Minute,
		Retry:            &resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1},
	})
	return NewStore(StoreConfig{Backend: b, Guard: guard, CacheTTL: ttl}), b
}

func seed(t *testing.T, b *backend.InMemoryBackend) *core.Memory {
	t.Helper()
	m := &core.Memory{
		ID:           "mem-1",
		Content:      "cached content",
		AgentType:    "reviewer",
		ProjectID:    "proj-1",
		Confidence:   0.5,
		QualityScore: 0.5,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, b.InsertMemory(context.Background(), m))
	return m
}

func TestStoreGetServesFromCache(t *testing.T) {
	store, b := cachedStore(t, time.Minute)
	m := seed(t, b)
	ctx := context.Background()

	first, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	after := b.CallCount

	second, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, after, b.CallCount, "second read is a cache hit")
	assert.Equal(t, first.Content, second.Content)
}

func TestStoreCacheExpires(t *testing.T) {
	store, b := cachedStore(t, 20*time.Millisecond)
	m := seed(t, b)
	ctx := context.Background()

	_, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	after := b.CallCount

	time.Sleep(30 * time.Millisecond)
	_, err = store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, after+1, b.CallCount, "expired entry falls through to the backend")
}

func TestStoreMutationsInvalidateCache(t *testing.T) {
	store, b := cachedStore(t, time.Minute)
	m := seed(t, b)
	ctx := context.Background()

	_, err := store.Get(ctx, m.ID)
	require.NoError(t, err)

	_, err = store.ApplyDelta(ctx, m.ID, backend.CounterDelta{Usage: 1})
	require.NoError(t, err)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount, "reads after a mutation see the new state")

	require.NoError(t, store.UpdateQuality(ctx, m.ID, 0.9))
	got, err = store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.QualityScore)

	promoted, err := store.Promote(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, promoted)
	got, err = store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Promoted)
}

func TestStoreCachedRecordsAreIsolatedCopies(t *testing.T) {
	store, b := cachedStore(t, time.Minute)
	m := seed(t, b)
	ctx := context.Background()

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	got.Content = "mutated by caller"

	again, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached content", again.Content)
}

func TestStoreDisabledCacheAlwaysHitsBackend(t *testing.T) {
	store, b := cachedStore(t, 0)
	m := seed(t, b)
	ctx := context.Background()

	_, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	after := b.CallCount

	_, err = store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, after+1, b.CallCount)
}

// Package memory implements the shared agent memory system: a guarded
// store over a pluggable backend, quality scoring with one-way promotion,
// and per-agent managers scoped to an agent type and project.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/backend"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/resilience"
)

// Store routes every backend call through the connection guard and keeps a
// short-lived read cache for single-record lookups. Mutations invalidate
// the cached entry before returning.
type Store struct {
	backend backend.Backend
	guard   *resilience.Guard
	logger  core.Logger

	cacheEnabled bool
	cacheTTL     time.Duration
	cacheMu      sync.RWMutex
	cache        map[string]cacheEntry
}

type cacheEntry struct {
	memory  *core.Memory
	expires time.Time
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Backend backend.Backend
	Guard   *resilience.Guard
	Logger  core.Logger

	// CacheTTL enables the read cache when positive.
	CacheTTL time.Duration
}

// NewStore builds a Store. Backend and Guard are required.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &Store{
		backend:      cfg.Backend,
		guard:        cfg.Guard,
		logger:       cfg.Logger,
		cacheEnabled: cfg.CacheTTL > 0,
		cacheTTL:     cfg.CacheTTL,
		cache:        make(map[string]cacheEntry),
	}
}

// Insert persists a new memory record.
func (s *Store) Insert(ctx context.Context, m *core.Memory) error {
	return s.guard.Execute(ctx, "store.insert", func(ctx context.Context) error {
		return s.backend.InsertMemory(ctx, m)
	})
}

// Get returns a record by id, serving from the read cache when fresh.
func (s *Store) Get(ctx context.Context, id string) (*core.Memory, error) {
	if m := s.cached(id); m != nil {
		return m, nil
	}

	var result *core.Memory
	err := s.guard.Execute(ctx, "store.get", func(ctx context.Context) error {
		m, err := s.backend.GetMemory(ctx, id)
		if err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cachePut(result)
	return result.Clone(), nil
}

// Find returns records matching the filter. Results bypass the cache;
// list queries are always served fresh.
func (s *Store) Find(ctx context.Context, f core.MemoryFilter) ([]*core.Memory, error) {
	var results []*core.Memory
	err := s.guard.Execute(ctx, "store.find", func(ctx context.Context) error {
		ms, err := s.backend.FindMemories(ctx, f)
		if err != nil {
			return err
		}
		results = ms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ApplyDelta atomically updates a record's counters and returns the new
// state.
func (s *Store) ApplyDelta(ctx context.Context, id string, d backend.CounterDelta) (*core.Memory, error) {
	s.invalidate(id)
	var result *core.Memory
	err := s.guard.Execute(ctx, "store.apply_delta", func(ctx context.Context) error {
		m, err := s.backend.IncrementCounters(ctx, id, d)
		if err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateQuality raises a record's stored quality score.
func (s *Store) UpdateQuality(ctx context.Context, id string, score float64) error {
	s.invalidate(id)
	return s.guard.Execute(ctx, "store.update_quality", func(ctx context.Context) error {
		return s.backend.UpdateQuality(ctx, id, score)
	})
}

// Promote performs the one-way promotion transition. Returns true only
// when this call performed the promotion.
func (s *Store) Promote(ctx context.Context, id string) (bool, error) {
	s.invalidate(id)
	var promoted bool
	err := s.guard.Execute(ctx, "store.promote", func(ctx context.Context) error {
		ok, err := s.backend.PromoteMemory(ctx, id)
		if err != nil {
			return err
		}
		promoted = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return promoted, nil
}

// Stats aggregates counts for one (agent type, project) scope.
func (s *Store) Stats(ctx context.Context, agentType, projectID string) (*core.MemoryStats, error) {
	var stats *core.MemoryStats
	err := s.guard.Execute(ctx, "store.stats", func(ctx context.Context) error {
		st, err := s.backend.Stats(ctx, agentType, projectID)
		if err != nil {
			return err
		}
		stats = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Guard exposes the connection guard for state inspection and reset.
func (s *Store) Guard() *resilience.Guard {
	return s.guard
}

func (s *Store) cached(id string) *core.Memory {
	if !s.cacheEnabled {
		return nil
	}
	s.cacheMu.RLock()
	entry, ok := s.cache[id]
	s.cacheMu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil
	}
	return entry.memory.Clone()
}

func (s *Store) cachePut(m *core.Memory) {
	if !s.cacheEnabled {
		return
	}
	s.cacheMu.Lock()
	s.cache[m.ID] = cacheEntry{
		memory:  m.Clone(),
		expires: time.Now().Add(s.cacheTTL),
	}
	s.cacheMu.Unlock()
}

func (s *Store) invalidate(id string) {
	if !s.cacheEnabled {
		return
	}
	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()
}

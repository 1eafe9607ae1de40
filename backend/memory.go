package backend

import (
	"context"
	"sync"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// InMemoryBackend is a Backend kept entirely in process memory. It exists
// for tests and local development; FailNext makes backend outages
// reproducible without a real server.
type InMemoryBackend struct {
	mu          sync.Mutex
	memories    map[string]*core.Memory
	agentTypes  map[string]bool
	provisioned bool
	closed      bool

	failuresLeft int
	failWith     error

	// CallCount tracks how many backend operations ran, failures included.
	CallCount int64
}

// NewInMemoryBackend creates an empty in-memory backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		memories:   make(map[string]*core.Memory),
		agentTypes: make(map[string]bool),
	}
}

// FailNext makes the next n operations return err. Used to exercise retry
// and circuit breaker paths.
func (b *InMemoryBackend) FailNext(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failuresLeft = n
	b.failWith = err
}

// checkFailure consumes one injected failure if any remain. Callers must
// hold the mutex.
func (b *InMemoryBackend) checkFailure() error {
	b.CallCount++
	if b.failuresLeft > 0 {
		b.failuresLeft--
		return b.failWith
	}
	return nil
}

func (b *InMemoryBackend) InsertMemory(ctx context.Context, m *core.Memory) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return err
	}
	if _, ok := b.memories[m.ID]; ok {
		return core.ErrInvalidInput
	}
	b.memories[m.ID] = m.Clone()
	return nil
}

func (b *InMemoryBackend) GetMemory(ctx context.Context, id string) (*core.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return nil, err
	}
	m, ok := b.memories[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return m.Clone(), nil
}

func (b *InMemoryBackend) FindMemories(ctx context.Context, f core.MemoryFilter) ([]*core.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return nil, err
	}
	results := make([]*core.Memory, 0)
	for _, m := range b.memories {
		if f.Matches(m) {
			results = append(results, m.Clone())
		}
	}
	core.SortMemories(results)
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

func (b *InMemoryBackend) IncrementCounters(ctx context.Context, id string, d CounterDelta) (*core.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return nil, err
	}
	m, ok := b.memories[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	m.UsageCount += d.Usage
	m.ValidationCount += d.Validation
	m.NegativeValidationCount += d.NegativeValidation
	if !d.AppliedAt.IsZero() {
		m.LastAppliedAt = d.AppliedAt.UTC()
	}
	return m.Clone(), nil
}

func (b *InMemoryBackend) UpdateQuality(ctx context.Context, id string, score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return err
	}
	m, ok := b.memories[id]
	if !ok {
		return core.ErrNotFound
	}
	if score > m.QualityScore {
		m.QualityScore = score
	}
	return nil
}

func (b *InMemoryBackend) PromoteMemory(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return false, err
	}
	m, ok := b.memories[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if m.Promoted {
		return false, nil
	}
	m.Promoted = true
	m.ProjectID = ""
	return true, nil
}

func (b *InMemoryBackend) Stats(ctx context.Context, agentType, projectID string) (*core.MemoryStats, error) {
	memories, err := b.FindMemories(ctx, core.MemoryFilter{
		AgentType:     agentType,
		ProjectID:     projectID,
		IncludeGlobal: true,
	})
	if err != nil {
		return nil, err
	}
	return statsFrom(memories), nil
}

func (b *InMemoryBackend) EnsureSchema(ctx context.Context, agentTypes []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return err
	}
	for _, t := range agentTypes {
		b.agentTypes[t] = true
	}
	b.provisioned = true
	return nil
}

func (b *InMemoryBackend) VerifySchema(ctx context.Context, agentTypes []string) (*core.SchemaReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return nil, err
	}
	report := &core.SchemaReport{
		Constraints: []core.SchemaElement{
			{Name: "memory_id_unique", Present: b.provisioned},
		},
		Indexes: []core.SchemaElement{
			{Name: "idx_agent_type", Present: b.provisioned},
			{Name: "idx_project_scope", Present: b.provisioned},
			{Name: "idx_global_scope", Present: b.provisioned},
		},
	}
	for _, t := range agentTypes {
		report.AgentTypes = append(report.AgentTypes, core.SchemaElement{Name: t, Present: b.agentTypes[t]})
	}
	report.Complete = len(report.Missing()) == 0
	return report, nil
}

func (b *InMemoryBackend) Ping(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFailure(); err != nil {
		return "", err
	}
	if b.closed {
		return "", core.ErrConnectionFailed
	}
	return "inmem", nil
}

func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

var _ Backend = (*InMemoryBackend)(nil)

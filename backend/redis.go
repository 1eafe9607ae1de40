package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// Key layout (namespace default "agentmem"):
//
//	<ns>:memory:<id>              hash, one per record
//	<ns>:idx:agent:<type>         set of ids owned by the agent type
//	<ns>:idx:project:<type>:<p>   set of project-scoped ids
//	<ns>:idx:global:<type>        set of globally visible ids
//	<ns>:agent-types              agent type catalog
//	<ns>:schema:version           provisioning marker
//
// Promotion moves an id from the project set to the global set in the same
// script that flips the promoted flag, so index membership always agrees
// with record state.

// updateQualityScript raises the stored score only when the new value is
// higher, keeping quality monotonic under concurrent recomputation.
var updateQualityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'quality_score') or '0')
local new = tonumber(ARGV[1])
if new > cur then
  redis.call('HSET', KEYS[1], 'quality_score', ARGV[1])
  return 1
end
return 0
`)

// promoteScript is the idempotent check-then-set promotion. It is a no-op
// for already-promoted records, so concurrent recomputation produces at
// most one promotion write.
var promoteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'promoted') == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'promoted', '1', 'project_id', '')
redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[1])
return 1
`)

// RedisBackend stores memory records in Redis hashes with set-based
// secondary indexes. Counter updates use HINCRBY, so increments are atomic
// at the backend.
type RedisBackend struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	URL       string
	DB        int
	Namespace string
	Logger    core.Logger
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(opts RedisOptions) (*RedisBackend, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrInvalidConfiguration)
	}
	if opts.Namespace == "" {
		opts.Namespace = "agentmem"
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}

	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}
	if opts.DB > 0 {
		opt.DB = opts.DB
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v: %w", err, core.ErrConnectionFailed)
	}

	opts.Logger.Info("Redis backend connected", map[string]interface{}{
		"db":        opt.DB,
		"namespace": opts.Namespace,
	})

	return &RedisBackend{
		client:    client,
		namespace: opts.Namespace,
		logger:    opts.Logger,
	}, nil
}

func (b *RedisBackend) recordKey(id string) string {
	return fmt.Sprintf("%s:memory:%s", b.namespace, id)
}

func (b *RedisBackend) agentIndexKey(agentType string) string {
	return fmt.Sprintf("%s:idx:agent:%s", b.namespace, agentType)
}

func (b *RedisBackend) projectIndexKey(agentType, projectID string) string {
	return fmt.Sprintf("%s:idx:project:%s:%s", b.namespace, agentType, projectID)
}

func (b *RedisBackend) globalIndexKey(agentType string) string {
	return fmt.Sprintf("%s:idx:global:%s", b.namespace, agentType)
}

func (b *RedisBackend) catalogKey() string {
	return fmt.Sprintf("%s:agent-types", b.namespace)
}

func (b *RedisBackend) schemaKey() string {
	return fmt.Sprintf("%s:schema:version", b.namespace)
}

// InsertMemory persists a new record and its index memberships atomically.
func (b *RedisBackend) InsertMemory(ctx context.Context, m *core.Memory) error {
	exists, err := b.client.Exists(ctx, b.recordKey(m.ID)).Result()
	if err != nil {
		return b.wrap("redis.InsertMemory", err)
	}
	if exists > 0 {
		return fmt.Errorf("memory %s already exists: %w", m.ID, core.ErrInvalidInput)
	}

	fields, err := encodeMemory(m)
	if err != nil {
		return fmt.Errorf("redis.InsertMemory: %v: %w", err, core.ErrInvalidInput)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.recordKey(m.ID), fields)
	pipe.SAdd(ctx, b.agentIndexKey(m.AgentType), m.ID)
	if m.IsGlobal() {
		pipe.SAdd(ctx, b.globalIndexKey(m.AgentType), m.ID)
	} else {
		pipe.SAdd(ctx, b.projectIndexKey(m.AgentType, m.ProjectID), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return b.wrap("redis.InsertMemory", err)
	}
	return nil
}

// GetMemory returns one record by id.
func (b *RedisBackend) GetMemory(ctx context.Context, id string) (*core.Memory, error) {
	fields, err := b.client.HGetAll(ctx, b.recordKey(id)).Result()
	if err != nil {
		return nil, b.wrap("redis.GetMemory", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrNotFound
	}
	return decodeMemory(id, fields)
}

// FindMemories resolves candidate ids from the scope indexes, loads the
// records in one pipeline, and filters/orders in process.
func (b *RedisBackend) FindMemories(ctx context.Context, f core.MemoryFilter) ([]*core.Memory, error) {
	var indexKeys []string
	switch {
	case f.GlobalOnly || f.ProjectID == "":
		indexKeys = []string{b.globalIndexKey(f.AgentType)}
	case f.IncludeGlobal:
		indexKeys = []string{
			b.projectIndexKey(f.AgentType, f.ProjectID),
			b.globalIndexKey(f.AgentType),
		}
	default:
		indexKeys = []string{b.projectIndexKey(f.AgentType, f.ProjectID)}
	}

	ids, err := b.client.SUnion(ctx, indexKeys...).Result()
	if err != nil {
		return nil, b.wrap("redis.FindMemories", err)
	}
	if len(ids) == 0 {
		return []*core.Memory{}, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, b.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, b.wrap("redis.FindMemories", err)
	}

	results := make([]*core.Memory, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue // id evicted between SUnion and load
		}
		m, err := decodeMemory(ids[i], fields)
		if err != nil {
			b.logger.Warn("Skipping undecodable memory record", map[string]interface{}{
				"memory_id": ids[i],
				"error":     err.Error(),
			})
			continue
		}
		if f.Matches(m) {
			results = append(results, m)
		}
	}

	core.SortMemories(results)
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

// IncrementCounters applies the delta with HINCRBY and returns the updated
// record. Concurrent deltas to the same id never lose increments.
func (b *RedisBackend) IncrementCounters(ctx context.Context, id string, d CounterDelta) (*core.Memory, error) {
	exists, err := b.client.Exists(ctx, b.recordKey(id)).Result()
	if err != nil {
		return nil, b.wrap("redis.IncrementCounters", err)
	}
	if exists == 0 {
		return nil, core.ErrNotFound
	}

	key := b.recordKey(id)
	pipe := b.client.TxPipeline()
	if d.Usage != 0 {
		pipe.HIncrBy(ctx, key, "usage_count", d.Usage)
	}
	if d.Validation != 0 {
		pipe.HIncrBy(ctx, key, "validation_count", d.Validation)
	}
	if d.NegativeValidation != 0 {
		pipe.HIncrBy(ctx, key, "negative_validation_count", d.NegativeValidation)
	}
	if !d.AppliedAt.IsZero() {
		pipe.HSet(ctx, key, "last_applied_at", d.AppliedAt.UTC().Format(time.RFC3339Nano))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, b.wrap("redis.IncrementCounters", err)
	}

	return b.GetMemory(ctx, id)
}

// UpdateQuality raises the stored score; lower values are ignored.
func (b *RedisBackend) UpdateQuality(ctx context.Context, id string, score float64) error {
	res, err := updateQualityScript.Run(ctx, b.client,
		[]string{b.recordKey(id)},
		strconv.FormatFloat(score, 'f', -1, 64),
	).Int()
	if err != nil {
		return b.wrap("redis.UpdateQuality", err)
	}
	if res == -1 {
		return core.ErrNotFound
	}
	return nil
}

// PromoteMemory performs the one-way promotion transition.
func (b *RedisBackend) PromoteMemory(ctx context.Context, id string) (bool, error) {
	projectID, err := b.client.HGet(ctx, b.recordKey(id), "project_id").Result()
	if err == redis.Nil {
		return false, core.ErrNotFound
	}
	if err != nil {
		return false, b.wrap("redis.PromoteMemory", err)
	}
	agentType, err := b.client.HGet(ctx, b.recordKey(id), "agent_type").Result()
	if err != nil {
		return false, b.wrap("redis.PromoteMemory", err)
	}

	res, err := promoteScript.Run(ctx, b.client,
		[]string{
			b.recordKey(id),
			b.projectIndexKey(agentType, projectID),
			b.globalIndexKey(agentType),
		},
		id,
	).Int()
	if err != nil {
		return false, b.wrap("redis.PromoteMemory", err)
	}
	if res == -1 {
		return false, core.ErrNotFound
	}
	return res == 1, nil
}

// Stats aggregates the records visible to one (agent type, project) scope.
func (b *RedisBackend) Stats(ctx context.Context, agentType, projectID string) (*core.MemoryStats, error) {
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

// EnsureSchema seeds the agent type catalog and sets the provisioning
// marker. Re-running never fails or duplicates.
func (b *RedisBackend) EnsureSchema(ctx context.Context, agentTypes []string) error {
	pipe := b.client.TxPipeline()
	for _, t := range agentTypes {
		pipe.SAdd(ctx, b.catalogKey(), t)
	}
	pipe.Set(ctx, b.schemaKey(), schemaVersion, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return b.wrap("redis.EnsureSchema", err)
	}
	return nil
}

// VerifySchema reports the provisioning marker and catalog membership.
// Uniqueness and the scope indexes are structural in the key layout; the
// marker witnesses that provisioning ran.
func (b *RedisBackend) VerifySchema(ctx context.Context, agentTypes []string) (*core.SchemaReport, error) {
	version, err := b.client.Get(ctx, b.schemaKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, b.wrap("redis.VerifySchema", err)
	}
	provisioned := err != redis.Nil && version == schemaVersion

	report := &core.SchemaReport{
		Constraints: []core.SchemaElement{
			{Name: "memory_id_unique", Present: provisioned},
		},
		Indexes: []core.SchemaElement{
			{Name: "idx_agent_type", Present: provisioned},
			{Name: "idx_project_scope", Present: provisioned},
			{Name: "idx_global_scope", Present: provisioned},
		},
	}

	for _, t := range agentTypes {
		member, err := b.client.SIsMember(ctx, b.catalogKey(), t).Result()
		if err != nil {
			return nil, b.wrap("redis.VerifySchema", err)
		}
		report.AgentTypes = append(report.AgentTypes, core.SchemaElement{Name: t, Present: member})
	}

	report.Complete = len(report.Missing()) == 0
	return report, nil
}

// Ping issues a minimal round-trip and extracts the server version.
func (b *RedisBackend) Ping(ctx context.Context) (string, error) {
	info, err := b.client.Info(ctx, "server").Result()
	if err != nil {
		return "", b.wrap("redis.Ping", err)
	}
	for _, line := range strings.Split(info, "\n") {
		if strings.HasPrefix(line, "redis_version:") {
			return "redis " + strings.TrimSpace(strings.TrimPrefix(line, "redis_version:")), nil
		}
	}
	return "redis", nil
}

// Close releases the connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) wrap(op string, err error) error {
	if err == redis.Nil {
		return core.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %v: %w", op, err, core.ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %v: %w", op, err, core.ErrConnectionFailed)
}

func encodeMemory(m *core.Memory) (map[string]interface{}, error) {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return nil, err
	}
	promoted := "0"
	if m.Promoted {
		promoted = "1"
	}
	lastApplied := ""
	if !m.LastAppliedAt.IsZero() {
		lastApplied = m.LastAppliedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"content":                   m.Content,
		"category":                  m.Category,
		"tags":                      string(tags),
		"agent_type":                m.AgentType,
		"project_id":                m.ProjectID,
		"origin_project":            m.OriginProject,
		"confidence":                strconv.FormatFloat(m.Confidence, 'f', -1, 64),
		"quality_score":             strconv.FormatFloat(m.QualityScore, 'f', -1, 64),
		"usage_count":               strconv.FormatInt(m.UsageCount, 10),
		"validation_count":          strconv.FormatInt(m.ValidationCount, 10),
		"negative_validation_count": strconv.FormatInt(m.NegativeValidationCount, 10),
		"promoted":                  promoted,
		"created_at":                m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_applied_at":           lastApplied,
	}, nil
}

func decodeMemory(id string, fields map[string]string) (*core.Memory, error) {
	m := &core.Memory{
		ID:            id,
		Content:       fields["content"],
		Category:      fields["category"],
		AgentType:     fields["agent_type"],
		ProjectID:     fields["project_id"],
		OriginProject: fields["origin_project"],
		Promoted:      fields["promoted"] == "1",
	}

	if raw := fields["tags"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags for %s: %w", id, err)
		}
	}

	var err error
	if m.Confidence, err = strconv.ParseFloat(fields["confidence"], 64); err != nil {
		return nil, fmt.Errorf("decoding confidence for %s: %w", id, err)
	}
	if m.QualityScore, err = strconv.ParseFloat(fields["quality_score"], 64); err != nil {
		return nil, fmt.Errorf("decoding quality_score for %s: %w", id, err)
	}
	m.UsageCount, _ = strconv.ParseInt(fields["usage_count"], 10, 64)
	m.ValidationCount, _ = strconv.ParseInt(fields["validation_count"], 10, 64)
	m.NegativeValidationCount, _ = strconv.ParseInt(fields["negative_validation_count"], 10, 64)

	if raw := fields["created_at"]; raw != "" {
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("decoding created_at for %s: %w", id, err)
		}
	}
	if raw := fields["last_applied_at"]; raw != "" {
		if m.LastAppliedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("decoding last_applied_at for %s: %w", id, err)
		}
	}
	return m, nil
}

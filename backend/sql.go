package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// memoryRecord is the relational shape of a memory. Tags are stored as a
// JSON text column; tag matching happens in process after the scope
// predicates run in SQL.
type memoryRecord struct {
	ID                      string  `gorm:"primaryKey;size:64"`
	Content                 string  `gorm:"not null"`
	Category                string  `gorm:"size:64;index:idx_memories_category"`
	Tags                    string  // JSON array
	AgentType               string  `gorm:"size:64;not null;index:idx_memories_scope,priority:1"`
	ProjectID               string  `gorm:"size:128;index:idx_memories_scope,priority:2"`
	OriginProject           string  `gorm:"size:128"`
	Confidence              float64 `gorm:"not null"`
	QualityScore            float64 `gorm:"not null;index:idx_memories_quality"`
	UsageCount              int64   `gorm:"not null;default:0"`
	ValidationCount         int64   `gorm:"not null;default:0"`
	NegativeValidationCount int64   `gorm:"not null;default:0"`
	Promoted                bool    `gorm:"not null;default:false;index:idx_memories_promoted"`
	CreatedAt               time.Time
	LastAppliedAt           *time.Time
}

func (memoryRecord) TableName() string {
	return "memories"
}

// agentTypeRecord is the agent type catalog.
type agentTypeRecord struct {
	Name string `gorm:"primaryKey;size:64"`
}

func (agentTypeRecord) TableName() string {
	return "agent_types"
}

// SQLBackend stores memory records in SQLite or PostgreSQL through GORM.
// Counter updates use SQL expressions, so increments are atomic at the
// database.
type SQLBackend struct {
	db      *gorm.DB
	dialect string
	logger  core.Logger
}

// SQLOptions configures the SQL backend.
type SQLOptions struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// SQLitePath is the database file path. ":memory:" works for tests.
	SQLitePath string

	// PostgresDSN is the connection string when Driver is "postgres".
	PostgresDSN string

	Logger core.Logger
}

// NewSQLBackend opens the database and verifies the connection.
func NewSQLBackend(opts SQLOptions) (*SQLBackend, error) {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case "sqlite":
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path is required: %w", core.ErrInvalidConfiguration)
		}
		dialector = sqlite.Open(opts.SQLitePath)
	case "postgres":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN is required: %w", core.ErrInvalidConfiguration)
		}
		dialector = postgres.Open(opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported SQL driver %q: %w", opts.Driver, core.ErrInvalidConfiguration)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %v: %w", opts.Driver, err, core.ErrConnectionFailed)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %v: %w", err, core.ErrConnectionFailed)
	}
	if opts.Driver == "sqlite" {
		// SQLite allows one writer; a single connection avoids busy errors
		// under concurrent counter updates.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v: %w", opts.Driver, err, core.ErrConnectionFailed)
	}

	opts.Logger.Info("SQL backend connected", map[string]interface{}{
		"driver": opts.Driver,
	})

	return &SQLBackend{db: db, dialect: opts.Driver, logger: opts.Logger}, nil
}

// InsertMemory persists a new record.
func (b *SQLBackend) InsertMemory(ctx context.Context, m *core.Memory) error {
	record, err := toRecord(m)
	if err != nil {
		return fmt.Errorf("sql.InsertMemory: %v: %w", err, core.ErrInvalidInput)
	}
	if err := b.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("memory %s already exists: %w", m.ID, core.ErrInvalidInput)
		}
		return b.wrap("sql.InsertMemory", err)
	}
	return nil
}

// GetMemory returns one record by id.
func (b *SQLBackend) GetMemory(ctx context.Context, id string) (*core.Memory, error) {
	var record memoryRecord
	err := b.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		return nil, b.wrap("sql.GetMemory", err)
	}
	return fromRecord(&record)
}

// FindMemories runs the scope predicates in SQL and finishes filtering and
// ordering in process, matching the other backends.
func (b *SQLBackend) FindMemories(ctx context.Context, f core.MemoryFilter) ([]*core.Memory, error) {
	q := b.db.WithContext(ctx).Where("agent_type = ?", f.AgentType)
	switch {
	case f.GlobalOnly || f.ProjectID == "":
		q = q.Where("project_id = ''")
	case f.IncludeGlobal:
		q = q.Where("project_id = ? OR project_id = ''", f.ProjectID)
	default:
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.MinQuality > 0 {
		q = q.Where("quality_score >= ?", f.MinQuality)
	}
	if f.MinValidations > 0 {
		q = q.Where("validation_count >= ?", f.MinValidations)
	}

	var records []memoryRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, b.wrap("sql.FindMemories", err)
	}

	results := make([]*core.Memory, 0, len(records))
	for i := range records {
		m, err := fromRecord(&records[i])
		if err != nil {
			b.logger.Warn("Skipping undecodable memory record", map[string]interface{}{
				"memory_id": records[i].ID,
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

// IncrementCounters applies the delta as SQL expressions and returns the
// updated record.
func (b *SQLBackend) IncrementCounters(ctx context.Context, id string, d CounterDelta) (*core.Memory, error) {
	updates := map[string]interface{}{}
	if d.Usage != 0 {
		updates["usage_count"] = gorm.Expr("usage_count + ?", d.Usage)
	}
	if d.Validation != 0 {
		updates["validation_count"] = gorm.Expr("validation_count + ?", d.Validation)
	}
	if d.NegativeValidation != 0 {
		updates["negative_validation_count"] = gorm.Expr("negative_validation_count + ?", d.NegativeValidation)
	}
	if !d.AppliedAt.IsZero() {
		applied := d.AppliedAt.UTC()
		updates["last_applied_at"] = &applied
	}

	if len(updates) > 0 {
		res := b.db.WithContext(ctx).Model(&memoryRecord{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, b.wrap("sql.IncrementCounters", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, core.ErrNotFound
		}
	}

	return b.GetMemory(ctx, id)
}

// UpdateQuality raises the stored score; lower values are ignored.
func (b *SQLBackend) UpdateQuality(ctx context.Context, id string, score float64) error {
	res := b.db.WithContext(ctx).Model(&memoryRecord{}).
		Where("id = ? AND quality_score < ?", id, score).
		Update("quality_score", score)
	if res.Error != nil {
		return b.wrap("sql.UpdateQuality", res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish a no-op raise from a missing record.
		var count int64
		if err := b.db.WithContext(ctx).Model(&memoryRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return b.wrap("sql.UpdateQuality", err)
		}
		if count == 0 {
			return core.ErrNotFound
		}
	}
	return nil
}

// PromoteMemory performs the one-way promotion transition as a single
// conditional update.
func (b *SQLBackend) PromoteMemory(ctx context.Context, id string) (bool, error) {
	res := b.db.WithContext(ctx).Model(&memoryRecord{}).
		Where("id = ? AND promoted = ?", id, false).
		Updates(map[string]interface{}{"promoted": true, "project_id": ""})
	if res.Error != nil {
		return false, b.wrap("sql.PromoteMemory", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := b.db.WithContext(ctx).Model(&memoryRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, b.wrap("sql.PromoteMemory", err)
	}
	if count == 0 {
		return false, core.ErrNotFound
	}
	return false, nil
}

// Stats aggregates the records visible to one (agent type, project) scope.
func (b *SQLBackend) Stats(ctx context.Context, agentType, projectID string) (*core.MemoryStats, error) {
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

// EnsureSchema migrates the tables and seeds the agent type catalog.
// AutoMigrate only adds what is missing, so re-running is safe.
func (b *SQLBackend) EnsureSchema(ctx context.Context, agentTypes []string) error {
	db := b.db.WithContext(ctx)
	if err := db.AutoMigrate(&memoryRecord{}, &agentTypeRecord{}); err != nil {
		return b.wrap("sql.EnsureSchema", err)
	}
	for _, t := range agentTypes {
		err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&agentTypeRecord{Name: t}).Error
		if err != nil {
			return b.wrap("sql.EnsureSchema", err)
		}
	}
	return nil
}

// VerifySchema reports table, index, and catalog state without modifying
// anything.
func (b *SQLBackend) VerifySchema(ctx context.Context, agentTypes []string) (*core.SchemaReport, error) {
	migrator := b.db.WithContext(ctx).Migrator()

	hasMemories := migrator.HasTable(&memoryRecord{})
	report := &core.SchemaReport{
		Constraints: []core.SchemaElement{
			{Name: "memory_id_unique", Present: hasMemories},
		},
		Indexes: []core.SchemaElement{
			{Name: "idx_memories_scope", Present: hasMemories && migrator.HasIndex(&memoryRecord{}, "idx_memories_scope")},
			{Name: "idx_memories_quality", Present: hasMemories && migrator.HasIndex(&memoryRecord{}, "idx_memories_quality")},
			{Name: "idx_memories_promoted", Present: hasMemories && migrator.HasIndex(&memoryRecord{}, "idx_memories_promoted")},
		},
	}

	catalog := map[string]bool{}
	if migrator.HasTable(&agentTypeRecord{}) {
		var rows []agentTypeRecord
		if err := b.db.WithContext(ctx).Find(&rows).Error; err != nil {
			return nil, b.wrap("sql.VerifySchema", err)
		}
		for _, r := range rows {
			catalog[r.Name] = true
		}
	}
	for _, t := range agentTypes {
		report.AgentTypes = append(report.AgentTypes, core.SchemaElement{Name: t, Present: catalog[t]})
	}

	report.Complete = len(report.Missing()) == 0
	return report, nil
}

// Ping issues a round-trip and returns the database version.
func (b *SQLBackend) Ping(ctx context.Context) (string, error) {
	sqlDB, err := b.db.DB()
	if err != nil {
		return "", b.wrap("sql.Ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "", b.wrap("sql.Ping", err)
	}

	var version string
	query := "SELECT sqlite_version()"
	if b.dialect == "postgres" {
		query = "SHOW server_version"
	}
	if err := b.db.WithContext(ctx).Raw(query).Scan(&version).Error; err != nil {
		return b.dialect, nil
	}
	return b.dialect + " " + version, nil
}

// Close releases the connection pool.
func (b *SQLBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *SQLBackend) wrap(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
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

func toRecord(m *core.Memory) (*memoryRecord, error) {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return nil, err
	}
	record := &memoryRecord{
		ID:                      m.ID,
		Content:                 m.Content,
		Category:                m.Category,
		Tags:                    string(tags),
		AgentType:               m.AgentType,
		ProjectID:               m.ProjectID,
		OriginProject:           m.OriginProject,
		Confidence:              m.Confidence,
		QualityScore:            m.QualityScore,
		UsageCount:              m.UsageCount,
		ValidationCount:         m.ValidationCount,
		NegativeValidationCount: m.NegativeValidationCount,
		Promoted:                m.Promoted,
		CreatedAt:               m.CreatedAt.UTC(),
	}
	if !m.LastAppliedAt.IsZero() {
		applied := m.LastAppliedAt.UTC()
		record.LastAppliedAt = &applied
	}
	return record, nil
}

func fromRecord(r *memoryRecord) (*core.Memory, error) {
	m := &core.Memory{
		ID:                      r.ID,
		Content:                 r.Content,
		Category:                r.Category,
		AgentType:               r.AgentType,
		ProjectID:               r.ProjectID,
		OriginProject:           r.OriginProject,
		Confidence:              r.Confidence,
		QualityScore:            r.QualityScore,
		UsageCount:              r.UsageCount,
		ValidationCount:         r.ValidationCount,
		NegativeValidationCount: r.NegativeValidationCount,
		Promoted:                r.Promoted,
		CreatedAt:               r.CreatedAt,
	}
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags for %s: %w", r.ID, err)
		}
	}
	if r.LastAppliedAt != nil {
		m.LastAppliedAt = *r.LastAppliedAt
	}
	return m, nil
}

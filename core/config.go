package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the memory system.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Config file + environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithRedisURL("redis://localhost:6379"),
//	    WithPromotionThreshold(0.8),
//	)
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Quality    QualityConfig    `yaml:"quality"`
	Recall     RecallConfig     `yaml:"recall"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BackendConfig selects and configures the backing store.
type BackendConfig struct {
	// Driver is one of "redis", "sqlite", "postgres", "inmem".
	Driver string `yaml:"driver"`

	RedisURL  string `yaml:"redis_url"`
	RedisDB   int    `yaml:"redis_db"`
	Namespace string `yaml:"namespace"`

	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ResilienceConfig tunes the connection guard wrapped around every
// backend call.
type ResilienceConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`

	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	JitterEnabled bool          `yaml:"jitter_enabled"`

	FailureThreshold int           `yaml:"failure_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// QualityConfig holds the quality formula weights and promotion rule.
// The weights are configuration, not hard-coded constants.
type QualityConfig struct {
	UsageWeight        float64 `yaml:"usage_weight"`
	ValidationWeight   float64 `yaml:"validation_weight"`
	PromotionThreshold float64 `yaml:"promotion_threshold"`
	PromotionMinUsage  int64   `yaml:"promotion_min_usage"`
}

// RecallConfig holds retrieval defaults.
type RecallConfig struct {
	DefaultLimit    int     `yaml:"default_limit"`
	LearnMinQuality float64 `yaml:"learn_min_quality"`
}

// CacheConfig tunes the in-process record cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Option modifies a Config during construction.
type Option func(*Config)

// NewConfig builds a Config by applying defaults, an optional config file
// (AGENTMEM_CONFIG_FILE), environment variables, and finally options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("AGENTMEM_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvironment()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Driver:     "redis",
			RedisURL:   "redis://localhost:6379",
			Namespace:  "agentmem",
			SQLitePath: "agentmem.db",
		},
		Resilience: ResilienceConfig{
			CallTimeout:      10 * time.Second,
			MaxAttempts:      3,
			InitialDelay:     100 * time.Millisecond,
			MaxDelay:         5 * time.Second,
			BackoffFactor:    2.0,
			JitterEnabled:    true,
			FailureThreshold: 5,
			CoolDown:         30 * time.Second,
		},
		Quality: QualityConfig{
			UsageWeight:        0.05,
			ValidationWeight:   0.06,
			PromotionThreshold: 0.75,
			PromotionMinUsage:  3,
		},
		Recall: RecallConfig{
			DefaultLimit:    20,
			LearnMinQuality: 0.7,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, ErrInvalidConfiguration)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %v: %w", path, err, ErrInvalidConfiguration)
	}
	return nil
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("AGENTMEM_BACKEND_DRIVER"); v != "" {
		c.Backend.Driver = v
	}
	if v := os.Getenv("AGENTMEM_REDIS_URL"); v != "" {
		c.Backend.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Backend.RedisURL = v
	}
	if v := os.Getenv("AGENTMEM_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Backend.RedisDB = db
		}
	}
	if v := os.Getenv("AGENTMEM_NAMESPACE"); v != "" {
		c.Backend.Namespace = v
	}
	if v := os.Getenv("AGENTMEM_SQLITE_PATH"); v != "" {
		c.Backend.SQLitePath = v
	}
	if v := os.Getenv("AGENTMEM_POSTGRES_DSN"); v != "" {
		c.Backend.PostgresDSN = v
	}

	if v := os.Getenv("AGENTMEM_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Resilience.CallTimeout = d
		}
	}
	if v := os.Getenv("AGENTMEM_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.MaxAttempts = n
		}
	}
	if v := os.Getenv("AGENTMEM_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.FailureThreshold = n
		}
	}
	if v := os.Getenv("AGENTMEM_BREAKER_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Resilience.CoolDown = d
		}
	}

	if v := os.Getenv("AGENTMEM_QUALITY_USAGE_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Quality.UsageWeight = f
		}
	}
	if v := os.Getenv("AGENTMEM_QUALITY_VALIDATION_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Quality.ValidationWeight = f
		}
	}
	if v := os.Getenv("AGENTMEM_PROMOTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Quality.PromotionThreshold = f
		}
	}
	if v := os.Getenv("AGENTMEM_PROMOTION_MIN_USAGE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Quality.PromotionMinUsage = n
		}
	}

	if v := os.Getenv("AGENTMEM_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("AGENTMEM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGENTMEM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case "redis", "sqlite", "postgres", "inmem":
	default:
		return fmt.Errorf("unsupported backend driver %q: %w", c.Backend.Driver, ErrInvalidConfiguration)
	}
	if c.Backend.Driver == "redis" && c.Backend.RedisURL == "" {
		return fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}
	if c.Backend.Driver == "postgres" && c.Backend.PostgresDSN == "" {
		return fmt.Errorf("postgres DSN is required: %w", ErrInvalidConfiguration)
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d: %w",
			c.Resilience.MaxAttempts, ErrInvalidConfiguration)
	}
	if c.Resilience.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1, got %d: %w",
			c.Resilience.FailureThreshold, ErrInvalidConfiguration)
	}
	if c.Quality.UsageWeight < 0 || c.Quality.ValidationWeight < 0 {
		return fmt.Errorf("quality weights must be non-negative: %w", ErrInvalidConfiguration)
	}
	if c.Quality.PromotionThreshold < 0 || c.Quality.PromotionThreshold > 1 {
		return fmt.Errorf("promotion threshold must be in [0,1], got %f: %w",
			c.Quality.PromotionThreshold, ErrInvalidConfiguration)
	}
	if c.Recall.DefaultLimit < 1 {
		return fmt.Errorf("recall default limit must be at least 1, got %d: %w",
			c.Recall.DefaultLimit, ErrInvalidConfiguration)
	}
	return nil
}

// NewLogger builds a logger from the logging section.
func (c *Config) NewLogger() Logger {
	return NewStructuredLogger(ParseLogLevel(c.Logging.Level), c.Logging.Format)
}

// WithBackendDriver selects the backend driver.
func WithBackendDriver(driver string) Option {
	return func(c *Config) { c.Backend.Driver = driver }
}

// WithRedisURL sets the Redis connection URL.
func WithRedisURL(url string) Option {
	return func(c *Config) { c.Backend.RedisURL = url }
}

// WithNamespace sets the key namespace used by the Redis backend.
func WithNamespace(ns string) Option {
	return func(c *Config) { c.Backend.Namespace = ns }
}

// WithSQLitePath sets the SQLite database path.
func WithSQLitePath(path string) Option {
	return func(c *Config) {
		c.Backend.Driver = "sqlite"
		c.Backend.SQLitePath = path
	}
}

// WithPostgresDSN sets the Postgres DSN.
func WithPostgresDSN(dsn string) Option {
	return func(c *Config) {
		c.Backend.Driver = "postgres"
		c.Backend.PostgresDSN = dsn
	}
}

// WithCallTimeout bounds each guarded backend call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Config) { c.Resilience.CallTimeout = d }
}

// WithRetry configures the retry policy.
func WithRetry(maxAttempts int, initialDelay, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.Resilience.MaxAttempts = maxAttempts
		c.Resilience.InitialDelay = initialDelay
		c.Resilience.MaxDelay = maxDelay
	}
}

// WithCircuitBreaker configures the breaker thresholds.
func WithCircuitBreaker(failureThreshold int, coolDown time.Duration) Option {
	return func(c *Config) {
		c.Resilience.FailureThreshold = failureThreshold
		c.Resilience.CoolDown = coolDown
	}
}

// WithQualityWeights sets the usage and validation weights.
func WithQualityWeights(usage, validation float64) Option {
	return func(c *Config) {
		c.Quality.UsageWeight = usage
		c.Quality.ValidationWeight = validation
	}
}

// WithPromotionThreshold sets the quality score at which promotion triggers.
func WithPromotionThreshold(threshold float64) Option {
	return func(c *Config) { c.Quality.PromotionThreshold = threshold }
}

// WithPromotionMinUsage sets the minimum usage count required for promotion.
func WithPromotionMinUsage(n int64) Option {
	return func(c *Config) { c.Quality.PromotionMinUsage = n }
}

// WithCacheTTL enables the record cache with the given TTL. A zero TTL
// disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.Cache.Enabled = ttl > 0
		c.Cache.TTL = ttl
	}
}

// WithLogging sets log level and format.
func WithLogging(level, format string) Option {
	return func(c *Config) {
		c.Logging.Level = level
		c.Logging.Format = format
	}
}

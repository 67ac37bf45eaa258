package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c360/gpukit/budget"
	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/pkg/cache"
	"github.com/c360/gpukit/shader"
	"github.com/c360/gpukit/texture"
	"github.com/c360/gpukit/transform"
	"github.com/c360/gpukit/types"
	"github.com/c360/gpukit/vector"
)

// Config is the complete process configuration. One Config feeds one engine
// instance; nothing here is global.
type Config struct {
	Version string `json:"version"`
	// Backend is the primary compute backend batches and textures run on.
	Backend string `json:"backend"`
	// Budgets maps backend name to its memory budget in bytes. Backends
	// without an entry here cannot allocate at all.
	Budgets map[string]int64 `json:"budgets"`

	NATS      NATSConfig      `json:"nats,omitempty"`
	Redis     RedisConfig     `json:"redis,omitempty"`
	Shader    ShaderConfig    `json:"shader,omitempty"`
	Vector    VectorConfig    `json:"vector"`
	Texture   TextureConfig   `json:"texture,omitempty"`
	Transform TransformConfig `json:"transform,omitempty"`
	Cache     CacheConfig     `json:"cache,omitempty"`
	Pool      PoolConfig      `json:"pool,omitempty"`
}

// NATSConfig holds the telemetry transport connection settings. Telemetry is
// best-effort: an empty URL list simply disables the NATS sink.
type NATSConfig struct {
	URLs     []string `json:"urls,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Token    string   `json:"token,omitempty"`
	// Source names this process in telemetry subjects.
	Source string `json:"source,omitempty"`
}

// RedisConfig holds the cold cache tier connection settings. An empty Addr
// disables the cold tier.
type RedisConfig struct {
	Addr     string        `json:"addr,omitempty"`
	Password string        `json:"password,omitempty"`
	DB       int           `json:"db,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty"`
}

// ShaderConfig holds pipeline manager settings.
type ShaderConfig struct {
	GCMaxAge time.Duration `json:"gc_max_age,omitempty"`
}

// VectorConfig holds batch processor settings.
type VectorConfig struct {
	Dimension       int           `json:"dimension"`
	PipelineName    string        `json:"pipeline_name"`
	DispatchTimeout time.Duration `json:"dispatch_timeout,omitempty"`
}

// TextureConfig holds streaming service settings.
type TextureConfig struct {
	BankCapacity     int     `json:"bank_capacity,omitempty"`
	EvictionFraction float64 `json:"eviction_fraction,omitempty"`
}

// TransformConfig holds transform cache settings.
type TransformConfig struct {
	Capacity     int     `json:"capacity,omitempty"`
	TrimFraction float64 `json:"trim_fraction,omitempty"`
}

// CacheConfig holds multi-tier result cache settings.
type CacheConfig struct {
	// Enabled turns on batch result caching in the engine.
	Enabled            bool  `json:"enabled,omitempty"`
	HotCapacity        int   `json:"hot_capacity,omitempty"`
	PromotionThreshold int64 `json:"promotion_threshold,omitempty"`
	WarmMaxEntries     int   `json:"warm_max_entries,omitempty"`
	WarmMaxBytes       int64 `json:"warm_max_bytes,omitempty"`
}

// PoolConfig holds dispatch worker pool settings.
type PoolConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// DefaultConfig returns a runnable configuration: CPU backend, default
// budgets, telemetry and cold tier disabled.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Backend: string(types.CPU),
		Budgets: map[string]int64{
			string(types.PrimaryGPU):  512 * 1024 * 1024,
			string(types.FallbackGPU): 256 * 1024 * 1024,
			string(types.CPU):         1024 * 1024 * 1024,
		},
		Shader: ShaderConfig{GCMaxAge: 60 * time.Second},
		Vector: VectorConfig{
			Dimension:       384,
			PipelineName:    "normalize",
			DispatchTimeout: 5 * time.Second,
		},
		Texture:   TextureConfig{BankCapacity: 64, EvictionFraction: 0.25},
		Transform: TransformConfig{Capacity: 100, TrimFraction: 0.2},
		Cache: CacheConfig{
			HotCapacity:        100,
			PromotionThreshold: 5,
			WarmMaxEntries:     1024,
			WarmMaxBytes:       64 * 1024 * 1024,
		},
		Pool:  PoolConfig{Workers: 4, QueueSize: 64},
		Redis: RedisConfig{TTL: time.Hour},
	}
}

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "GPUKIT"

// Load reads configuration from a JSON file, layered over defaults, then
// applies environment overrides and validates the result. An empty path
// returns defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_BACKEND"); val != "" {
		cfg.Backend = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(EnvPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(EnvPrefix + "_REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := os.Getenv(EnvPrefix + "_REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_VECTOR_DIMENSION"); val != "" {
		if dim, err := strconv.Atoi(val); err == nil {
			cfg.Vector.Dimension = dim
		}
	}
}

// Validate checks the configuration by building every subsystem config and
// validating each, so a Config that validates here will construct an engine.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
			"backend is required")
	}
	if err := types.Backend(c.Backend).Validate(); err != nil {
		return err
	}
	if err := c.BudgetConfig().Validate(); err != nil {
		return err
	}
	if _, ok := c.Budgets[c.Backend]; !ok {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("no budget configured for primary backend %s", c.Backend))
	}
	if err := c.ShaderConfig().Validate(); err != nil {
		return err
	}
	if err := c.VectorConfig().Validate(); err != nil {
		return err
	}
	if err := c.TextureConfig().Validate(); err != nil {
		return err
	}
	if err := c.TransformConfig().Validate(); err != nil {
		return err
	}
	if err := c.CacheConfig().Validate(); err != nil {
		return err
	}
	if c.Pool.Workers <= 0 || c.Pool.QueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"pool workers and queue size must be positive")
	}
	return nil
}

// PrimaryBackend returns the configured primary backend.
func (c *Config) PrimaryBackend() types.Backend {
	return types.Backend(c.Backend)
}

// BudgetConfig converts the budget section.
func (c *Config) BudgetConfig() budget.Config {
	budgets := make(map[types.Backend]int64, len(c.Budgets))
	for name, b := range c.Budgets {
		budgets[types.Backend(name)] = b
	}
	return budget.Config{Budgets: budgets}
}

// ShaderConfig converts the shader section.
func (c *Config) ShaderConfig() shader.Config {
	sc := shader.DefaultConfig()
	if c.Shader.GCMaxAge > 0 {
		sc.GCMaxAge = c.Shader.GCMaxAge
	}
	return sc
}

// VectorConfig converts the vector section.
func (c *Config) VectorConfig() vector.Config {
	vc := vector.DefaultConfig(c.Vector.Dimension, c.PrimaryBackend(), c.Vector.PipelineName)
	if c.Vector.DispatchTimeout > 0 {
		vc.DispatchTimeout = c.Vector.DispatchTimeout
	}
	return vc
}

// TextureConfig converts the texture section.
func (c *Config) TextureConfig() texture.Config {
	tc := texture.DefaultConfig(c.PrimaryBackend())
	if c.Texture.BankCapacity > 0 {
		for _, bank := range texture.Banks() {
			tc.BankCapacity[bank] = c.Texture.BankCapacity
		}
	}
	if c.Texture.EvictionFraction > 0 {
		tc.EvictionFraction = c.Texture.EvictionFraction
	}
	return tc
}

// TransformConfig converts the transform section.
func (c *Config) TransformConfig() transform.Config {
	tc := transform.DefaultConfig()
	if c.Transform.Capacity > 0 {
		tc.Capacity = c.Transform.Capacity
	}
	if c.Transform.TrimFraction > 0 {
		tc.TrimFraction = c.Transform.TrimFraction
	}
	return tc
}

// CacheConfig converts the cache section.
func (c *Config) CacheConfig() cache.Config {
	cc := cache.DefaultConfig()
	if c.Cache.HotCapacity > 0 {
		cc.HotCapacity = c.Cache.HotCapacity
	}
	if c.Cache.PromotionThreshold > 0 {
		cc.PromotionThreshold = c.Cache.PromotionThreshold
	}
	if c.Cache.WarmMaxEntries > 0 {
		cc.WarmMaxEntries = c.Cache.WarmMaxEntries
	}
	if c.Cache.WarmMaxBytes > 0 {
		cc.WarmMaxBytes = c.Cache.WarmMaxBytes
	}
	return cc
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to a configuration that may be
// swapped at runtime.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Update",
			"config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"` // apply embedded migrations on start
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // chatbot config cache
}

type BroadcastConfig struct {
	Channel string `yaml:"channel"`
	Buffer  int    `yaml:"buffer"` // per-subscriber event buffer
}

type QueueConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	Lease        time.Duration `yaml:"lease"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WorkerConfig struct {
	Queues           map[string]QueueConfig `yaml:"queues"`
	AdminPort        int                    `yaml:"admin_port"`
	AdminKey         string                 `yaml:"admin_key"`
	MaintainInterval time.Duration          `yaml:"maintain_interval"`
	ArchiveRetention time.Duration          `yaml:"archive_retention"`
	ContextTurns     int                    `yaml:"context_turns"`
	LockTTL          time.Duration          `yaml:"lock_ttl"`
	ShutdownTimeout  time.Duration          `yaml:"shutdown_timeout"`
}

type GatewayConfig struct {
	Port              int           `yaml:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	JoinSecret        string        `yaml:"join_secret"`
	SendRatePerMinute int           `yaml:"send_rate_per_minute"`
	SendBuffer        int           `yaml:"send_buffer"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
}

type ProviderConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	APIVersion     string        `yaml:"api_version"` // azure
	DefaultModel   string        `yaml:"default_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
	ExactTokens    bool          `yaml:"exact_tokens"` // openai: count with tiktoken
}

type PriceConfig struct {
	InputPer1KMicros  int64 `yaml:"input_per_1k_micros"`
	OutputPer1KMicros int64 `yaml:"output_per_1k_micros"`
}

type RetryConfig struct {
	Base time.Duration `yaml:"base"`
	Cap  time.Duration `yaml:"cap"`
}

type AIConfig struct {
	DefaultProvider string                            `yaml:"default_provider"`
	Providers       map[string]ProviderConfig         `yaml:"providers"`
	ModelProviders  map[string]string                 `yaml:"model_providers"` // model -> provider
	ConcurrentLimit int                               `yaml:"concurrent_limit"`
	Pricing         map[string]map[string]PriceConfig `yaml:"pricing"`
	Priorities      map[string]int                    `yaml:"priorities"`
	Retry           RetryConfig                       `yaml:"retry"`
	CacheTTL        time.Duration                     `yaml:"cache_ttl"` // analysis results
}

// StaticChatbot is a chatbot declared in the config file. It is used when no
// database is configured (dev and demo setups).
type StaticChatbot struct {
	ID           string        `yaml:"id"`
	TenantID     string        `yaml:"tenant_id"`
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

func (c StaticChatbot) ToModel() model.ChatbotConfig {
	return model.ChatbotConfig{
		ID:       c.ID,
		TenantID: c.TenantID,
		Model: model.ModelConfig{
			Provider:     c.Provider,
			Model:        c.Model,
			Temperature:  c.Temperature,
			MaxTokens:    c.MaxTokens,
			SystemPrompt: c.SystemPrompt,
			Timeout:      c.Timeout,
		},
	}
}

type RateLimitsConfig struct {
	Default model.RateLimits            `yaml:"default"`
	Tenants map[string]model.RateLimits `yaml:"tenants"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Worker     WorkerConfig     `yaml:"worker"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	AI         AIConfig         `yaml:"ai"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Chatbots   []StaticChatbot  `yaml:"chatbots"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the yaml file at path, expands ${ENV} references and
// applies defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b, dev)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes b and applies defaults without validating.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with only defaults applied.
func Default(dev bool) *Config {
	cfg := &Config{Runtime: RuntimeConfig{Dev: dev}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL, 5*time.Minute)

	if c.Broadcast.Channel == "" {
		c.Broadcast.Channel = "chat:messages"
	}
	if c.Broadcast.Buffer <= 0 {
		c.Broadcast.Buffer = 256
	}

	if c.Worker.Queues == nil {
		c.Worker.Queues = map[string]QueueConfig{}
	}
	for name, def := range map[string]QueueConfig{
		"chat":      {Concurrency: 5, Lease: 2 * time.Minute, PollInterval: 200 * time.Millisecond},
		"analytics": {Concurrency: 2, Lease: 5 * time.Minute, PollInterval: time.Second},
	} {
		q := c.Worker.Queues[name]
		if q.Concurrency <= 0 {
			q.Concurrency = def.Concurrency
		}
		q.Lease = normalizeTTL(q.Lease, def.Lease)
		q.PollInterval = normalizeTTL(q.PollInterval, def.PollInterval)
		c.Worker.Queues[name] = q
	}
	if c.Worker.AdminPort == 0 {
		c.Worker.AdminPort = 9090
	}
	c.Worker.MaintainInterval = normalizeTTL(c.Worker.MaintainInterval, 5*time.Second)
	c.Worker.ArchiveRetention = normalizeTTL(c.Worker.ArchiveRetention, 30*24*time.Hour)
	c.Worker.LockTTL = normalizeTTL(c.Worker.LockTTL, 5*time.Minute)
	c.Worker.ShutdownTimeout = normalizeTTL(c.Worker.ShutdownTimeout, 30*time.Second)
	if c.Worker.ContextTurns == 0 {
		c.Worker.ContextTurns = 10
	}

	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8080
	}
	if c.Gateway.SendRatePerMinute == 0 {
		c.Gateway.SendRatePerMinute = 30
	}
	if c.Gateway.SendBuffer <= 0 {
		c.Gateway.SendBuffer = 64
	}
	c.Gateway.PingInterval = normalizeTTL(c.Gateway.PingInterval, 25*time.Second)
	c.Gateway.WriteTimeout = normalizeTTL(c.Gateway.WriteTimeout, 10*time.Second)
	if c.Gateway.MaxMessageBytes <= 0 {
		c.Gateway.MaxMessageBytes = 16 << 10
	}

	c.AI.DefaultProvider = strings.ToLower(strings.TrimSpace(c.AI.DefaultProvider))
	if c.AI.DefaultProvider == "" {
		c.AI.DefaultProvider = model.ProviderOpenAI
	}
	if c.AI.ConcurrentLimit <= 0 {
		c.AI.ConcurrentLimit = 16
	}
	if c.AI.Providers == nil {
		c.AI.Providers = map[string]ProviderConfig{}
	}
	for name, p := range c.AI.Providers {
		d := model.DefaultModelConfig(name)
		if p.DefaultModel == "" {
			p.DefaultModel = d.Model
		}
		p.Timeout = normalizeTTL(p.Timeout, d.Timeout)
		c.AI.Providers[name] = p
	}
	c.AI.Retry.Base = normalizeTTL(c.AI.Retry.Base, time.Second)
	c.AI.Retry.Cap = normalizeTTL(c.AI.Retry.Cap, time.Minute)
	c.AI.CacheTTL = normalizeTTL(c.AI.CacheTTL, time.Hour)

	if c.RateLimits.Default == (model.RateLimits{}) {
		c.RateLimits.Default = model.RateLimits{RequestsPerMinute: 60, TokensPerMinute: 40000, CostPerDay: 10_000_000}
	}
}

// Validate performs minimal checks that defaults cannot fix.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q: want json or console", c.Log.Format)
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Gateway.JoinSecret == "" && !c.Runtime.Dev {
		return errors.New("gateway.join_secret is required")
	}
	for name, q := range c.Worker.Queues {
		if q.Concurrency <= 0 {
			return fmt.Errorf("worker.queues.%s.concurrency must be positive", name)
		}
	}
	for i, b := range c.Chatbots {
		if b.ID == "" || b.TenantID == "" {
			return fmt.Errorf("chatbots[%d]: id and tenant_id are required", i)
		}
	}
	for m, p := range c.AI.ModelProviders {
		if _, ok := c.AI.Providers[p]; !ok {
			return fmt.Errorf("ai.model_providers.%s: provider %q is not configured", m, p)
		}
	}
	return nil
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

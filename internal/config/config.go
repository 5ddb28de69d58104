package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Index     IndexConfig     `mapstructure:"index"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Superset  SupersetConfig  `mapstructure:"superset"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	AI        AIConfig        `mapstructure:"ai"`
	Context   ContextConfig   `mapstructure:"context"`
	Selection SelectionConfig `mapstructure:"selection"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type IndexConfig struct {
	Dir string `mapstructure:"dir"`
}

type RedisConfig struct {
	// Enabled toggles the answer cache; the engine runs without Redis
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	// APIToken protects everything except health endpoints; empty disables auth
	APIToken string `mapstructure:"api_token"`
}

type SupersetConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBudget  time.Duration `mapstructure:"retry_budget"`
}

type AIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	VisionModel    string        `mapstructure:"vision_model"`
	TextModel      string        `mapstructure:"text_model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ContextConfig struct {
	// TTL after which a context is stale and excluded from selection
	TTL time.Duration `mapstructure:"ttl"`
	// RefreshInterval enables the background refresh loop when > 0
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type SelectionConfig struct {
	// Threshold is the minimum similarity score for inclusion
	Threshold float64 `mapstructure:"threshold"`
	// TopK bounds how many candidates are pulled from the index
	TopK int `mapstructure:"top_k"`
}

type AnalysisConfig struct {
	Workers          int           `mapstructure:"workers"`
	StageTimeout     time.Duration `mapstructure:"stage_timeout"`
	SessionRetention time.Duration `mapstructure:"session_retention"`
	EventBuffer      int           `mapstructure:"event_buffer"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File enables rotating file output alongside stderr when non-empty
	File string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0") // SSE streams must not be cut off
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Storage
	v.SetDefault("store.path", "./data/contexts.db")
	v.SetDefault("index.dir", "./data/index")

	// Redis answer cache
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1h")

	// Superset
	v.SetDefault("superset.base_url", "http://localhost:8088")
	v.SetDefault("superset.timeout", "30s")

	// Embedding
	v.SetDefault("embedding.model", "text-embedding-004")
	v.SetDefault("embedding.max_batch_size", 100)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.retry_budget", "10s")

	// AI analysis
	v.SetDefault("ai.vision_model", "gemini-2.5-flash")
	v.SetDefault("ai.text_model", "gemini-2.5-flash")
	v.SetDefault("ai.request_timeout", "60s")

	// Context lifecycle
	v.SetDefault("context.ttl", "168h") // 7 days
	v.SetDefault("context.refresh_interval", "0")

	// Selection policy
	v.SetDefault("selection.threshold", 0.35)
	v.SetDefault("selection.top_k", 20)

	// Analysis pipeline
	v.SetDefault("analysis.workers", 3)
	v.SetDefault("analysis.stage_timeout", "60s")
	v.SetDefault("analysis.session_retention", "30m")
	v.SetDefault("analysis.event_buffer", 64)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("auth.api_token", "API_TOKEN")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("superset.base_url", "SUPERSET_URL")
	v.BindEnv("superset.username", "SUPERSET_USERNAME")
	v.BindEnv("superset.password", "SUPERSET_PASSWORD")
	v.BindEnv("embedding.api_key", "GEMINI_API_KEY")
	v.BindEnv("ai.api_key", "GEMINI_API_KEY")
}

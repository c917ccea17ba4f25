package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SlowThreshold   time.Duration `yaml:"slow_threshold"`
	} `yaml:"server"`
	Logging struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		Collector struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic"`
			Interval       time.Duration `yaml:"interval"`
			CountThreshold int           `yaml:"count_threshold"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Storage struct {
		Backend     string `yaml:"backend"` // memory | postgres
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Feed struct {
		Source  string        `yaml:"source"` // clickhouse | http
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
		Cache   struct {
			Enabled    bool          `yaml:"enabled"`
			TTL        time.Duration `yaml:"ttl"`
			MemorySize int           `yaml:"memory_size"`
		} `yaml:"cache"`
	} `yaml:"feed"`
	Kronos struct {
		ServiceURL   string        `yaml:"service_url"`
		Timeout      time.Duration `yaml:"timeout"`
		Retries      int           `yaml:"retries"`
		DefaultModel string        `yaml:"default_model"`
		Models       []ModelSpec   `yaml:"models"`
	} `yaml:"kronos"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Topics       struct {
			Events   string `yaml:"events"`
			Requests string `yaml:"requests"`
			Bars     string `yaml:"bars"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Evaluation struct {
		Enabled     bool          `yaml:"enabled"`
		Schedule    string        `yaml:"schedule"`
		BatchSize   int           `yaml:"batch_size"`
		MaxAttempts int           `yaml:"max_attempts"`
		Workers     int           `yaml:"workers"`
		RetryLimit  int           `yaml:"retry_limit"`
		RetryDelay  time.Duration `yaml:"retry_delay"`
	} `yaml:"evaluation"`
	RateLimit struct {
		Enabled       bool          `yaml:"enabled"`
		Capacity      float64       `yaml:"capacity"`
		RefillPerSec  float64       `yaml:"refill_per_sec"`
		PruneInterval time.Duration `yaml:"prune_interval"`
	} `yaml:"ratelimit"`
	WebSocket struct {
		Enabled bool `yaml:"enabled"`
		Buffer  int  `yaml:"buffer"`
	} `yaml:"websocket"`
}

// ModelSpec describes one loadable Kronos checkpoint.
type ModelSpec struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Size        string `yaml:"size" json:"size"`
	Performance string `yaml:"performance" json:"performance"`
}

// DefaultModels mirrors the checkpoints shipped with the inference service.
func DefaultModels() []ModelSpec {
	return []ModelSpec{
		{Name: "kronos-mini", Description: "Lightweight model for fast inference", Size: "Small (~100MB)", Performance: "Fast"},
		{Name: "kronos-small", Description: "Balanced model for general use", Size: "Medium (~500MB)", Performance: "Balanced"},
		{Name: "kronos-base", Description: "Full-featured model for best accuracy", Size: "Large (~1GB)", Performance: "Best"},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.PostgresDSN = v
		c.Storage.Backend = "postgres"
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("KRONOS_URL"); v != "" {
		c.Kronos.ServiceURL = v
	}
	if v := os.Getenv("FEED_SOURCE"); v != "" {
		c.Feed.Source = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Feed.Source == "" {
		c.Feed.Source = "clickhouse"
	}
	if c.Feed.Cache.TTL == 0 {
		c.Feed.Cache.TTL = 15 * time.Minute
	}
	if c.Kronos.Timeout == 0 {
		c.Kronos.Timeout = 60 * time.Second
	}
	if len(c.Kronos.Models) == 0 {
		c.Kronos.Models = DefaultModels()
	}
	if c.Kafka.Topics.Events == "" {
		c.Kafka.Topics.Events = "kronos.predictions.events"
	}
	if c.Kafka.Topics.Requests == "" {
		c.Kafka.Topics.Requests = "kronos.predict.requests"
	}
	if c.Kafka.Topics.Bars == "" {
		c.Kafka.Topics.Bars = "kronos.bars"
	}
	if c.Logging.Collector.Topic == "" {
		c.Logging.Collector.Topic = "kronos.logs"
	}
	if c.Evaluation.Schedule == "" {
		c.Evaluation.Schedule = "0 */30 * * * *"
	}
	if c.Evaluation.BatchSize == 0 {
		c.Evaluation.BatchSize = 100
	}
	if c.Evaluation.MaxAttempts == 0 {
		c.Evaluation.MaxAttempts = 48
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 5
	}
	if c.RateLimit.RefillPerSec == 0 {
		c.RateLimit.RefillPerSec = 0.2
	}
	if c.RateLimit.PruneInterval == 0 {
		c.RateLimit.PruneInterval = 5 * time.Minute
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "kronos"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'memory' or 'postgres', got '%s'", c.Storage.Backend)
	}
	switch c.Feed.Source {
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for clickhouse feed")
		}
	case "http":
		if c.Feed.BaseURL == "" {
			return fmt.Errorf("feed.base_url is required for http feed")
		}
	default:
		return fmt.Errorf("feed.source must be 'clickhouse' or 'http', got '%s'", c.Feed.Source)
	}
	if c.Kronos.ServiceURL == "" {
		return fmt.Errorf("kronos.service_url is required")
	}
	if c.Kronos.DefaultModel != "" && !c.HasModel(c.Kronos.DefaultModel) {
		return fmt.Errorf("kronos.default_model %q is not in kronos.models", c.Kronos.DefaultModel)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Cache.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("feed.cache requires redis.enabled")
	}
	if c.Evaluation.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("evaluation requires redis.enabled for the job queue")
	}
	return nil
}

// HasModel reports whether name is a configured model.
func (c *Config) HasModel(name string) bool {
	for _, m := range c.Kronos.Models {
		if m.Name == name {
			return true
		}
	}
	return false
}

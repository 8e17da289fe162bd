package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ChartCache/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"required"`
	Log         logger.Config `yaml:"log"`
	Server      Server        `yaml:"server"`
	Metrics     Metrics       `yaml:"metrics"`
	Cache       Cache         `yaml:"cache"`
	Symbols     []string      `yaml:"symbols" validate:"dive,required"`
	Source      Source        `yaml:"source"`
	ClickHouse  ClickHouse    `yaml:"clickhouse"`
	Redis       Redis         `yaml:"redis"`
	Kafka       Kafka         `yaml:"kafka"`
	Stream      Stream        `yaml:"stream"`
}

type Server struct {
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	// WarmupRate is the per-client token refill rate of POST /api/warmup.
	WarmupRate  float64 `yaml:"warmup_rate" default:"0.5" validate:"gt=0"`
	WarmupBurst float64 `yaml:"warmup_burst" default:"5" validate:"gte=1"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type Cache struct {
	BaseTimeframe        string        `yaml:"base_timeframe" default:"1m" validate:"required"`
	MaxCacheSize         int           `yaml:"max_cache_size" default:"50" validate:"gte=1"`
	MaxSymbols           int           `yaml:"max_symbols" default:"10" validate:"gte=1"`
	WarmupInterval       time.Duration `yaml:"warmup_interval" default:"60s"`
	MinWarmupInterval    time.Duration `yaml:"min_warmup_interval" default:"10s"`
	AutoCleanup          bool          `yaml:"auto_cleanup" default:"true"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval" default:"5m"`
	Warmup               []string      `yaml:"warmup"`
	SnapshotTTL          time.Duration `yaml:"snapshot_ttl" default:"24h"`
	SnapshotSaveInterval time.Duration `yaml:"snapshot_save_interval" default:"5m"`
	// LazyLoad loads unknown symbols on their first chart request.
	LazyLoad bool `yaml:"lazy_load" default:"true"`
}

// Source selects where historical base bars come from.
type Source struct {
	Type     string        `yaml:"type" default:"clickhouse" validate:"oneof=clickhouse http none"`
	Lookback time.Duration `yaml:"lookback" default:"168h"`
	Limit    int           `yaml:"limit" default:"20000" validate:"gte=1"`
	Timeout  time.Duration `yaml:"timeout" default:"30s"`
	// BaseURL and APIKey address the klines HTTP API when Type is http.
	BaseURL string `yaml:"base_url" validate:"required_if=Type http"`
	APIKey  string `yaml:"api_key"`
	Retries int    `yaml:"retries" default:"3" validate:"gte=0"`
}

type ClickHouse struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"market"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	Table            string        `yaml:"table" default:"bars_1m"`
	TableTimeframe   string        `yaml:"table_timeframe" default:"1m"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	// PersistIngested writes bars consumed from Kafka back into Table.
	PersistIngested bool `yaml:"persist_ingested"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"chartcache"`
}

type Kafka struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	BarsTopic    string   `yaml:"bars_topic" default:"bars.base"`
	UpdatesTopic string   `yaml:"updates_topic" default:"bars.aggregated"`
	RequiredAcks int      `yaml:"required_acks" default:"1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     Producer `yaml:"producer"`
	Consumer     Consumer `yaml:"consumer"`
}

type Producer struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	Linger       time.Duration `yaml:"linger" default:"10ms"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

type Consumer struct {
	GroupID    string        `yaml:"group_id" default:"chartcache"`
	Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
	BufferSize int           `yaml:"buffer_size" default:"256"`
	RetryMax   int           `yaml:"retry_max" default:"3"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic   string        `yaml:"dlq_topic"`
	MinBytes   int           `yaml:"min_bytes" default:"1"`
	MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
}

// Stream is the realtime bar WebSocket feed.
type Stream struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url" validate:"required_if=Enabled true"`
	Token          string        `yaml:"token"`
	Timeframe      string        `yaml:"timeframe" default:"1m"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"1s"`
	MaxReconnects  int           `yaml:"max_reconnect_attempts" default:"5" validate:"gte=0"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
}

var validate = validator.New()

// Load reads a YAML file, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
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
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("SOURCE_API_KEY"); v != "" {
		c.Source.APIKey = v
	}
	if v := getenv("STREAM_TOKEN"); v != "" {
		c.Stream.Token = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Cache.MinWarmupInterval > c.Cache.WarmupInterval {
		return fmt.Errorf("cache.min_warmup_interval %s exceeds cache.warmup_interval %s",
			c.Cache.MinWarmupInterval, c.Cache.WarmupInterval)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

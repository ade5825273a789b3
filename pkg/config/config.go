// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Kafka, Elastic, Redis, Postgres, Buckets, Rollup,
// Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Elastic  ElasticConfig  `yaml:"elastic"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Buckets  BucketConfig   `yaml:"buckets"`
	Rollup   RollupConfig   `yaml:"rollup"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ListenEvents string `yaml:"listenEvents"`
}

// ElasticConfig holds the document store endpoint and client limits.
type ElasticConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters for the rollup
// audit store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// BucketConfig names the document store indices and the durations of the
// time-bucketed ones. Durations are whole minutes.
type BucketConfig struct {
	CatalogIndex           string `yaml:"catalogIndex"`
	UserProfileIndex       string `yaml:"userProfileIndex"`
	ListenEventPrefix      string `yaml:"listenEventPrefix"`
	ListenEventDuration    int    `yaml:"listenEventDurationMins"`
	RankingHistoryPrefix   string `yaml:"rankingHistoryPrefix"`
	RankingHistoryDuration int    `yaml:"rankingHistoryDurationMins"`
}

// RollupConfig controls the aggregation cycle scheduler.
type RollupConfig struct {
	Interval         time.Duration `yaml:"interval"`
	AggregationLimit int           `yaml:"aggregationLimit"`
}

// SearchConfig controls artist search pagination limits.
type SearchConfig struct {
	DefaultSize int `yaml:"defaultSize"`
	MaxSize     int `yaml:"maxSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides, and validates the result. Missing values fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects configurations the runtime cannot handle. A bucket
// duration of zero would make every index name computation divide by zero.
func (c *Config) validate() error {
	if c.Buckets.ListenEventDuration <= 0 {
		return fmt.Errorf("buckets.listenEventDurationMins must be > 0, got %d", c.Buckets.ListenEventDuration)
	}
	if c.Buckets.RankingHistoryDuration <= 0 {
		return fmt.Errorf("buckets.rankingHistoryDurationMins must be > 0, got %d", c.Buckets.RankingHistoryDuration)
	}
	if c.Rollup.Interval <= 0 {
		return fmt.Errorf("rollup.interval must be > 0, got %s", c.Rollup.Interval)
	}
	if c.Search.DefaultSize <= 0 || c.Search.MaxSize <= 0 {
		return fmt.Errorf("search.defaultSize and search.maxSize must be > 0")
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "artistrank-group",
			Topics: KafkaTopics{
				ListenEvents: "listen-events",
			},
		},
		Elastic: ElasticConfig{
			URL:            "http://localhost:9200",
			RequestTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "artistrank",
			User:            "artistrank",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Buckets: BucketConfig{
			CatalogIndex:           "content",
			UserProfileIndex:       "user-profile",
			ListenEventPrefix:      "listen-event-",
			ListenEventDuration:    5,
			RankingHistoryPrefix:   "artist-ranking-",
			RankingHistoryDuration: 1440,
		},
		Rollup: RollupConfig{
			Interval:         5 * time.Minute,
			AggregationLimit: 1000,
		},
		Search: SearchConfig{
			DefaultSize: 10,
			MaxSize:     1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides lets deployment environments override the most commonly
// tuned values without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}
	if v := os.Getenv("ELASTIC_URL"); v != "" {
		cfg.Elastic.URL = v
	}
	if v := os.Getenv("ELASTIC_USERNAME"); v != "" {
		cfg.Elastic.Username = v
	}
	if v := os.Getenv("ELASTIC_PASSWORD"); v != "" {
		cfg.Elastic.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("ROLLUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rollup.Interval = d
		}
	}
}

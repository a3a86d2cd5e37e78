package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. POINTDIST_SERVER_ADDR.
const EnvPrefix = "pointdist"

// Config is the full service configuration. Values are resolved as
// defaults, then the optional YAML file, then environment overrides.
type Config struct {
	Server    Server          `yaml:"server"`
	Database  Database        `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Directory DirectoryConfig `yaml:"directory"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Log       Log             `yaml:"log"`
	Points    Points          `yaml:"points"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"            split_words:"true"`
	ReadTimeout     time.Duration `yaml:"readTimeout"     split_words:"true"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"    split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
}

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

// Database selects and configures the distribution and member stores.
type Database struct {
	Driver       string        `yaml:"driver"`
	URL          string        `yaml:"url"`
	SQLitePath   string        `yaml:"sqlitePath"   split_words:"true"`
	MaxOpenConns int           `yaml:"maxOpenConns" split_words:"true"`
	TxTimeout    time.Duration `yaml:"txTimeout"    split_words:"true"`
}

// RedisConfig configures the directory lookup cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize"     split_words:"true"`
	MinIdleConns int           `yaml:"minIdleConns" split_words:"true"`
	DialTimeout  time.Duration `yaml:"dialTimeout"  split_words:"true"`
	ReadTimeout  time.Duration `yaml:"readTimeout"  split_words:"true"`
	WriteTimeout time.Duration `yaml:"writeTimeout" split_words:"true"`
	CacheTTL     time.Duration `yaml:"cacheTTL"     envconfig:"CACHE_TTL"`
}

// DirectoryConfig points at the external member directory.
type DirectoryConfig struct {
	BaseURL     string        `yaml:"baseURL"     envconfig:"BASE_URL"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// KafkaConfig configures distribution event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"clientID"       envconfig:"CLIENT_ID"`
	ProduceTimeout time.Duration `yaml:"produceTimeout" split_words:"true"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Points holds domain switches.
type Points struct {
	// AllowPastFinalization lets operators finalize a week after it ended.
	AllowPastFinalization bool `yaml:"allowPastFinalization" split_words:"true"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: Database{
			Driver:       DriverMemory,
			SQLitePath:   "pointdist.db",
			MaxOpenConns: 10,
			TxTimeout:    5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			CacheTTL:     10 * time.Minute,
		},
		Directory: DirectoryConfig{
			Timeout:     5 * time.Second,
			Concurrency: 4,
		},
		Kafka: KafkaConfig{
			Topic:          "pointdist.distributions",
			ClientID:       "pointdist",
			ProduceTimeout: 5 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres, DriverPgx:
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Directory.Concurrency < 1 {
		return errors.New("directory concurrency must be at least 1")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}
	return nil
}

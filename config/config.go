// Package config loads the server configuration.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults
//  2. an optional YAML file
//  3. a .env file in the working directory (never overriding real variables)
//  4. CONDUIT_* environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CONDUIT_"

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

type Config struct {
	GRPCAddr    string `yaml:"grpc_addr" env:"GRPC_ADDR"`
	HTTPAddr    string `yaml:"http_addr" env:"HTTP_ADDR"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
	OutboxDir   string `yaml:"outbox_dir" env:"OUTBOX_DIR"`

	Kafka Kafka `yaml:"kafka" envPrefix:"KAFKA_"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	// Driver selects the sink client: sarama or kafka-go.
	Driver string `yaml:"driver" env:"DRIVER"`
	// OutTopic receives every hub envelope. Empty disables the broadcaster.
	OutTopic string `yaml:"out_topic" env:"OUT_TOPIC"`
	// InTopic is consumed into the hub. Empty disables ingest.
	InTopic       string        `yaml:"in_topic" env:"IN_TOPIC"`
	GroupID       string        `yaml:"group_id" env:"GROUP_ID"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
}

func Default() Config {
	return Config{
		GRPCAddr:  ":50051",
		HTTPAddr:  ":8080",
		LogLevel:  "info",
		OutboxDir: "./outbox",
		Kafka: Kafka{
			Brokers:       []string{"localhost:9092"},
			Driver:        DriverSarama,
			GroupID:       "conduit",
			RetryInterval: time.Second,
		},
	}
}

// Load reads the configuration. path may be empty.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.GRPCAddr == "" {
		c.GRPCAddr = def.GRPCAddr
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = def.HTTPAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.OutboxDir == "" {
		c.OutboxDir = def.OutboxDir
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = def.Kafka.Brokers
	}
	if c.Kafka.Driver == "" {
		c.Kafka.Driver = def.Kafka.Driver
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = def.Kafka.GroupID
	}
	if c.Kafka.RetryInterval == 0 {
		c.Kafka.RetryInterval = def.Kafka.RetryInterval
	}
}

func (c Config) Validate() error {
	switch c.Kafka.Driver {
	case DriverSarama, DriverKafkaGo:
	default:
		return fmt.Errorf("config: unknown kafka driver %q", c.Kafka.Driver)
	}
	if c.Kafka.RetryInterval < 0 {
		return fmt.Errorf("config: negative retry interval %s", c.Kafka.RetryInterval)
	}
	return nil
}

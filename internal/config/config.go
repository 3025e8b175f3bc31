// Package config loads worker configuration the way the teacher's own
// .env/.env.local loader does — local overrides production — but
// through spf13/viper instead of a hand-rolled parser, so environment
// variables, a config file, and defaults all bind into one typed
// struct (spec §6 "Environment configuration").
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// QueueConfig names the work-queue transport endpoints spec §6 lists.
type QueueConfig struct {
	ImageQueueURL     string        `mapstructure:"image_queue_url"`
	RegionQueueURL    string        `mapstructure:"region_queue_url"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// LedgerConfig names the job/region ledger's backing store.
type LedgerConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SinkConfig names the output-sink destinations.
type SinkConfig struct {
	S3Bucket         string `mapstructure:"s3_bucket"`
	KinesisStream    string `mapstructure:"kinesis_stream"`
	KinesisBatchSize int    `mapstructure:"kinesis_batch_size"`
}

// EndpointConfig overrides the endpoint client's retry/timeout tuning.
type EndpointConfig struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// MetricsConfig names the metrics namespace and emission cadence spec
// §6 lists.
type MetricsConfig struct {
	Namespace    string        `mapstructure:"namespace"`
	EmitInterval time.Duration `mapstructure:"emit_interval"`
}

// Config is the fully resolved worker configuration.
type Config struct {
	WorkerID            string         `mapstructure:"worker_id"`
	AWSRegion           string         `mapstructure:"aws_region"`
	AWSEndpointURL      string         `mapstructure:"aws_endpoint_url"`
	LogLevel            string         `mapstructure:"log_level"`
	RegionSize          int            `mapstructure:"region_size"`
	TilePoolSize        int            `mapstructure:"tile_pool_size"`
	DefaultDistillation string         `mapstructure:"default_distillation"`
	Queue               QueueConfig    `mapstructure:"queue"`
	Ledger              LedgerConfig   `mapstructure:"ledger"`
	Sinks               SinkConfig     `mapstructure:"sinks"`
	Endpoint            EndpointConfig `mapstructure:"endpoint"`
	Metrics             MetricsConfig  `mapstructure:"metrics"`
}

// Load binds defaults, an optional config file (TOML/YAML/JSON,
// whatever viper's extension sniffing detects), and environment
// variables into a Config, with precedence env (GEOVISION_ prefix) >
// local override file (configPath's name with ".local" before the
// extension) > configPath > defaults — mirroring the teacher's "prefer
// .env.local over .env" rule but generalized to viper's layered sources.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GEOVISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if err := readIfPresent(v, configPath); err != nil {
			return nil, err
		}
	}
	localPath := localOverridePath(configPath)
	if localPath != "" {
		if err := readIfPresent(v, localPath); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if cfg.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		cfg.WorkerID = host
	}
	return &cfg, nil
}

// Validate checks the fields a worker cannot run without, surfaced by
// the `worker validate-config` subcommand.
func (c *Config) Validate() error {
	if c.Queue.ImageQueueURL == "" {
		return fmt.Errorf("queue.image_queue_url is required")
	}
	if c.Queue.RegionQueueURL == "" {
		return fmt.Errorf("queue.region_queue_url is required")
	}
	if c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required")
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return fmt.Errorf("queue.visibility_timeout must be positive")
	}
	if c.RegionSize <= 0 {
		return fmt.Errorf("region_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("region_size", 8192)
	v.SetDefault("tile_pool_size", 4)
	v.SetDefault("default_distillation", "NMS")
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("sinks.kinesis_batch_size", 500)
	v.SetDefault("endpoint.dial_timeout", 10*time.Second)
	v.SetDefault("endpoint.request_timeout", 60*time.Second)
	v.SetDefault("endpoint.max_attempts", 5)
	v.SetDefault("metrics.namespace", "GeoVisionRunner")
	v.SetDefault("metrics.emit_interval", 60*time.Second)
}

func readIfPresent(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// localOverridePath mirrors the teacher's ".env" -> ".env.local"
// naming convention for whatever extension configPath uses.
func localOverridePath(configPath string) string {
	if configPath == "" {
		return ""
	}
	ext := ""
	if idx := strings.LastIndex(configPath, "."); idx >= 0 {
		ext = configPath[idx:]
	}
	base := strings.TrimSuffix(configPath, ext)
	return base + ".local" + ext
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	API       API       `toml:"api" yaml:"api"`
	Storage   Storage   `toml:"storage" yaml:"storage"`
	Logging   Logging   `toml:"logging" yaml:"logging"`
	Telemetry Telemetry `toml:"telemetry" yaml:"telemetry"`
	Scheduler Scheduler `toml:"scheduler" yaml:"scheduler"`
	Protocol  Protocol  `toml:"protocol" yaml:"protocol"`
}

type API struct {
	ListenAddress string `toml:"listen" yaml:"listen"`
	// JWTSecret signs and verifies caller tokens (HS256).
	JWTSecret         string        `toml:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `toml:"jwt_issuer" yaml:"jwt_issuer"`
	RateLimitPerSec   float64       `toml:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	RateLimitBurst    int           `toml:"rate_limit_burst" yaml:"rate_limit_burst"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type Storage struct {
	DataDir  string `toml:"data_dir" yaml:"data_dir"`
	InMemory bool   `toml:"in_memory" yaml:"in_memory"`
}

type Logging struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	File   string `toml:"file" yaml:"file"`
	Env    string `toml:"env" yaml:"env"`
}

type Telemetry struct {
	OTLPEndpoint string `toml:"otlp_endpoint" yaml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure" yaml:"insecure"`
	Metrics      bool   `toml:"metrics" yaml:"metrics"`
	Traces       bool   `toml:"traces" yaml:"traces"`
}

type Scheduler struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// Interval is the harvest tick period.
	Interval time.Duration `toml:"interval" yaml:"interval"`
	// Duration is the length of each emission stream.
	Duration time.Duration `toml:"duration" yaml:"duration"`
}

// Load reads a TOML or YAML file, chosen by extension, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(raw), cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a single-node development configuration.
func Default() *Config {
	return &Config{
		API: API{
			ListenAddress:     ":8545",
			JWTIssuer:         "creditd",
			RateLimitPerSec:   20,
			RateLimitBurst:    40,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Storage:   Storage{DataDir: "./credit-data"},
		Logging:   Logging{Level: "info", Format: "json", Env: "dev"},
		Telemetry: Telemetry{Metrics: true},
		Scheduler: Scheduler{Enabled: true, Interval: time.Hour, Duration: 7 * 24 * time.Hour},
		Protocol:  DefaultProtocol(),
	}
}

func (c *Config) normalize() {
	c.API.ListenAddress = strings.TrimSpace(c.API.ListenAddress)
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8545"
	}
	c.Storage.DataDir = strings.TrimSpace(c.Storage.DataDir)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Protocol.normalize()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.API.RateLimitPerSec < 0 || c.API.RateLimitBurst < 0 {
		return fmt.Errorf("api: rate limit must not be negative")
	}
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("storage: data_dir required unless in_memory=true")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			return fmt.Errorf("scheduler: interval must be positive")
		}
		if c.Scheduler.Duration <= 0 {
			return fmt.Errorf("scheduler: duration must be positive")
		}
	}
	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Relay  RelayConfig  `yaml:"relay"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	StaticDir      string   `yaml:"static_dir"`
	AllowRestart   bool     `yaml:"allow_restart"`
	CORSOrigin     string   `yaml:"cors_origin"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RelayConfig struct {
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	MaxPayloadBytes  int64         `yaml:"max_payload_bytes"`
	EventRateLimit   float64       `yaml:"event_rate_limit"` // events/sec, 0 disables
	EventBurst       int           `yaml:"event_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3456,
			Host:         "0.0.0.0",
			StaticDir:    "public",
			AllowRestart: true,
			CORSOrigin:   "*",
		},
		Relay: RelayConfig{
			SubscriberBuffer: 64,
			WriteTimeout:     10 * time.Second,
			PingInterval:     30 * time.Second,
			PongTimeout:      60 * time.Second,
			MaxPayloadBytes:  64 << 10,
			EventBurst:       20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Relay.SubscriberBuffer < 1 {
		return errors.New("relay.subscriber_buffer must be positive")
	}
	if c.Relay.WriteTimeout <= 0 {
		return errors.New("relay.write_timeout must be positive")
	}
	if c.Relay.PingInterval <= 0 || c.Relay.PongTimeout <= 0 {
		return errors.New("relay.ping_interval and relay.pong_timeout must be positive")
	}
	if c.Relay.PingInterval >= c.Relay.PongTimeout {
		return fmt.Errorf("relay.ping_interval (%s) must be shorter than relay.pong_timeout (%s)",
			c.Relay.PingInterval, c.Relay.PongTimeout)
	}
	if c.Relay.MaxPayloadBytes <= 0 {
		return errors.New("relay.max_payload_bytes must be positive")
	}
	if c.Relay.EventRateLimit < 0 {
		return errors.New("relay.event_rate_limit must not be negative")
	}
	if c.Relay.EventRateLimit > 0 && c.Relay.EventBurst < 1 {
		return errors.New("relay.event_burst must be positive when rate limiting")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

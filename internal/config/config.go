package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Session  SessionConfig  `yaml:"session"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

type StorageConfig struct {
	MediaRoot     string `yaml:"media_root"`
	MediaMaxBytes int64  `yaml:"media_max_bytes"`
}

// SessionConfig tunes the client-side chat session transport.
type SessionConfig struct {
	URL                  string        `yaml:"url"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	ReconnectBase        time.Duration `yaml:"reconnect_base"`
	ReconnectCap         time.Duration `yaml:"reconnect_cap"`
	ReconnectMaxAttempts uint64        `yaml:"reconnect_max_attempts"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GUARDIAN_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("GUARDIAN_SESSION_URL"); v != "" {
		c.Session.URL = v
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Guardian Server"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/guardian.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 24 * time.Hour
	}
	if c.Storage.MediaRoot == "" {
		c.Storage.MediaRoot = "./data/media"
	}
	if c.Storage.MediaMaxBytes == 0 {
		c.Storage.MediaMaxBytes = 25 << 20
	}
	if c.Session.URL == "" {
		c.Session.URL = fmt.Sprintf("ws://%s:%d/ws", c.Server.Host, c.Server.Port)
	}
	if c.Session.DialTimeout == 0 {
		c.Session.DialTimeout = 10 * time.Second
	}
	if c.Session.ReconnectBase == 0 {
		c.Session.ReconnectBase = time.Second
	}
	if c.Session.ReconnectCap == 0 {
		c.Session.ReconnectCap = 30 * time.Second
	}
	if c.Session.ReconnectMaxAttempts == 0 {
		c.Session.ReconnectMaxAttempts = 6
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Package config loads client settings from a YAML file or, when no file is
// present, from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

var ErrMissingCredentials = errors.New("access_id, access_secret and endpoint are required")

const defaultPath = "config.yaml"

type Config struct {
	AccessID     string `yaml:"access_id" env:"MCP_ACCESS_ID"`
	AccessSecret string `yaml:"access_secret" env:"MCP_ACCESS_SECRET"`
	Endpoint     string `yaml:"endpoint" env:"MCP_ENDPOINT"`

	// CustomMCPServerEndpoint points at the downstream MCP server requests
	// are forwarded to. Forwarding is disabled when empty.
	CustomMCPServerEndpoint string `yaml:"custom_mcp_server_endpoint" env:"MCP_CUSTOM_SERVER_ENDPOINT"`

	PingInterval time.Duration `yaml:"ping_interval" env:"MCP_PING_INTERVAL"`
	PingTimeout  time.Duration `yaml:"ping_timeout" env:"MCP_PING_TIMEOUT"`
}

// Load reads the file named by CONFIG_PATH (config.yaml by default) when it
// exists, otherwise it falls back to environment variables.
func Load() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}

	if _, err := os.Stat(path); err == nil {
		return LoadFile(path)
	}

	return LoadEnv()
}

func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return cfg, cfg.validate()
}

func LoadEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.applyDefaults()

	return cfg, cfg.validate()
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}

	if c.PingTimeout <= 0 {
		c.PingTimeout = 10 * time.Second
	}
}

func (c *Config) validate() error {
	if c.AccessID == "" || c.AccessSecret == "" || c.Endpoint == "" {
		return ErrMissingCredentials
	}

	return nil
}

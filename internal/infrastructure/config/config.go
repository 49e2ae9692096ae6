// Package config loads engine configuration from environment variables,
// with an optional per-project YAML overlay stored inside the virtual
// filesystem workspace.
package config

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all engine configuration.
type Config struct {
	Server   ServerConfig
	Registry RegistryConfig
	Bridge   BridgeConfig
	Logging  LogConfig
}

// ServerConfig holds the HTTP facade configuration.
type ServerConfig struct {
	Port           string   `envconfig:"PORT" default:"4400"`
	Host           string   `envconfig:"HOST" default:"0.0.0.0"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	RateLimitRPS   float64  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int      `envconfig:"RATE_LIMIT_BURST" default:"200"`
}

// RegistryConfig holds package-registry proxy configuration.
type RegistryConfig struct {
	URL               string  `envconfig:"REGISTRY_URL" default:"https://registry.npmjs.org"`
	RequestsPerSecond float64 `envconfig:"REGISTRY_RPS" default:"8"`
	MaxRetries        int     `envconfig:"REGISTRY_MAX_RETRIES" default:"3"`
	TimeoutSeconds    int     `envconfig:"REGISTRY_TIMEOUT" default:"30"`
}

// BridgeConfig holds network-bridge configuration.
type BridgeConfig struct {
	CorrelationTimeoutSeconds int `envconfig:"BRIDGE_TIMEOUT" default:"30"`
	InitWaitSeconds           int `envconfig:"BRIDGE_INIT_WAIT" default:"5"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("GLASSBOX", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "4400", Host: "0.0.0.0", AllowedOrigins: []string{"*"}, RateLimitRPS: 100, RateLimitBurst: 200},
		Registry: RegistryConfig{URL: "https://registry.npmjs.org", RequestsPerSecond: 8, MaxRetries: 3, TimeoutSeconds: 30},
		Bridge:   BridgeConfig{CorrelationTimeoutSeconds: 30, InitWaitSeconds: 5},
		Logging:  LogConfig{Level: "info"},
	}
}

// Project is per-workspace configuration read from glassbox.yaml at the
// workspace root, overlaying engine defaults for a single project.
type Project struct {
	Name        string            `yaml:"name"`
	Entry       string            `yaml:"entry"`
	AssetPrefix string            `yaml:"asset_prefix"`
	Env         map[string]string `yaml:"env"`
	Ignore      []string          `yaml:"ignore"` // doublestar globs excluded from watching
}

// ParseProject decodes a glassbox.yaml document.
func ParseProject(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid project config: %w", err)
	}
	return &p, nil
}

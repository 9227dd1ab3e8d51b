// Package config loads TOML configuration with environment overrides for
// the agent and client binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

var validate = validator.New()

// Agent is the castkeepd configuration.
type Agent struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Validate ValidateConfig `toml:"validate"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig describes the listen address and the shared API key.
type ServerConfig struct {
	Bind    string `toml:"bind" validate:"required,hostname_port"`
	AuthKey string `toml:"auth_key" validate:"required,min=16"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

type BadgerConfig struct {
	Path string `toml:"path" validate:"required"`
}

// ValidateConfig controls the periodic token validation sweep.
type ValidateConfig struct {
	Schedule   string  `toml:"schedule" validate:"required"` // cron spec, e.g. "@hourly"
	RatePerSec float64 `toml:"rate_per_sec" validate:"gt=0"`
	Burst      int     `toml:"burst" validate:"gte=1"`
}

type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json text"`
}

// Client is the castkeep CLI configuration.
type Client struct {
	Vault   VaultConfig   `toml:"vault"`
	Agent   AgentConfig   `toml:"agent"`
	Unlock  UnlockConfig  `toml:"unlock"`
	Logging LoggingConfig `toml:"logging"`
}

type VaultConfig struct {
	Path      string `toml:"path" validate:"required"`
	Partition string `toml:"partition"`
}

// AgentConfig points the client at a running castkeepd.
type AgentConfig struct {
	Addr    string `toml:"addr" validate:"required,url"`
	AuthKey string `toml:"auth_key" validate:"required,min=16"`
}

// UnlockConfig tunes the wrong-password lockout.
type UnlockConfig struct {
	Window   time.Duration `toml:"window" validate:"gt=0"`
	MaxFails int           `toml:"max_fails" validate:"gte=1"`
	BlockFor time.Duration `toml:"block_for" validate:"gt=0"`
}

// DefaultAgent returns the agent defaults; auth_key has no default and
// must come from the file or CASTKEEPD_AUTH_KEY.
func DefaultAgent() *Agent {
	return &Agent{
		Server:   ServerConfig{Bind: "127.0.0.1:8420"},
		Storage:  StorageConfig{Badger: BadgerConfig{Path: filepath.Join(defaultDataDir(), "badger")}},
		Validate: ValidateConfig{Schedule: "@hourly", RatePerSec: 5, Burst: 5},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// DefaultClient returns the client defaults; agent auth_key must come from
// the file or CASTKEEP_AUTH_KEY.
func DefaultClient() *Client {
	return &Client{
		Vault:   VaultConfig{Path: filepath.Join(defaultDataDir(), "vault.bin"), Partition: "client"},
		Agent:   AgentConfig{Addr: "http://127.0.0.1:8420"},
		Unlock:  UnlockConfig{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultAgentPath is the agent config location under the user config dir.
func DefaultAgentPath() string { return filepath.Join(defaultDataDir(), "castkeepd.toml") }

// DefaultClientPath is the client config location under the user config dir.
func DefaultClientPath() string { return filepath.Join(defaultDataDir(), "castkeep.toml") }

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "castkeep")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".castkeep")
	}
	return "."
}

// LoadAgent merges defaults, the optional TOML file at path and
// CASTKEEPD_* environment overrides, then validates. A missing file is
// not an error.
func LoadAgent(path string) (*Agent, error) {
	cfg := DefaultAgent()
	if err := mergeFile(path, cfg); err != nil {
		return nil, err
	}
	applyAgentEnv(cfg)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadClient merges defaults, the optional TOML file at path and
// CASTKEEP_* environment overrides, then validates.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
	if err := mergeFile(path, cfg); err != nil {
		return nil, err
	}
	applyClientEnv(cfg)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func mergeFile(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyAgentEnv(cfg *Agent) {
	if v := os.Getenv("CASTKEEPD_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("CASTKEEPD_AUTH_KEY"); v != "" {
		cfg.Server.AuthKey = v
	}
	if v := os.Getenv("CASTKEEPD_BADGER_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("CASTKEEPD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyClientEnv(cfg *Client) {
	if v := os.Getenv("CASTKEEP_VAULT_PATH"); v != "" {
		cfg.Vault.Path = v
	}
	if v := os.Getenv("CASTKEEP_AGENT_ADDR"); v != "" {
		cfg.Agent.Addr = v
	}
	if v := os.Getenv("CASTKEEP_AUTH_KEY"); v != "" {
		cfg.Agent.AuthKey = v
	}
	if v := os.Getenv("CASTKEEP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

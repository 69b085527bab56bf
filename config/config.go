// Package config loads the sandbox client configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Storage drivers
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Event drivers
const (
	EventsGoChannel = "gochannel"
	EventsRedis     = "redis"
)

// Config is the client configuration
type Config struct {
	AppName  string         `yaml:"app_name"`
	API      EndpointConfig `yaml:"api"`
	Passport EndpointConfig `yaml:"passport"`
	Storage  StorageConfig  `yaml:"storage"`
	Events   EventsConfig   `yaml:"events"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Modal    ModalConfig    `yaml:"modal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// EndpointConfig is a REST endpoint
type EndpointConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects where the local state is kept
type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

// EventsConfig selects where session events are published
type EventsConfig struct {
	Driver   string `yaml:"driver"`
	RedisURL string `yaml:"redis_url"`
}

// WalletConfig configures the local keystore extension
type WalletConfig struct {
	Keystore KeystoreConfig `yaml:"keystore"`
}

// KeystoreConfig lists named hex private keys. Without keys the extension is not injected.
type KeystoreConfig struct {
	Name string            `yaml:"name"`
	Keys map[string]string `yaml:"keys"`
}

// ModalConfig holds the auto-close delays of the connect dialog
type ModalConfig struct {
	NewAccountDelay time.Duration `yaml:"new_account_delay"`
	DefaultDelay    time.Duration `yaml:"default_delay"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads .env, then the YAML file at path with ${ENV} references
// expanded. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "DotPassport Sandbox"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:3001"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.Passport.BaseURL == "" {
		c.Passport.BaseURL = "https://api.dotpassport.io"
	}
	if c.Passport.Timeout == 0 {
		c.Passport.Timeout = 30 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageFile
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStatePath()
	}
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = "sandbox:"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = EventsGoChannel
	}
	if c.Events.RedisURL == "" {
		c.Events.RedisURL = c.Storage.RedisURL
	}
	if c.Modal.NewAccountDelay == 0 {
		c.Modal.NewAccountDelay = 6000 * time.Millisecond
	}
	if c.Modal.DefaultDelay == 0 {
		c.Modal.DefaultDelay = 2000 * time.Millisecond
	}
	if c.Modal.ReconnectDelay == 0 {
		c.Modal.ReconnectDelay = 1500 * time.Millisecond
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageFile:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("storage.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case EventsGoChannel:
	case EventsRedis:
		if c.Events.RedisURL == "" {
			return errors.New("events.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown events driver %q", c.Events.Driver)
	}
	return nil
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "sandbox-state.json"
	}
	return dir + "/dotpassport-sandbox/state.json"
}

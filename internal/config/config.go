// Package config loads service configuration from defaults, an optional
// YAML file, and BOOKBYTE_-prefixed environment variables, with hot reload.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	Generation GenerationConfig `mapstructure:"generation" yaml:"generation"`
	Worker     WorkerConfig     `mapstructure:"worker" yaml:"worker"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// Secret is the shared secret the trigger endpoint compares against
	// the X-BookByte-Secret header.
	Secret string `mapstructure:"secret" yaml:"secret"`
}

// DatabaseConfig locates the embedded job database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SourceConfig bounds source download and extraction.
type SourceConfig struct {
	FileHostBase string `mapstructure:"file_host_base" yaml:"file_host_base"`
	MaxPages     int    `mapstructure:"max_pages" yaml:"max_pages"`
	MaxChars     int    `mapstructure:"max_chars" yaml:"max_chars"`
}

// HostConfig is one chat-completion endpoint.
type HostConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// GenerationConfig parameterizes the continuation generator.
type GenerationConfig struct {
	Model         string        `mapstructure:"model" yaml:"model"`
	Instructions  string        `mapstructure:"instructions" yaml:"instructions"`
	MaxStepTokens int           `mapstructure:"max_step_tokens" yaml:"max_step_tokens"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Primary       HostConfig    `mapstructure:"primary" yaml:"primary"`
	Fallback      HostConfig    `mapstructure:"fallback" yaml:"fallback"`
}

// WorkerConfig parameterizes the orchestrator.
type WorkerConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a manager and loads initial config. cfgFile may be
// empty, in which case ./config.yaml and ~/.bookbyte/config.yaml are tried.
func NewManager(cfgFile string) (*Manager, error) {
	m := &Manager{}

	if err := m.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	return m, nil
}

func (m *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("server", defaults.Server)
	viper.SetDefault("database", defaults.Database)
	viper.SetDefault("source", defaults.Source)
	viper.SetDefault("generation", defaults.Generation)
	viper.SetDefault("worker", defaults.Worker)

	viper.SetEnvPrefix("BOOKBYTE")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.bookbyte")
	}

	// Config file is optional; defaults plus env are a valid setup.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback for config changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig enables hot-reloading of the config file.
func (m *Manager) WatchConfig() {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := m.load()
		if err != nil {
			return
		}

		m.mu.Lock()
		m.config = cfg
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// WriteDefault writes a default config file to path, failing if one
// already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	out, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

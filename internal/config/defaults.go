package config

import (
	"time"

	"github.com/tobysauze/BookByte-sub001/internal/source"
)

// DefaultConfig returns the configuration used when no file or environment
// overrides are present. API keys and the trigger secret have no defaults;
// they must come from config or environment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Database: DatabaseConfig{
			Path: "bookbyte.db",
		},
		Source: SourceConfig{
			FileHostBase: source.DefaultFileHostBase,
			MaxPages:     600,
			MaxChars:     900_000,
		},
		Generation: GenerationConfig{
			Model:         "deepseek-chat",
			MaxStepTokens: 8192,
			Timeout:       10 * time.Minute,
			Primary: HostConfig{
				Name:    "primary",
				BaseURL: "https://api.deepseek.com/v1",
			},
			Fallback: HostConfig{
				Name:    "fallback",
				BaseURL: "https://openrouter.ai/api/v1",
			},
		},
		Worker: WorkerConfig{
			StaleAfter: 30 * time.Minute,
		},
	}
}

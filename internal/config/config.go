// Package config loads server configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	LLM    LLMConfig    `yaml:"llm"`
	Game   GameConfig   `yaml:"game"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port    string `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"-"`
	Parallelism int           `yaml:"parallelism"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	Backoff     time.Duration `yaml:"backoff"`
	Cache       CacheConfig   `yaml:"cache"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type GameConfig struct {
	SnapshotRetain            int           `yaml:"snapshot_retain"`
	HistoryWindow             int           `yaml:"history_window"`
	ThiefDetectionProbability float64       `yaml:"thief_detection_probability"`
	TickInterval              time.Duration `yaml:"tick_interval"`
	SessionIdleTimeout        time.Duration `yaml:"session_idle_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:    "3001",
			DataDir: "data",
		},
		LLM: LLMConfig{
			BaseURL:     "https://openrouter.ai/api/v1/chat/completions",
			Model:       "deepseek/deepseek-v3.1-terminus:exacto",
			Parallelism: 32,
			Timeout:     60 * time.Second,
			Retries:     2,
			Backoff:     500 * time.Millisecond,
			Cache: CacheConfig{
				Path: "data/llm_cache.db",
			},
		},
		Game: GameConfig{
			SnapshotRetain:            3,
			HistoryWindow:             48,
			ThiefDetectionProbability: 0.5,
			SessionIdleTimeout:        time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate rejects values the runtime cannot work with.
func (c Config) Validate() error {
	if c.LLM.Parallelism < 1 {
		return fmt.Errorf("llm.parallelism must be >= 1, got %d", c.LLM.Parallelism)
	}
	if c.LLM.Retries < 0 {
		return fmt.Errorf("llm.retries must be >= 0, got %d", c.LLM.Retries)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if c.Game.SnapshotRetain < 1 {
		return fmt.Errorf("game.snapshot_retain must be >= 1, got %d", c.Game.SnapshotRetain)
	}
	if p := c.Game.ThiefDetectionProbability; p < 0 || p > 1 {
		return fmt.Errorf("game.thief_detection_probability must be in [0,1], got %v", p)
	}
	return nil
}

// Package config loads application configuration from an optional YAML file,
// a local .env file, and environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath        string   `yaml:"db_path"`
	Channels      []string `yaml:"channels"`
	Port          int      `yaml:"port"`
	LogLevel      string   `yaml:"log_level"`
	MinDuration   int      `yaml:"min_duration"`   // seconds
	EnrichWorkers int      `yaml:"enrich_workers"` // concurrent analysis requests
	MaxPages      int      `yaml:"max_pages"`      // listing pages per channel, 0 = all

	YouTubeAPIKey string `yaml:"-"`
	GeminiAPIKey  string `yaml:"-"`
	GeminiModel   string `yaml:"gemini_model"`
}

func defaults() Config {
	return Config{
		DBPath:        "videos.db",
		Port:          8000,
		LogLevel:      "info",
		MinDuration:   300,
		EnrichWorkers: 1,
		GeminiModel:   "gemini-2.5-flash",
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), then applies .env and environment overrides. API keys are
// only read from the environment, never from the file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 300
	}
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = 1
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOCKSIGHT_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STOCKSIGHT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("STOCKSIGHT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.YouTubeAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = v
	}
}

// RequireSyncKeys verifies the credentials the sync pipeline needs.
func (c Config) RequireSyncKeys() error {
	if c.YouTubeAPIKey == "" {
		return fmt.Errorf("missing required config: YOUTUBE_API_KEY")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("missing required config: GEMINI_API_KEY")
	}
	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML file overlaid before the environment.
const FileEnv = "STORYFORGE_CONFIG"

// Log mirror backends.
const (
	MirrorNone  = "none"
	MirrorFile  = "file"
	MirrorRedis = "redis"
)

type Config struct {
	Port         string     `env:"PORT" yaml:"port"`
	Environment  string     `env:"ENVIRONMENT" yaml:"environment"`
	LogLevelName string     `env:"LOG_LEVEL" yaml:"log_level"`
	LogLevel     slog.Level `yaml:"-"`

	RedisURL string `env:"REDIS_URL" yaml:"redis_url"`
	DataDir  string `env:"STORYFORGE_DATA_DIR" yaml:"data_dir"`
	CardsDir string `env:"STORYFORGE_CARDS_DIR" yaml:"cards_dir"`
	SlotsDB  string `env:"STORYFORGE_SLOTS_DB" yaml:"slots_db"`

	LLMBaseURL     string        `env:"LLM_BASE_URL" yaml:"llm_base_url"`
	LLMAPIKey      string        `env:"LLM_API_KEY" yaml:"llm_api_key"`
	ModelName      string        `env:"MODEL_NAME" yaml:"model_name"`
	UserAgent      string        `env:"STORYFORGE_USER_AGENT" yaml:"user_agent"`
	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" yaml:"request_timeout"`

	LogMirror     string `env:"STORYFORGE_LOG_MIRROR" yaml:"log_mirror"`
	DummyNarrator bool   `env:"STORYFORGE_DUMMY_NARRATOR" yaml:"dummy_narrator"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           "8080",
		Environment:    "development",
		LogLevelName:   "info",
		RedisURL:       "localhost:6379",
		DataDir:        "data",
		CardsDir:       "cards",
		LLMBaseURL:     "https://api.openai.com/v1",
		ModelName:      "gpt-4o-mini",
		UserAgent:      "StoryForge/1.0",
		RequestTimeout: 90 * time.Second,
		LogMirror:      MirrorNone,
	}
}

// Load builds the configuration from the defaults, the YAML file named by
// STORYFORGE_CONFIG if set, and then the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg.finish()
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) finish() (*Config, error) {
	c.LogLevel = parseLogLevel(c.LogLevelName)
	c.LogMirror = strings.ToLower(strings.TrimSpace(c.LogMirror))
	switch c.LogMirror {
	case "":
		c.LogMirror = MirrorNone
	case MirrorNone, MirrorFile, MirrorRedis:
	default:
		return nil, fmt.Errorf("invalid log mirror %q (want none, file or redis)", c.LogMirror)
	}
	if c.SlotsDB == "" {
		c.SlotsDB = filepath.Join(c.DataDir, "slots.db")
	}
	return &c, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	NATS     NATSConfig     `yaml:"nats"`
	LLM      LLMConfig      `yaml:"llm"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Web      WebConfig      `yaml:"web"`
	Retro    RetroConfig    `yaml:"retro"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig controls the worker broker. When URL is empty an embedded
// server is started on Port.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Port    int    `yaml:"port"`
}

type LLMConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Provider        string        `yaml:"provider"` // anthropic, openai, ollama, echo; empty = auto
	Model           string        `yaml:"model"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	OllamaHost      string        `yaml:"ollama_host"`
	OllamaModel     string        `yaml:"ollama_model"`
	Timeout         time.Duration `yaml:"timeout"`
}

type DispatchConfig struct {
	AsyncPreferred bool          `yaml:"async_preferred"`
	Timeout        time.Duration `yaml:"timeout"`
	Workers        int           `yaml:"workers"`
	LocalWorker    bool          `yaml:"local_worker"`
}

type PipelineConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	HistoryLimit int           `yaml:"history_limit"`
	StepDelay    time.Duration `yaml:"step_delay"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type RetroConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Path: "data/aiteam.db",
		},
		NATS: NATSConfig{
			Enabled: true,
			Port:    4222,
		},
		LLM: LLMConfig{
			OllamaModel: "llama3.1:8b",
			Timeout:     20 * time.Second,
		},
		Dispatch: DispatchConfig{
			AsyncPreferred: true,
			Timeout:        30 * time.Second,
			Workers:        4,
			LocalWorker:    true,
		},
		Pipeline: PipelineConfig{
			Timeout:      2 * time.Minute,
			HistoryLimit: 20,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Retro: RetroConfig{
			Enabled:  true,
			Schedule: "@hourly",
		},
	}
}

// Path returns the config file location, AITEAM_CONFIG or the default.
func Path() string {
	if path := os.Getenv("AITEAM_CONFIG"); path != "" {
		return path
	}
	return "config/aiteam.yaml"
}

func Load() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings that would make the pipeline misbehave at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive")
	}
	if c.Pipeline.Timeout < 0 {
		return fmt.Errorf("pipeline timeout must not be negative")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm timeout must not be negative")
	}
	if c.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch workers must not be negative")
	}
	if c.Retro.Enabled && !gronx.New().IsValid(c.Retro.Schedule) {
		return fmt.Errorf("invalid retro schedule %q", c.Retro.Schedule)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AITEAM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AITEAM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("AITEAM_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("ENABLE_LLM"); v != "" {
		cfg.LLM.Enabled = truthy(v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.LLM.OllamaHost = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.LLM.OllamaModel = v
	}
	if v := os.Getenv("AITEAM_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("AITEAM_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("AITEAM_DISPATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.Timeout = d
		}
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

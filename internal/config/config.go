package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type StoreConfig struct {
	Backend  string `yaml:"backend"` // file | memory | postgres | redis
	Path     string `yaml:"path"`    // file backend: store document
	EventLog string `yaml:"event_log"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Workers        int           `yaml:"workers"`
	Backlog        int           `yaml:"backlog"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Backoff        time.Duration `yaml:"backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Store          string        `yaml:"store"` // memory | postgres
}

type ExecutorConfig struct {
	DefaultWait    time.Duration `yaml:"default_wait"`
	MaxWait        time.Duration `yaml:"max_wait"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	StepWait       time.Duration `yaml:"step_wait"` // budget for a delegated step's job
	RunMaxAttempts int           `yaml:"run_max_attempts"`
}

type WatchdogConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type CircuitConfig struct {
	FailThreshold int           `yaml:"fail_threshold"`
	Cooldown      time.Duration `yaml:"cooldown"`
}

type CapabilitiesConfig struct {
	LocalMediaURL   string        `yaml:"local_media_url"`
	OpenAIKey       string        `yaml:"openai_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	OpenAIModel     string        `yaml:"openai_model"`
	MaxPromptTokens int           `yaml:"max_prompt_tokens"`
	GeminiKey       string        `yaml:"gemini_key"`
	GeminiURL       string        `yaml:"gemini_url"`
	GeminiModel     string        `yaml:"gemini_model"`
	GeminiImage     string        `yaml:"gemini_image_model"`
	GeminiVideo     string        `yaml:"gemini_video_model"`
	SearchURL       string        `yaml:"search_url"`
	PollInterval    time.Duration `yaml:"poll_interval"` // long-running generation operations
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent calls per provider
	Circuit         CircuitConfig `yaml:"circuit"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type RateLimitConfig struct {
	SubmitPerMinute int `yaml:"submit_per_minute"`
}

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Log          LogConfig          `yaml:"log"`
	Store        StoreConfig        `yaml:"store"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Queue        QueueConfig        `yaml:"queue"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Notify       NotifyConfig       `yaml:"notify"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/store.json"
	}
	if cfg.Store.EventLog == "" {
		cfg.Store.EventLog = "data/events.log"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}

	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.Backlog <= 0 {
		cfg.Queue.Backlog = cfg.Queue.Workers * 16
	}
	if cfg.Queue.AttemptTimeout <= 0 {
		cfg.Queue.AttemptTimeout = 2 * time.Minute
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.Backoff <= 0 {
		cfg.Queue.Backoff = 500 * time.Millisecond
	}
	if cfg.Queue.MaxBackoff <= 0 {
		cfg.Queue.MaxBackoff = 10 * time.Second
	}
	if cfg.Queue.Store == "" {
		cfg.Queue.Store = "memory"
	}

	if cfg.Executor.DefaultWait <= 0 {
		cfg.Executor.DefaultWait = 30 * time.Second
	}
	if cfg.Executor.MaxWait <= 0 {
		cfg.Executor.MaxWait = 5 * time.Minute
	}
	if cfg.Executor.CallTimeout <= 0 {
		cfg.Executor.CallTimeout = 60 * time.Second
	}
	if cfg.Executor.StepWait <= 0 {
		// enough for every attempt of a delegated job plus backoff
		cfg.Executor.StepWait = time.Duration(cfg.Queue.MaxAttempts)*cfg.Queue.AttemptTimeout + cfg.Queue.MaxBackoff*time.Duration(cfg.Queue.MaxAttempts)
	}
	if cfg.Executor.RunMaxAttempts <= 0 {
		cfg.Executor.RunMaxAttempts = 3
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = cfg.Executor.MaxWait + 30*time.Second
	}

	if cfg.Watchdog.Interval <= 0 {
		cfg.Watchdog.Interval = 30 * time.Second
	}
	if cfg.Watchdog.StaleAfter <= 0 {
		cfg.Watchdog.StaleAfter = cfg.Executor.StepWait + time.Minute
	}

	if cfg.Capabilities.LocalMediaURL == "" {
		cfg.Capabilities.LocalMediaURL = "http://127.0.0.1:8000"
	}
	if cfg.Capabilities.OpenAIModel == "" {
		cfg.Capabilities.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.Capabilities.MaxPromptTokens <= 0 {
		cfg.Capabilities.MaxPromptTokens = 2000
	}
	if cfg.Capabilities.GeminiModel == "" {
		cfg.Capabilities.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.Capabilities.GeminiImage == "" {
		cfg.Capabilities.GeminiImage = "imagen-3.0-generate-002"
	}
	if cfg.Capabilities.GeminiVideo == "" {
		cfg.Capabilities.GeminiVideo = "veo-2.0-generate-001"
	}
	if cfg.Capabilities.SearchURL == "" {
		cfg.Capabilities.SearchURL = "https://en.wikipedia.org/w/api.php"
	}
	if cfg.Capabilities.PollInterval <= 0 {
		cfg.Capabilities.PollInterval = 5 * time.Second
	}
	if cfg.Capabilities.ConcurrentLimit <= 0 {
		cfg.Capabilities.ConcurrentLimit = 8
	}
	if cfg.Capabilities.Circuit.FailThreshold <= 0 {
		cfg.Capabilities.Circuit.FailThreshold = 3
	}
	if cfg.Capabilities.Circuit.Cooldown <= 0 {
		cfg.Capabilities.Circuit.Cooldown = 30 * time.Second
	}
}

func (cfg *Config) validate() error {
	switch cfg.Store.Backend {
	case "file", "memory":
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required for store.backend=postgres")
		}
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required for store.backend=redis")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of file|memory|postgres|redis", cfg.Store.Backend)
	}
	switch cfg.Queue.Store {
	case "memory":
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required for queue.store=postgres")
		}
	default:
		return fmt.Errorf("queue.store %q is not one of memory|postgres", cfg.Queue.Store)
	}
	if cfg.Notify.Telegram.Token != "" && cfg.Notify.Telegram.ChatID == 0 {
		return errors.New("notify.telegram.chat_id is required when a token is set")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerPort string `yaml:"server_port"`

	// GoogleAPIKey is the model credential. An empty value is not a load
	// error; chat requests then fail with a configuration error.
	GoogleAPIKey     string        `yaml:"google_api_key"`
	LLMModel         string        `yaml:"llm_model"`
	ModelBaseURL     string        `yaml:"model_base_url"`
	SystemPromptFile string        `yaml:"system_prompt_file"`
	ModelTimeout     time.Duration `yaml:"model_timeout"`

	StoreBackend string        `yaml:"store_backend"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
	RedisURL     string        `yaml:"redis_url"`
	DatabaseURL  string        `yaml:"database_url"`
	SQLitePath   string        `yaml:"sqlite_path"`

	CacheTTL          time.Duration `yaml:"cache_ttl"`
	HistoryTTL        time.Duration `yaml:"history_ttl"`
	HistoryMaxEntries int           `yaml:"history_max_entries"`

	RateLimitBackend string        `yaml:"rate_limit_backend"`
	RateLimitCount   int           `yaml:"rate_limit_count"`
	RateLimitWindow  time.Duration `yaml:"rate_limit_window"`
	RateLimitIdleTTL time.Duration `yaml:"rate_limit_idle_ttl"`

	AdminJWTSecret string `yaml:"admin_jwt_secret"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		ServerPort:        "8080",
		LLMModel:          "gemini-2.0-flash",
		ModelTimeout:      60 * time.Second,
		StoreBackend:      "redis",
		StoreTimeout:      5 * time.Second,
		RedisURL:          "redis://localhost:6379",
		SQLitePath:        "conversations.db",
		CacheTTL:          30 * 24 * time.Hour,
		HistoryTTL:        7 * 24 * time.Hour,
		HistoryMaxEntries: 50,
		RateLimitBackend:  "memory",
		RateLimitCount:    5,
		RateLimitWindow:   60 * time.Second,
		RateLimitIdleTTL:  10 * time.Minute,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables. A .env file in the
// working directory is loaded into the environment first.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.GoogleAPIKey = getEnv("GOOGLE_API_KEY", cfg.GoogleAPIKey)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.ModelBaseURL = getEnv("MODEL_BASE_URL", cfg.ModelBaseURL)
	cfg.SystemPromptFile = getEnv("SYSTEM_PROMPT_FILE", cfg.SystemPromptFile)
	cfg.StoreBackend = getEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RateLimitBackend = getEnv("RATE_LIMIT_BACKEND", cfg.RateLimitBackend)
	cfg.AdminJWTSecret = getEnv("ADMIN_JWT_SECRET", cfg.AdminJWTSecret)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MODEL_TIMEOUT", &cfg.ModelTimeout},
		{"STORE_TIMEOUT", &cfg.StoreTimeout},
		{"CACHE_TTL", &cfg.CacheTTL},
		{"HISTORY_TTL", &cfg.HistoryTTL},
		{"RATE_LIMIT_WINDOW", &cfg.RateLimitWindow},
		{"RATE_LIMIT_IDLE_TTL", &cfg.RateLimitIdleTTL},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"HISTORY_MAX_ENTRIES", &cfg.HistoryMaxEntries},
		{"RATE_LIMIT_COUNT", &cfg.RateLimitCount},
	}
	for _, i := range ints {
		v, err := getEnvInt(i.key, *i.dst)
		if err != nil {
			return err
		}
		*i.dst = v
	}

	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "redis", "sqlite", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimitBackend)
	}

	if c.RateLimitCount <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit count and window must be positive")
	}
	if c.HistoryMaxEntries <= 0 {
		return fmt.Errorf("history max entries must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

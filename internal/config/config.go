package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIBaseURL      string        `yaml:"api_base_url"`
	WSBaseURL       string        `yaml:"ws_base_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	Profile         string        `yaml:"profile"`
	PushMaxAttempts int           `yaml:"push_max_attempts"`
	// Token storage: file, redis or memory
	TokenStore string `yaml:"token_store"`
	TokenFile  string `yaml:"token_file"`
	TokenKey   string `yaml:"token_key"`
	RedisURL   string `yaml:"redis_url"`
	// RefreshTTL expires a redis-held refresh token; zero keeps it until logout.
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// Reference backend (console devserver)
	DevAddr      string        `yaml:"dev_addr"`
	DevJWTSecret string        `yaml:"dev_jwt_secret"`
	DevAccessTTL time.Duration `yaml:"dev_access_ttl"`
}

func Defaults() Config {
	return Config{
		APIBaseURL:      "http://localhost:8080/api",
		RequestTimeout:  10 * time.Second,
		Profile:         "default",
		PushMaxAttempts: 5,
		TokenStore:      "file",
		TokenFile:       defaultTokenFile(),
		RedisURL:        "redis://localhost:6379/0",
		LogLevel:        "info",
		LogFormat:       "text",
		DevAddr:         ":8080",
		DevJWTSecret:    "console-dev-secret",
		DevAccessTTL:    15 * time.Minute,
	}
}

// Load reads configuration from the environment on top of the defaults.
func Load() Config {
	return applyEnv(Defaults())
}

// LoadFile overlays a YAML file on the defaults, then the environment on top of the file.
// An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	cfg.APIBaseURL = getenv("CONSOLE_API_BASE_URL", cfg.APIBaseURL)
	cfg.WSBaseURL = getenv("CONSOLE_WS_BASE_URL", cfg.WSBaseURL)
	cfg.RequestTimeout = time.Duration(getenvInt("CONSOLE_REQUEST_TIMEOUT_SECONDS", int(cfg.RequestTimeout/time.Second))) * time.Second
	cfg.Profile = getenv("CONSOLE_PROFILE", cfg.Profile)
	cfg.PushMaxAttempts = getenvInt("CONSOLE_PUSH_MAX_ATTEMPTS", cfg.PushMaxAttempts)
	cfg.TokenStore = getenv("CONSOLE_TOKEN_STORE", cfg.TokenStore)
	cfg.TokenFile = getenv("CONSOLE_TOKEN_FILE", cfg.TokenFile)
	cfg.TokenKey = getenv("CONSOLE_TOKEN_KEY", cfg.TokenKey)
	// Redis - only read when CONSOLE_TOKEN_STORE=redis
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.RefreshTTL = time.Duration(getenvInt("CONSOLE_REFRESH_TTL_SECONDS", int(cfg.RefreshTTL/time.Second))) * time.Second
	cfg.LogLevel = getenv("CONSOLE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("CONSOLE_LOG_FORMAT", cfg.LogFormat)
	cfg.DevAddr = getenv("CONSOLE_DEV_ADDR", cfg.DevAddr)
	cfg.DevJWTSecret = getenv("CONSOLE_DEV_JWT_SECRET", cfg.DevJWTSecret)
	cfg.DevAccessTTL = time.Duration(getenvInt("CONSOLE_DEV_ACCESS_TTL_SECONDS", int(cfg.DevAccessTTL/time.Second))) * time.Second
	return cfg
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "eventconsole", "tokens.json")
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all agent configuration.
type Config struct {
	ListenAddr     string
	GinMode        string
	LogLevel       string
	LogFormat      string
	BackendURL     string
	RequestTimeout time.Duration
	ProbeInterval  time.Duration
	StorageDriver  string
	SQLitePath     string
	RedisURL       string
	RedisPrefix    string
	// UnlockPINHash is the bcrypt hash of the kiosk unlock PIN. Empty
	// disables the unlock gate (dev default).
	UnlockPINHash  string
	ProctorEnabled bool
	// AllowedOrigins controls CORS for the UI shell. Empty slice means all
	// origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", "127.0.0.1:4517"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8080"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 20)) * time.Second,
		ProbeInterval:  time.Duration(getEnvInt("PROBE_INTERVAL_SECONDS", 15)) * time.Second,
		StorageDriver:  getEnv("STORAGE_DRIVER", "sqlite"),
		SQLitePath:     getEnv("SQLITE_PATH", "./exstem-agent.db"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:    getEnv("REDIS_PREFIX", "agent:"),
		UnlockPINHash:  getEnv("UNLOCK_PIN_HASH", ""),
		ProctorEnabled: getEnvBool("PROCTOR_ENABLED", true),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

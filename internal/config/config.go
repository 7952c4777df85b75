package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	PresenceBackendMemory = "memory"
	PresenceBackendRedis  = "redis"
)

type Config struct {
	Port               string
	DBUrl              string
	JWTSecret          string
	AppEnv             string
	LogLevel           string
	EnableDocs         bool
	PresenceBackend    string
	RedisURL           string
	RedisPrefix        string
	PresenceTTL        time.Duration
	TypingTTL          time.Duration
	DisplayLocation    *time.Location
	ChatRatePerMinute  int
	SupabaseURL        string
	SupabaseBucket     string
	SupabaseServiceKey string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	location, err := time.LoadLocation(getEnv("DISPLAY_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE: %w", err)
	}

	backend := strings.ToLower(strings.TrimSpace(getEnv("PRESENCE_BACKEND", PresenceBackendMemory)))
	switch backend {
	case "", PresenceBackendMemory:
		backend = PresenceBackendMemory
	case PresenceBackendRedis:
		if getEnv("REDIS_URL", "") == "" {
			return nil, fmt.Errorf("REDIS_URL is required when PRESENCE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("unsupported PRESENCE_BACKEND %q", backend)
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DBUrl:              getEnv("DB_URL", ""),
		JWTSecret:          jwtSecret,
		AppEnv:             normalizeEnv(getEnv("APP_ENV", "production")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		EnableDocs:         getEnvBool("ENABLE_API_DOCS", false),
		PresenceBackend:    backend,
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisPrefix:        getEnv("REDIS_PREFIX", "campusmarket:"),
		PresenceTTL:        getEnvDuration("PRESENCE_TTL", 10*time.Second),
		TypingTTL:          getEnvDuration("TYPING_TTL", 3*time.Second),
		DisplayLocation:    location,
		ChatRatePerMinute:  getEnvInt("CHAT_RATE_PER_MINUTE", 120),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("10s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) DocsEnabled() bool {
	return c != nil && c.EnableDocs && c.AppEnv == "development"
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

func (c *Config) StorageConfigured() bool {
	return c != nil && c.SupabaseURL != "" && c.SupabaseBucket != "" && c.SupabaseServiceKey != ""
}

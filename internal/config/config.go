// Package config provides application configuration.
package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Docstore backends.
const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds the configuration shared by the chatbot API and the widget gateway.
type Config struct {
	// AppEnv is APP_ENV; only "development" enables development fallbacks.
	AppEnv      string
	ChatbotPort string
	WidgetPort  string
	FrontendURL string

	Docstore DocstoreConfig
	Chatbot  ChatbotConfig
	Auth     AuthConfig

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// DocstoreConfig selects the document store backend.
type DocstoreConfig struct {
	Backend            string
	DBPath             string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	DatabaseURL        string
	MessagesCollection string
	UsersCollection    string
}

// ChatbotConfig locates the chatbot API.
type ChatbotConfig struct {
	BaseURL   string
	APISecret string
}

// AuthConfig controls account hashing and session tokens.
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", ""))),
		ChatbotPort: getEnv("CHATBOT_PORT", "8081"),
		WidgetPort:  getEnv("WIDGET_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		Docstore: DocstoreConfig{
			Backend:            strings.ToLower(getEnv("DOCSTORE_BACKEND", BackendSQLite)),
			DBPath:             getEnv("DB_PATH", "./data/chatbox.db"),
			RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:      getEnv("REDIS_PASSWORD", ""),
			RedisDB:            getEnvInt("REDIS_DB", 0),
			DatabaseURL:        getEnv("DATABASE_URL", ""),
			MessagesCollection: getEnv("MESSAGES_COLLECTION", "Messages"),
			UsersCollection:    getEnv("USERS_COLLECTION", "Users"),
		},
		Chatbot: ChatbotConfig{
			BaseURL:   strings.TrimRight(getEnv("CHATBOT_BASE_URL", "http://localhost:8081"), "/"),
			APISecret: getEnv("CHATBOT_API_SECRET", ""),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
			TokenTTL:   getEnvDuration("AUTH_TOKEN_TTL", 7*24*time.Hour),
			BcryptCost: getEnvInt("AUTH_BCRYPT_COST", 12),
		},
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}

	// An explicit development run gets a per-process signing key instead of
	// failing. Tokens do not survive a restart.
	if cfg.Auth.JWTSecret == "" && cfg.AppEnv == "development" {
		cfg.Auth.JWTSecret = rand.Text()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ChatbotPort == "" {
		return fmt.Errorf("CHATBOT_PORT cannot be empty")
	}
	if c.WidgetPort == "" {
		return fmt.Errorf("WIDGET_PORT cannot be empty")
	}

	switch c.Docstore.Backend {
	case BackendSQLite:
		if c.Docstore.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case BackendRedis:
		if c.Docstore.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
	case BackendPostgres:
		if c.Docstore.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("DOCSTORE_BACKEND %q is not one of sqlite, redis, postgres, memory", c.Docstore.Backend)
	}
	if c.Docstore.MessagesCollection == "" || c.Docstore.UsersCollection == "" {
		return fmt.Errorf("collection names cannot be empty")
	}

	if c.Chatbot.BaseURL == "" {
		return fmt.Errorf("CHATBOT_BASE_URL cannot be empty")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required unless APP_ENV=development")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be > 0")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("AUTH_BCRYPT_COST must be between 4 and 31")
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode: APP_ENV is
// "development", or APP_ENV is unset and the frontend is served locally.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development"
	}
	return strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for browser clients.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

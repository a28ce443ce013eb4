package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis
	RedisURL            string
	RedisStreamPoolSize int

	// JWT
	JWTSecret string

	// AI providers
	AIProvider           string
	AIConcurrentReqs     int
	MaxContextTokens     int
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIChatModel      string
	OpenAIReasoningModel string
	OpenAISearchModel    string
	GeminiAPIKey         string
	GeminiModel          string

	// PayPal
	PayPalAPIURL       string
	PayPalClientID     string
	PayPalClientSecret string
	PremiumPrice       string
	PremiumCurrency    string
	PremiumDuration    time.Duration

	// Storage
	StoragePath string

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

// RequiredVars lists the variables Load refuses to start without.
var RequiredVars = []string{
	"DATABASE_URL",
	"REDIS_URL",
	"JWT_SECRET",
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8080"),
		Env:           getEnvOrDefault("ENV", "development"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:   mustGetEnv("DATABASE_URL"),
		MigrationsDir: getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:      mustGetEnv("REDIS_URL"),
		JWTSecret:     mustGetEnv("JWT_SECRET"),

		RedisStreamPoolSize: getEnvAsIntOrDefault("REDIS_STREAM_POOL_SIZE", 200),

		AIProvider:           getEnvOrDefault("AI_PROVIDER", "openai"),
		AIConcurrentReqs:     getEnvAsIntOrDefault("AI_CONCURRENT_REQUESTS", 5),
		MaxContextTokens:     getEnvAsIntOrDefault("MAX_CONTEXT_TOKENS", 12000),
		OpenAIAPIKey:         getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnvOrDefault("OPENAI_BASE_URL", ""),
		OpenAIChatModel:      getEnvOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIReasoningModel: getEnvOrDefault("OPENAI_REASONING_MODEL", "o4-mini"),
		OpenAISearchModel:    getEnvOrDefault("OPENAI_SEARCH_MODEL", "gpt-4o-mini-search-preview"),
		GeminiAPIKey:         getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),

		PayPalAPIURL:       getEnvOrDefault("PAYPAL_API_URL", "https://api-m.sandbox.paypal.com"),
		PayPalClientID:     getEnvOrDefault("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnvOrDefault("PAYPAL_CLIENT_SECRET", ""),
		PremiumPrice:       getEnvOrDefault("PREMIUM_PRICE", "5.00"),
		PremiumCurrency:    getEnvOrDefault("PREMIUM_CURRENCY", "USD"),
		PremiumDuration:    getEnvAsDurationOrDefault("PREMIUM_DURATION", 30*24*time.Hour),

		StoragePath: getEnvOrDefault("STORAGE_PATH", "./uploads"),
		SMTPHost:    getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:    getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:    getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:    getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:    getEnvOrDefault("SMTP_FROM", "noreply@chatbot.local"),
		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg
}

// IsTest reports whether mock AI models should be used.
func (c *Config) IsTest() bool {
	return c.Env == "test"
}

// IsDevelopment controls console logging and insecure cookies.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// MissingVars returns the required variables that are not set, in declaration order.
func MissingVars() []string {
	godotenv.Load()

	var missing []string
	for _, key := range RequiredVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

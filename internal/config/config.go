package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// server side
	DatabaseURL string
	Port        string
	Env         string
	AuthKey     string
	Host        string

	// client side
	ServerURL  string // websocket endpoint, e.g. ws://localhost:8080/ws
	APIBaseURL string // REST collaborator base, e.g. http://localhost:8080

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	TypingTimeout     time.Duration
}

func Load() *Config {
	log.Println("[CONFIG] Attempting to load .env file...")

	err := godotenv.Load()
	if err != nil {
		log.Println("[CONFIG] ℹ️ No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] ✅ Successfully loaded .env file")
	}

	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("APP_ENV", "development"),
		AuthKey:           getEnv("AUTH_KEY", ""),
		Host:              getEnv("HOST", "localhost"),
		ServerURL:         getEnv("SERVER_URL", "ws://localhost:8080/ws"),
		APIBaseURL:        getEnv("API_BASE_URL", "http://localhost:8080"),
		ReconnectAttempts: getEnvInt("RECONNECT_ATTEMPTS", 3),
		ReconnectDelay:    getEnvDuration("RECONNECT_DELAY", time.Second),
		TypingTimeout:     getEnvDuration("TYPING_TIMEOUT", 3*time.Second),
	}

	log.Printf("[CONFIG] Environment: %s", cfg.Env)

	if cfg.DatabaseURL != "" {
		log.Printf("[CONFIG] Database URL detected: %s", maskDBSource(cfg.DatabaseURL))
	}

	return cfg
}

// RequireServer fails fast when the variables only the server needs are
// missing. The client binary never calls this.
func (c *Config) RequireServer() {
	if c.DatabaseURL == "" {
		log.Fatal("[CONFIG] ❌ CRITICAL: DATABASE_URL is missing. Server cannot start.")
	}
	if c.AuthKey == "" {
		log.Fatal("[CONFIG] ❌ CRITICAL: AUTH_KEY (JWT Secret) is missing. Security cannot be initialized.")
	}
	log.Println("[CONFIG] ✅ Server configuration complete")
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("[CONFIG] ⚠️  Variable %s not found, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s is not a number (%q), using default: %d", key, raw, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s is not a duration (%q), using default: %s", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[1]
}

/*
config.go - Environment-based configuration

PURPOSE:
  Loads server configuration from the environment, with a .env file as
  a convenience for local development. Every value has a working default
  so the server boots with no configuration at all.

VARIABLES:
  PORT          HTTP listen port            (default: 8080)
  DB_PATH       SQLite database path        (default: invest.db)
                Use ":memory:" for an in-memory database
  JWT_SECRET    HMAC key for access tokens  (default: dev key, change in prod)
  REDIS_ADDR    Redis host:port for the sweep lease; empty disables Redis
                and the scheduler falls back to an in-process lock
  CORS_ORIGINS  Comma-separated allowed origins for the frontend
  APP_URL       Public frontend URL used to build referral links

SEE ALSO:
  - cmd/server/main.go: Consumes this configuration
*/
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings for the server.
type Config struct {
	Port        int
	DBPath      string
	JWTSecret   string
	RedisAddr   string
	CORSOrigins []string
	AppURL      string
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		Port:        getEnvInt("PORT", 8080),
		DBPath:      getEnv("DB_PATH", "invest.db"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		AppURL:      getEnv("APP_URL", "http://localhost:5173"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, value, fallback)
		return fallback
	}
	return n
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Package config provides configuration for the chat widget.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the widget configuration.
type Config struct {
	// Completion API
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	// SystemPrompt overrides the built-in assistant persona when set.
	SystemPrompt string
	// RequestTimeout bounds a whole exchange; zero means no bound.
	RequestTimeout time.Duration

	// Mode selects the client implementation ("MOCK" for offline).
	Mode string

	// Logging
	LogLevel string
	LogFile  string
}

// Load loads configuration from environment variables, after merging the
// given .env files (or ./.env when none is given). Variables already set
// in the environment win over file values.
func Load(envFiles ...string) *Config {
	// missing .env files are fine
	_ = godotenv.Load(envFiles...)

	return &Config{
		APIKey:         getEnv("OPENAI_API_KEY", ""),
		BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		Temperature:    getEnvFloat("OPENAI_MODEL_TEMPERATURE"),
		SystemPrompt:   getEnv("AI_SYSTEM_PROMPT", ""),
		RequestTimeout: time.Duration(getEnvInt("OPENAI_TIMEOUT_MS", 0)) * time.Millisecond,
		Mode:           getEnv("FARMERASSIST_MODE", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string) *float64 {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return nil
	}
	return &f
}

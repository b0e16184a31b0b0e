// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
)

// Config holds the HTTP service configuration.
type Config struct {
	Port          string
	Env           string
	ByBookIndex   string
	MaxTxAttempts int
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	attempts := 0
	if v := os.Getenv("CARREL_TX_ATTEMPTS"); v != "" {
		attempts, _ = strconv.Atoi(v)
	}

	return &Config{
		Port:          port,
		Env:           env,
		ByBookIndex:   os.Getenv("CARREL_BOOK_INDEX"),
		MaxTxAttempts: attempts,
	}
}

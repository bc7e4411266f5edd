package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// DatabaseURL selects the postgres store when set
	DatabaseURL string

	// RestURL is the base URL of a hosted PostgREST-compatible data service,
	// used when no DatabaseURL is set
	RestURL string

	// RestKey is the service role key for the hosted data service.
	// This key has elevated privileges and should never be exposed to clients.
	RestKey string
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment
// variables. Falls back to sensible defaults if values are not set.
func Load() *Config {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running in production with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		ServerPort:  getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RestURL:     getEnv("REST_URL", ""),
		RestKey:     getEnv("REST_SERVICE_ROLE_KEY", ""),
	}

	if config.DatabaseURL == "" && config.RestURL == "" {
		log.Println("WARNING: neither DATABASE_URL nor REST_URL is set, using the in-memory store")
	}
	if config.RestURL != "" && config.RestKey == "" {
		log.Println("WARNING: REST_SERVICE_ROLE_KEY is not set")
	}

	return config
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

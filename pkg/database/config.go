package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv reads database configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:            getEnv("DB_HOST", "localhost"),
		User:            getEnv("DB_USER", "hornet"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnv("DB_NAME", "hornet"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxConns:        25,
		MinConns:        2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	port := getEnv("DB_PORT", "5432")
	p, err := strconv.Atoi(port)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT %q: %w", port, err)
	}
	cfg.Port = p

	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNS %q: %w", v, err)
		}
		cfg.MaxConns = n
	}

	return cfg, nil
}

// DSN returns the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Package database provides a PostgreSQL client (connection pooling +
// embedded migrations) used by the Persistence Gateway.
package database

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds PostgreSQL connection and pool settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from the environment.
// DATABASE_URL (spec.md §6) is preferred when set; otherwise the discrete
// DB_* variables are read.
func LoadConfigFromEnv() (Config, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg, err := parseDatabaseURL(dsn)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		applyPoolDefaults(&cfg)
		return cfg, cfg.Validate()
	}

	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	cfg := Config{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnvOrDefault("DB_USER", "agentloop"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: getEnvOrDefault("DB_NAME", "agentloop"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
	applyPoolDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDatabaseURL(dsn string) (Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Config{}, err
	}
	port := 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Config{}, fmt.Errorf("invalid port: %w", err)
		}
	}
	password, _ := u.User.Password()
	sslMode := "disable"
	if m := u.Query().Get("sslmode"); m != "" {
		sslMode = m
	}
	return Config{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		Database: strings_TrimPrefixSlash(u.Path),
		SSLMode:  sslMode,
	}, nil
}

func strings_TrimPrefixSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

func applyPoolDefaults(cfg *Config) {
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))
	maxLifetime, _ := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	maxIdleTime, _ := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	cfg.MaxOpenConns = maxOpen
	cfg.MaxIdleConns = maxIdle
	cfg.ConnMaxLifetime = maxLifetime
	cfg.ConnMaxIdleTime = maxIdleTime
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("DB_MAX_IDLE_CONNS cannot be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the server reads from the environment. A .env
// file is honored when present (loaded by the caller via godotenv).
type Config struct {
	// HTTP server
	HTTPAddr string

	// Storage. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string

	// Events. Empty KafkaBrokers selects the no-op publisher.
	KafkaBrokers []string

	// Reconciliation policy
	OverpaymentPolicy string
	ReconMaxAttempts  int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		OverpaymentPolicy: getEnv("OVERPAYMENT_POLICY", "allow_negative"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "console"),
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	attempts := getEnv("RECON_MAX_ATTEMPTS", "3")
	n, err := strconv.Atoi(attempts)
	if err != nil {
		return nil, fmt.Errorf("RECON_MAX_ATTEMPTS must be an integer, got %q", attempts)
	}
	cfg.ReconMaxAttempts = n

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	switch c.OverpaymentPolicy {
	case "allow_negative", "reject":
	default:
		return fmt.Errorf("OVERPAYMENT_POLICY must be allow_negative or reject, got %q", c.OverpaymentPolicy)
	}
	if c.ReconMaxAttempts < 1 {
		return fmt.Errorf("RECON_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

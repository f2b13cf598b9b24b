package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// APIConfig holds the HTTP API service settings, sourced from the
// environment.
type APIConfig struct {
	Port        int    `env:"PORT" envDefault:"9091"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file://./data"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadAPIConfig parses the API configuration from environment variables.
func LoadAPIConfig() (*APIConfig, error) {
	cfg := &APIConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse API configuration: %w", err)
	}

	return cfg, nil
}

// Package config loads runtime configuration: per-tool reliability profiles
// from YAML and service settings from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmateus/conveyor/pkg/reliability"
)

// ToolProfile is the on-disk reliability configuration for one tool. Zero
// sections fall back to the registry defaults.
type ToolProfile struct {
	RateLimit      *RateLimitProfile      `yaml:"rate_limit,omitempty"`
	CircuitBreaker *CircuitBreakerProfile `yaml:"circuit_breaker,omitempty"`
	Wrapper        *WrapperProfile        `yaml:"wrapper,omitempty"`
}

type RateLimitProfile struct {
	MaxTokens    float64 `yaml:"max_tokens"`
	RefillPerSec float64 `yaml:"refill_per_sec"`
	Strategy     string  `yaml:"strategy"`
	MaxQueueSize int     `yaml:"max_queue_size"`
}

type CircuitBreakerProfile struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

type WrapperProfile struct {
	MaxRetries     int           `yaml:"max_retries"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// ReliabilityProfiles maps tool names to their profiles.
type ReliabilityProfiles struct {
	Tools map[string]ToolProfile `yaml:"tools"`
}

// LoadReliabilityProfiles reads a YAML profile file. A missing path is not
// an error; it yields an empty profile set so defaults apply everywhere.
func LoadReliabilityProfiles(path string) (*ReliabilityProfiles, error) {
	if path == "" {
		return &ReliabilityProfiles{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ReliabilityProfiles{}, nil
		}

		return nil, fmt.Errorf("failed to read reliability profiles %s: %w", path, err)
	}

	profiles := &ReliabilityProfiles{}
	if err := yaml.Unmarshal(data, profiles); err != nil {
		return nil, fmt.Errorf("failed to parse reliability profiles %s: %w", path, err)
	}

	return profiles, nil
}

// Apply configures the registries for every tool in the profile set.
func (p *ReliabilityProfiles) Apply(limiter *reliability.RateLimiterRegistry, breaker *reliability.CircuitBreakerRegistry) {
	for tool, profile := range p.Tools {
		if profile.RateLimit != nil {
			limiter.Configure(tool, profile.RateLimit.toConfig())
		}

		if profile.CircuitBreaker != nil {
			breaker.Configure(tool, profile.CircuitBreaker.toConfig())
		}
	}
}

// WrapperConfigs returns the per-tool wrapper settings present in the
// profile set, base-filled from the defaults.
func (p *ReliabilityProfiles) WrapperConfigs() map[string]reliability.WrapperConfig {
	configs := make(map[string]reliability.WrapperConfig)

	for tool, profile := range p.Tools {
		if profile.Wrapper == nil {
			continue
		}

		cfg := reliability.DefaultWrapperConfig()

		if profile.Wrapper.MaxRetries > 0 {
			cfg.MaxRetries = profile.Wrapper.MaxRetries
		}

		if profile.Wrapper.Timeout > 0 {
			cfg.Timeout = profile.Wrapper.Timeout
		}

		if profile.Wrapper.RetryBaseDelay > 0 {
			cfg.RetryBaseDelay = profile.Wrapper.RetryBaseDelay
		}

		configs[tool] = cfg
	}

	return configs
}

func (p *RateLimitProfile) toConfig() reliability.RateLimitConfig {
	cfg := reliability.DefaultRateLimitConfig()

	if p.MaxTokens > 0 {
		cfg.MaxTokens = p.MaxTokens
	}

	if p.RefillPerSec > 0 {
		cfg.RefillPerSec = p.RefillPerSec
	}

	if p.Strategy != "" {
		cfg.Strategy = reliability.AcquireStrategy(p.Strategy)
	}

	if p.MaxQueueSize > 0 {
		cfg.MaxQueueSize = p.MaxQueueSize
	}

	return cfg
}

func (p *CircuitBreakerProfile) toConfig() reliability.CircuitBreakerConfig {
	cfg := reliability.DefaultCircuitBreakerConfig()

	if p.FailureThreshold > 0 {
		cfg.FailureThreshold = p.FailureThreshold
	}

	if p.FailureWindow > 0 {
		cfg.FailureWindow = p.FailureWindow
	}

	if p.SuccessThreshold > 0 {
		cfg.SuccessThreshold = p.SuccessThreshold
	}

	if p.ResetTimeout > 0 {
		cfg.ResetTimeout = p.ResetTimeout
	}

	return cfg
}

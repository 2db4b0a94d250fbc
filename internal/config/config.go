// Package config handles kpilot configuration
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cloud-shuttle/kpilot/internal/llm"
)

const namespace = "KPILOT"

// Config holds kpilot configuration. It is loaded once at startup and
// passed into constructors explicitly; core packages never read the
// environment themselves.
type Config struct {
	// Database location, relative to the project directory unless absolute
	DatabasePath string `envconfig:"DATABASE_PATH" default:".kpilot/kpilot.db"`

	// Collaborator settings
	LLMAPIKey  string        `envconfig:"LLM_API_KEY"`
	LLMBaseURL string        `envconfig:"LLM_BASE_URL"`
	LLMModel   string        `envconfig:"LLM_MODEL" default:"gpt-4o"`
	LLMTimeout time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`

	// Scheduling settings
	HoursPerDay float64 `envconfig:"HOURS_PER_DAY" default:"8"`
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(namespace, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LLM builds the collaborator client configuration
func (c *Config) LLM() llm.Config {
	return llm.Config{
		APIKey:  c.LLMAPIKey,
		BaseURL: c.LLMBaseURL,
		Model:   c.LLMModel,
		Timeout: c.LLMTimeout,
	}
}

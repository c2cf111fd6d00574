package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// LLM provider
	LLMAPIKey        string        `envconfig:"LLM_API_KEY"`
	LLMModel         string        `envconfig:"LLM_MODEL" default:"claude-sonnet-4-5"`
	LLMFallbackModel string        `envconfig:"LLM_FALLBACK_MODEL" default:"claude-haiku-4-5"`
	MaxRetries       int           `envconfig:"MAX_RETRIES" default:"5"`
	RetryDelay       time.Duration `envconfig:"RETRY_DELAY" default:"1s"`
	RetryBackoff     float64       `envconfig:"RETRY_BACKOFF" default:"2.0"`
	MaxRetryDelay    time.Duration `envconfig:"MAX_RETRY_DELAY" default:"30s"`
	LLMMaxTokens     int           `envconfig:"LLM_MAX_TOKENS" default:"8192"`

	// Pipeline
	AgentTimeout      time.Duration `envconfig:"AGENT_TIMEOUT" default:"300s"`
	MaxRepairAttempts int           `envconfig:"MAX_REPAIR_ATTEMPTS" default:"3"`
	MaxSlides         int           `envconfig:"MAX_SLIDES" default:"12"`
	PipelineWorkers   int           `envconfig:"PIPELINE_WORKERS" default:"2"`
	TestTimeout       time.Duration `envconfig:"TEST_TIMEOUT" default:"30s"`
	LivenessThreshold time.Duration `envconfig:"LIVENESS_THRESHOLD" default:"5s"`
	PythonBin         string        `envconfig:"PYTHON_BIN" default:"python3"`

	// Storage
	ArtifactsDir string `envconfig:"ARTIFACTS_DIR" default:"./artifacts"`
	ScratchDir   string `envconfig:"SCRATCH_DIR" default:"./scratch"`

	// Agent role overrides (optional YAML file)
	RolesFile string `envconfig:"AGENT_ROLES_FILE"`

	// Management API
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	AuthMode       string        `envconfig:"AUTH_MODE" default:"none"` // "none", "api-key", "jwt"
	APIKey         string        `envconfig:"API_KEY"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	RateLimitRPS   int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins    string        `envconfig:"CORS_ORIGINS"`
	ShutdownGrace  time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration that cannot be defaulted.
func (c *Config) Validate() error {
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.AuthMode == "api-key" && c.APIKey == "" {
		return fmt.Errorf("API_KEY is required when AUTH_MODE=api-key")
	}
	if c.AuthMode == "jwt" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
	}
	if c.PipelineWorkers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1")
	}
	return nil
}

package config

import (
	"github.com/falconml/inferd/internal/infra/postgres"
	redisclient "github.com/falconml/inferd/internal/infra/redis"
	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/cache"
	"github.com/falconml/inferd/internal/serving/idempotency"
	"github.com/falconml/inferd/internal/serving/inference"
	"github.com/falconml/inferd/internal/serving/logbuffer"
	serveorch "github.com/falconml/inferd/internal/serving/orchestrator"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig             `yaml:"server"`
	Worker      serveorch.Config         `yaml:"worker"`
	Redis       redisclient.Config       `yaml:"redis"`
	Database    postgres.Config          `yaml:"database"`
	Logging     LoggingConfig            `yaml:"logging"`
	Breaker     resilience.BreakerConfig `yaml:"circuit_breaker"`
	Retry       resilience.RetryPolicy   `yaml:"retry"`
	Cache       cache.Config             `yaml:"cache"`
	Idempotency idempotency.Config       `yaml:"idempotency"`
	LogBuffer   logbuffer.Config         `yaml:"log_buffer"`
	Inference   inference.Config         `yaml:"inference"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

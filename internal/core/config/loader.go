package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/cache"
	"github.com/falconml/inferd/internal/serving/idempotency"
	"github.com/falconml/inferd/internal/serving/inference"
	"github.com/falconml/inferd/internal/serving/logbuffer"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied, for storeless runs
// without a config file.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Worker.WorkerID == "" {
		cfg.Worker.WorkerID = "worker-1"
	}
	if cfg.Worker.RequestTimeout == 0 {
		cfg.Worker.RequestTimeout = 30 * time.Second
	}
	if cfg.Worker.InferenceTimeout == 0 {
		cfg.Worker.InferenceTimeout = inference.DefaultConfig().Timeout
	}
	defBreaker := resilience.DefaultBreakerConfig()
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = defBreaker.FailureThreshold
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = defBreaker.SuccessThreshold
	}
	if cfg.Breaker.OpenTimeout == 0 {
		cfg.Breaker.OpenTimeout = defBreaker.OpenTimeout
	}
	defRetry := resilience.DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = defRetry.MaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = defRetry.BaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = defRetry.MaxDelay
	}
	if cfg.Retry.JitterFraction == 0 {
		cfg.Retry.JitterFraction = defRetry.JitterFraction
	}
	defCache := cache.DefaultConfig()
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = defCache.TTL
	}
	if cfg.Cache.OpTimeout == 0 {
		cfg.Cache.OpTimeout = defCache.OpTimeout
	}
	defIdem := idempotency.DefaultConfig()
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = defIdem.TTL
	}
	if cfg.Idempotency.OpTimeout == 0 {
		cfg.Idempotency.OpTimeout = defIdem.OpTimeout
	}
	defBuf := logbuffer.DefaultConfig()
	if cfg.LogBuffer.Capacity == 0 {
		cfg.LogBuffer.Capacity = defBuf.Capacity
	}
	if cfg.LogBuffer.FlushInterval == 0 {
		cfg.LogBuffer.FlushInterval = defBuf.FlushInterval
	}
	if cfg.LogBuffer.OpTimeout == 0 {
		cfg.LogBuffer.OpTimeout = defBuf.OpTimeout
	}
	if cfg.Inference.Timeout == 0 {
		cfg.Inference = inference.DefaultConfig()
	}
}

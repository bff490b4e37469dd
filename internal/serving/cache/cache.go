// Package cache provides the response cache for classification results,
// keyed by the fingerprint of the normalized input. Store outages degrade to
// cache misses; a request never fails because the cache is down.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/falconml/inferd/internal/core/domain"
	"github.com/falconml/inferd/internal/infra/store"
	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/metrics"
)

const dependency = "redis"

// Config holds response cache settings.
type Config struct {
	TTL       time.Duration `yaml:"ttl"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// DefaultConfig mirrors production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:       time.Hour,
		OpTimeout: 2 * time.Second,
	}
}

// ResponseCache caches classification results in the shared store.
type ResponseCache struct {
	store    store.CacheStore
	executor *resilience.Executor
	policy   resilience.RetryPolicy
	cfg      Config
	log      *slog.Logger
}

// New creates a ResponseCache over the given store.
func New(st store.CacheStore, executor *resilience.Executor, policy resilience.RetryPolicy, cfg Config) *ResponseCache {
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	return &ResponseCache{
		store:    st,
		executor: executor,
		policy:   policy,
		cfg:      cfg,
		log:      slog.Default().With("component", "response_cache"),
	}
}

// Get returns the cached result for key. ok is false on a miss; store failures
// degrade to a miss and bump the fallback counter.
func (c *ResponseCache) Get(ctx context.Context, key string) (*domain.Result, bool) {
	var raw []byte
	var found bool
	err := c.executor.Run(ctx, dependency, "cache_get", c.policy, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()

		val, err := c.store.Get(opCtx, key)
		// A miss is a normal outcome of a healthy store, not a dependency
		// failure; it must not count against the breaker.
		if errors.Is(err, store.ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		raw = val
		found = true
		return nil
	})
	if err != nil {
		c.log.Warn("cache unavailable, proceeding without cache", "error", err)
		metrics.CacheErrorsTotal.WithLabelValues("get").Inc()
		metrics.FallbackTotal.WithLabelValues(dependency, "cache_miss").Inc()
		return nil, false
	}
	if !found {
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}

	var result domain.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		c.log.Warn("discarding undecodable cache entry", "key", key, "error", err)
		metrics.CacheErrorsTotal.WithLabelValues("get").Inc()
		return nil, false
	}

	metrics.CacheHitsTotal.Inc()
	return &result, true
}

// Set stores result under key, best effort: failures are absorbed and counted.
func (c *ResponseCache) Set(ctx context.Context, key string, result *domain.Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.log.Error("failed to encode cache entry", "key", key, "error", err)
		return
	}

	err = c.executor.Run(ctx, dependency, "cache_set", c.policy, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		return c.store.Set(opCtx, key, raw, c.cfg.TTL)
	})
	if err != nil {
		c.log.Warn("cache unavailable, skipping cache set", "error", err)
		metrics.CacheErrorsTotal.WithLabelValues("set").Inc()
		metrics.FallbackTotal.WithLabelValues(dependency, "cache_skip").Inc()
	}
}

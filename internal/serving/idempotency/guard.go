// Package idempotency deduplicates client-submitted requests by key. A key
// seen with a different payload is a client error; a key whose first request
// is still in flight lets the duplicate compute independently, with the first
// completed write winning in the store.
package idempotency

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/falconml/inferd/internal/core/domain"
	"github.com/falconml/inferd/internal/infra/store"
	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/metrics"
)

const dependency = "redis"

// Outcome classifies the result of a reservation attempt.
type Outcome int

const (
	// OutcomeFresh means the caller owns the key (or the guard degraded to
	// treating it as fresh) and must perform the inference.
	OutcomeFresh Outcome = iota

	// OutcomeCompleted means a previous request with the same key and payload
	// already finished; Response holds its result.
	OutcomeCompleted

	// OutcomeConflict means the key was reused with a different payload.
	OutcomeConflict
)

// Reservation is the result of Guard.Reserve.
type Reservation struct {
	Outcome  Outcome
	Response *domain.Response
}

// Config holds idempotency guard settings.
type Config struct {
	TTL       time.Duration `yaml:"ttl"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// DefaultConfig mirrors production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:       24 * time.Hour,
		OpTimeout: 2 * time.Second,
	}
}

// Guard deduplicates requests by client-supplied idempotency key.
type Guard struct {
	store    store.CacheStore
	executor *resilience.Executor
	policy   resilience.RetryPolicy
	cfg      Config
	log      *slog.Logger
}

// New creates a Guard over the given store.
func New(st store.CacheStore, executor *resilience.Executor, policy resilience.RetryPolicy, cfg Config) *Guard {
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	return &Guard{
		store:    st,
		executor: executor,
		policy:   policy,
		cfg:      cfg,
		log:      slog.Default().With("component", "idempotency_guard"),
	}
}

// Reserve claims key for a request whose normalized payload hashes to
// fingerprint. When the store is unavailable the guard degrades to treating
// the request as fresh rather than blocking or failing it.
func (g *Guard) Reserve(ctx context.Context, key, fingerprint string) Reservation {
	var created bool
	var existing *store.Reservation

	err := g.executor.Run(ctx, dependency, "idempotency_reserve", g.policy, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, g.cfg.OpTimeout)
		defer cancel()

		var err error
		created, existing, err = g.store.Reserve(opCtx, key, fingerprint, g.cfg.TTL)
		return err
	})
	if err != nil {
		g.log.Warn("idempotency store unavailable, deduplication disabled for request",
			"key", key, "error", err)
		metrics.FallbackTotal.WithLabelValues(dependency, "idempotency_skip").Inc()
		return Reservation{Outcome: OutcomeFresh}
	}

	if created {
		metrics.IdempotencyMissesTotal.Inc()
		return Reservation{Outcome: OutcomeFresh}
	}

	// A store may lose a reserve race without handing back the winner's
	// record; treat that like a fresh key rather than crash.
	if existing == nil {
		metrics.IdempotencyMissesTotal.Inc()
		return Reservation{Outcome: OutcomeFresh}
	}

	if existing.Fingerprint != fingerprint {
		metrics.IdempotencyConflictsTotal.Inc()
		g.log.Warn("idempotency key reused with different payload", "key", key)
		return Reservation{Outcome: OutcomeConflict}
	}

	if existing.Status == store.StatusCompleted {
		var resp domain.Response
		if err := json.Unmarshal(existing.Response, &resp); err != nil {
			g.log.Warn("discarding undecodable idempotency record", "key", key, "error", err)
			return Reservation{Outcome: OutcomeFresh}
		}
		metrics.IdempotencyHitsTotal.Inc()
		return Reservation{Outcome: OutcomeCompleted, Response: &resp}
	}

	// Reserved by a concurrent in-flight request with the same payload: this
	// caller computes independently and Complete lets the first writer win.
	metrics.IdempotencyMissesTotal.Inc()
	return Reservation{Outcome: OutcomeFresh}
}

// Complete stores the response for key, best effort. The store keeps the first
// completed outcome per key; later writers are no-ops.
func (g *Guard) Complete(ctx context.Context, key string, resp *domain.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		g.log.Error("failed to encode idempotency response", "key", key, "error", err)
		return
	}

	err = g.executor.Run(ctx, dependency, "idempotency_complete", g.policy, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, g.cfg.OpTimeout)
		defer cancel()
		return g.store.CompleteReservation(opCtx, key, raw)
	})
	if err != nil {
		g.log.Warn("idempotency store unavailable, skipping completion",
			"key", key, "error", err)
		metrics.FallbackTotal.WithLabelValues(dependency, "idempotency_skip").Inc()
	}
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/falconml/inferd/internal/serving/metrics"
)

// RetryPolicy defines bounded exponential backoff. Policies are immutable and
// safe to share between goroutines.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// DefaultRetryPolicy mirrors production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.2,
	}
}

// Delay computes the backoff before the given retry. attempt is 1-based; the
// delay grows as base * 2^(attempt-1) plus proportional jitter, capped at
// MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30 // avoid overflow
	}

	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.JitterFraction > 0 {
		delay += delay * p.JitterFraction * rand.Float64()
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Executor runs dependency operations through a circuit breaker with bounded
// retries. A breaker fast-fail aborts without any attempt so a known-down
// dependency is never hammered with retries.
type Executor struct {
	breakers *Registry
	log      *slog.Logger
}

// NewExecutor creates an executor backed by the given breaker registry.
func NewExecutor(breakers *Registry) *Executor {
	return &Executor{
		breakers: breakers,
		log:      slog.Default(),
	}
}

// Breaker exposes the breaker for a dependency, mainly so callers can inspect
// its state or subscribe to recovery signals.
func (e *Executor) Breaker(dependency string) *Breaker {
	return e.breakers.Get(dependency)
}

// Run executes op against the named dependency. It returns nil on success, a
// circuit-open tagged error when the breaker rejected the call, the causal
// error for non-retryable failures, and an ErrRetriesExhausted wrapped error
// once the policy is spent.
func (e *Executor) Run(ctx context.Context, dependency, operation string, policy RetryPolicy, op func(context.Context) error) error {
	breaker := e.breakers.Get(dependency)
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err := breaker.Execute(ctx, op)
		metrics.StoreOperationDuration.WithLabelValues(dependency, operation).Observe(time.Since(start).Seconds())
		if err == nil {
			if attempt > 1 {
				e.log.Info("retry succeeded",
					"dependency", dependency,
					"operation", operation,
					"attempt", attempt)
			}
			return nil
		}

		// The breaker refused the call: the dependency is known down,
		// retrying would only amplify load during the outage.
		if isCircuitOpen(err) {
			return err
		}

		if !IsRetryable(err) {
			return NewDependencyError(dependency, operation, err)
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		e.log.Warn("retrying after transient failure",
			"dependency", dependency,
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err)
		metrics.RetryAttemptsTotal.WithLabelValues(dependency, operation).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w: %w",
		dependency, operation, maxAttempts, ErrRetriesExhausted, lastErr)
}

func isCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

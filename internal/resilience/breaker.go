package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/falconml/inferd/internal/serving/metrics"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning per dependency.
type BreakerConfig struct {
	FailureThreshold uint          `yaml:"failure_threshold"`
	SuccessThreshold uint          `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// DefaultBreakerConfig mirrors production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      60 * time.Second,
	}
}

// Breaker is a per-dependency circuit breaker. It trips open after
// FailureThreshold consecutive failures, fast-fails while open, and after
// OpenTimeout admits a single trial call at a time until SuccessThreshold
// consecutive trial successes close it again.
type Breaker struct {
	name string
	cfg  BreakerConfig
	log  *slog.Logger

	mu            sync.Mutex
	state         State
	failures      uint
	successes     uint
	openedAt      time.Time
	trialInFlight bool

	// signalled (non-blocking) whenever the breaker leaves the open state
	recoveryCh chan<- struct{}

	// test hook, defaults to time.Now
	now func() time.Time
}

// NewBreaker creates a breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		log:   slog.Default().With("dependency", name),
		state: StateClosed,
		now:   time.Now,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op under breaker protection. While the circuit is open (or a
// half-open trial is already in flight) it returns ErrCircuitOpen without
// invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	trial, ok := b.admit()
	if !ok {
		metrics.CircuitBreakerFastFailsTotal.WithLabelValues(b.name).Inc()
		return NewDependencyError(b.name, "execute", ErrCircuitOpen)
	}

	err := op(ctx)
	if err != nil {
		b.recordFailure(trial)
		return err
	}
	b.recordSuccess(trial)
	return nil
}

// admit decides whether a call may proceed. The second return is false when
// the call must fast-fail; the first reports whether the admitted call is a
// half-open trial.
func (b *Breaker) admit() (trial bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false, false
		}
		b.transition(StateHalfOpen)
		b.successes = 0
		b.trialInFlight = true
		return true, true
	case StateHalfOpen:
		if b.trialInFlight {
			// Only one trial at a time; everyone else sees open.
			return false, false
		}
		b.trialInFlight = true
		return true, true
	default:
		return false, false
	}
}

func (b *Breaker) recordSuccess(trial bool) {
	metrics.CircuitBreakerSuccessesTotal.WithLabelValues(b.name).Inc()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if trial {
			b.trialInFlight = false
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
			b.log.Info("circuit breaker closed after recovery")
		}
	}
}

func (b *Breaker) recordFailure(trial bool) {
	metrics.CircuitBreakerFailuresTotal.WithLabelValues(b.name).Inc()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = b.now()
			b.log.Warn("circuit breaker opened",
				"failures", b.failures,
				"threshold", b.cfg.FailureThreshold)
		}
	case StateHalfOpen:
		if trial {
			b.trialInFlight = false
		}
		b.transition(StateOpen)
		b.openedAt = b.now()
		b.successes = 0
		b.log.Warn("circuit breaker reopened after failed trial")
	}
}

// NotifyRecovery registers ch to receive a non-blocking signal whenever the
// breaker transitions out of the open state.
func (b *Breaker) NotifyRecovery(ch chan<- struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recoveryCh = ch
}

// transition must be called with b.mu held.
func (b *Breaker) transition(next State) {
	prev := b.state
	b.state = next
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(next))

	if prev == StateOpen && next != StateOpen && b.recoveryCh != nil {
		select {
		case b.recoveryCh <- struct{}{}:
		default:
		}
	}
}

// Registry hands out one breaker per dependency name. Breakers for different
// dependencies share no counters.
type Registry struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry using cfg for every new breaker.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errBoom
	}
}

func succeedingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test-open", BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	})

	calls := 0
	for i := 0; i < 5; i++ {
		if err := b.Execute(context.Background(), failingOp(&calls)); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: got %v, want %v", i+1, err, errBoom)
		}
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("state after threshold = %v, want open", got)
	}

	// The next call must fast-fail without touching the dependency.
	err := b.Execute(context.Background(), failingOp(&calls))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if calls != 5 {
		t.Fatalf("dependency called %d times, want 5", calls)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker("test-reset", BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute})

	calls := 0
	b.Execute(context.Background(), failingOp(&calls))
	b.Execute(context.Background(), failingOp(&calls))
	b.Execute(context.Background(), succeedingOp(&calls))
	b.Execute(context.Background(), failingOp(&calls))
	b.Execute(context.Background(), failingOp(&calls))

	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Now()
	b := NewBreaker("test-recovery", BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	b.now = func() time.Time { return now }

	calls := 0
	b.Execute(context.Background(), failingOp(&calls))
	b.Execute(context.Background(), failingOp(&calls))
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	// Before the timeout: still fast-failing.
	if err := b.Execute(context.Background(), succeedingOp(&calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen before timeout", err)
	}

	// After the timeout the next call is admitted as a trial.
	now = now.Add(61 * time.Second)
	if err := b.Execute(context.Background(), succeedingOp(&calls)); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after successful trial = %v, want closed", got)
	}

	if err := b.Execute(context.Background(), succeedingOp(&calls)); err != nil {
		t.Fatalf("call after recovery failed: %v", err)
	}
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("test-retrial", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})
	b.now = func() time.Time { return now }

	calls := 0
	b.Execute(context.Background(), failingOp(&calls))

	now = now.Add(61 * time.Second)
	if err := b.Execute(context.Background(), failingOp(&calls)); !errors.Is(err, errBoom) {
		t.Fatalf("trial: got %v, want %v", err, errBoom)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after failed trial = %v, want open", got)
	}

	// Timeout restarted: the very next call still fast-fails.
	now = now.Add(30 * time.Second)
	if err := b.Execute(context.Background(), succeedingOp(&calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen while timeout restarts", err)
	}
}

func TestBreakerSingleTrialGate(t *testing.T) {
	now := time.Now()
	b := NewBreaker("test-gate", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Second})
	b.now = func() time.Time { return now }

	calls := 0
	b.Execute(context.Background(), failingOp(&calls))
	now = now.Add(2 * time.Second)

	// First caller holds the trial slot until its op returns.
	trialStarted := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Execute(context.Background(), func(context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted
	attempted := 0
	err := b.Execute(context.Background(), func(context.Context) error {
		attempted++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent caller got %v, want ErrCircuitOpen", err)
	}
	if attempted != 0 {
		t.Fatal("concurrent caller must not reach the dependency during a trial")
	}

	close(release)
	wg.Wait()

	if got := b.State(); got != StateClosed {
		t.Fatalf("state after trial success = %v, want closed", got)
	}
}

func TestRegistryIndependentBreakers(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})

	calls := 0
	r.Get("redis-x").Execute(context.Background(), failingOp(&calls))

	if got := r.Get("redis-x").State(); got != StateOpen {
		t.Fatalf("redis-x state = %v, want open", got)
	}
	if got := r.Get("postgres-x").State(); got != StateClosed {
		t.Fatalf("postgres-x state = %v, want closed", got)
	}
	if r.Get("redis-x") != r.Get("redis-x") {
		t.Fatal("registry must return the same breaker per name")
	}
}

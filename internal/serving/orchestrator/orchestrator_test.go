package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/falconml/inferd/internal/core/fingerprint"
	"github.com/falconml/inferd/internal/infra/store/memory"
	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/cache"
	"github.com/falconml/inferd/internal/serving/idempotency"
	"github.com/falconml/inferd/internal/serving/inference"
	"github.com/falconml/inferd/internal/serving/logbuffer"
	"github.com/falconml/inferd/internal/serving/metrics"
)

// stubClassifier counts Classify calls and returns a fixed label.
type stubClassifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (inference.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return inference.Result{}, s.err
	}
	return inference.Result{
		Label:      "positive",
		Confidence: 0.9,
		Probabilities: map[string]float64{
			"negative": 0.05,
			"neutral":  0.05,
			"positive": 0.9,
		},
	}, nil
}

func (s *stubClassifier) Ready() bool { return true }

func (s *stubClassifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testHarness struct {
	orch       *Orchestrator
	classifier *stubClassifier
	cacheStore *memory.CacheStore
	logStore   *memory.LogStore
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	policy := resilience.RetryPolicy{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		JitterFraction: 0,
	}
	cacheStore := memory.NewCacheStore()
	logStore := memory.NewLogStore()
	executor := resilience.NewExecutor(resilience.NewRegistry(resilience.DefaultBreakerConfig()))

	clf := &stubClassifier{}
	orch := New(
		DefaultConfig(),
		idempotency.New(cacheStore, executor, policy, idempotency.DefaultConfig()),
		cache.New(cacheStore, executor, policy, cache.DefaultConfig()),
		clf,
		logbuffer.New(logStore, executor, policy, logbuffer.DefaultConfig()),
	)
	return &testHarness{orch: orch, classifier: clf, cacheStore: cacheStore, logStore: logStore}
}

// waitForLogs polls until the fire-and-forget audit writes land.
func (h *testHarness) waitForLogs(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.logStore.Records()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d audit records, have %d", n, len(h.logStore.Records()))
}

func TestProcessRunsInferenceOnce(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	resp, err := h.orch.Process(ctx, "I love this product", "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Prediction != "positive" {
		t.Errorf("prediction = %s, want positive", resp.Prediction)
	}
	if resp.CacheHit || resp.IdempotencyHit {
		t.Errorf("first request must be computed, got %+v", resp)
	}
	if resp.RequestID == "" || resp.WorkerID == "" {
		t.Errorf("response missing identifiers: %+v", resp)
	}
	if h.classifier.callCount() != 1 {
		t.Errorf("classify calls = %d, want 1", h.classifier.callCount())
	}
}

func TestProcessServesSecondRequestFromCache(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Process(ctx, "Hello World", ""); err != nil {
		t.Fatal(err)
	}

	// Same normalized payload, different surface form.
	resp, err := h.orch.Process(ctx, "  hello world ", "")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.CacheHit {
		t.Error("second request with the same payload must hit the cache")
	}
	if h.classifier.callCount() != 1 {
		t.Errorf("classify calls = %d, want 1", h.classifier.callCount())
	}
}

func TestProcessReplaysCompletedIdempotencyKey(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	first, err := h.orch.Process(ctx, "hello", "k1")
	if err != nil {
		t.Fatal(err)
	}

	second, err := h.orch.Process(ctx, "hello", "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !second.IdempotencyHit {
		t.Error("duplicate key must be served as an idempotent replay")
	}
	if second.Prediction != first.Prediction || second.Confidence != first.Confidence {
		t.Errorf("replayed response differs: %+v vs %+v", second, first)
	}
	if h.classifier.callCount() != 1 {
		t.Errorf("classify calls = %d, want 1", h.classifier.callCount())
	}

	// The cache_hit dimension only ever carries "true"/"false".
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("success", "idempotency")); got != 0 {
		t.Errorf("non-boolean cache_hit label recorded %v requests", got)
	}
}

func TestProcessRejectsReusedKeyWithDifferentPayload(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Process(ctx, "hello", "k1"); err != nil {
		t.Fatal(err)
	}

	_, err := h.orch.Process(ctx, "world", "k1")
	if !errors.Is(err, resilience.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestProcessFailsWhenInferenceFails(t *testing.T) {
	h := newTestHarness(t)
	h.classifier.err = errors.New("model exploded")

	_, err := h.orch.Process(context.Background(), "hello", "")
	if err == nil {
		t.Fatal("expected inference failure to surface")
	}
}

func TestProcessSucceedsWhenStoresAreDown(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.cacheStore.SetFailure(errors.New("dial tcp: connection refused"))
	h.logStore.SetFailure(errors.New("dial tcp: connection refused"))

	resp, err := h.orch.Process(ctx, "hello", "k1")
	if err != nil {
		t.Fatalf("store outages must not fail the request: %v", err)
	}
	if resp.Prediction != "positive" {
		t.Errorf("prediction = %s, want positive", resp.Prediction)
	}

	// Without stores every request recomputes.
	if _, err := h.orch.Process(ctx, "hello", "k1"); err != nil {
		t.Fatal(err)
	}
	if h.classifier.callCount() != 2 {
		t.Errorf("classify calls = %d, want 2", h.classifier.callCount())
	}
}

func TestProcessWritesAuditRecord(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	resp, err := h.orch.Process(ctx, "Hello World", "")
	if err != nil {
		t.Fatal(err)
	}
	h.waitForLogs(t, 1)

	rec := h.logStore.Records()[0]
	if rec.RequestID != resp.RequestID {
		t.Errorf("request id mismatch: %s vs %s", rec.RequestID, resp.RequestID)
	}
	if rec.InputHash != fingerprint.Hash("Hello World") {
		t.Errorf("unexpected input hash %s", rec.InputHash)
	}
	if !rec.Success || rec.CacheHit {
		t.Errorf("unexpected audit record: %+v", rec)
	}
	if rec.Prediction != "positive" {
		t.Errorf("prediction = %s, want positive", rec.Prediction)
	}
}

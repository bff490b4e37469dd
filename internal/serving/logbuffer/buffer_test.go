package logbuffer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/falconml/inferd/internal/core/domain"
	"github.com/falconml/inferd/internal/infra/store/memory"
	"github.com/falconml/inferd/internal/resilience"
)

var errStoreDown = errors.New("dial tcp: connection refused")

func fastPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		JitterFraction: 0,
	}
}

// newTestBuffer uses a breaker that opens on the first failure and recovers
// quickly, so outage scenarios run in milliseconds.
func newTestBuffer(t *testing.T, cfg Config) (*Buffer, *memory.LogStore) {
	t.Helper()
	st := memory.NewLogStore()
	executor := resilience.NewExecutor(resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      20 * time.Millisecond,
	}))
	return New(st, executor, fastPolicy(), cfg), st
}

func record(i int) *domain.LogRecord {
	return &domain.LogRecord{
		RequestID: fmt.Sprintf("req-%d", i),
		WorkerID:  "worker-1",
		Success:   true,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRecordWritesDirectlyWhenStoreUp(t *testing.T) {
	b, st := newTestBuffer(t, DefaultConfig())

	b.Record(record(1))

	if got := len(st.Records()); got != 1 {
		t.Fatalf("expected 1 persisted record, got %d", got)
	}
	if b.Len() != 0 {
		t.Errorf("nothing should be buffered, got %d", b.Len())
	}
}

func TestRecordBuffersWhileStoreDown(t *testing.T) {
	b, st := newTestBuffer(t, DefaultConfig())
	st.SetFailure(errStoreDown)

	b.Record(record(1))

	if b.Len() != 1 {
		t.Fatalf("expected 1 buffered record, got %d", b.Len())
	}
	if got := len(st.Records()); got != 0 {
		t.Errorf("nothing should be persisted, got %d", got)
	}
}

func TestOverflowDropsNewestRecords(t *testing.T) {
	b, st := newTestBuffer(t, Config{Capacity: 1000})
	st.SetFailure(errStoreDown)

	for i := 0; i < 1200; i++ {
		b.Record(record(i))
	}

	if b.Len() != 1000 {
		t.Errorf("expected 1000 buffered records, got %d", b.Len())
	}
	if b.Dropped() != 200 {
		t.Errorf("expected 200 dropped records, got %d", b.Dropped())
	}

	// The head of the queue is the oldest record: overflow dropped the
	// newest, not the buffered ones.
	head, ok := b.peek()
	if !ok || head.RequestID != "req-0" {
		t.Errorf("expected req-0 at the head, got %+v", head)
	}
}

func TestFlushDrainsInOrderAfterRecovery(t *testing.T) {
	b, st := newTestBuffer(t, Config{Capacity: 10})
	st.SetFailure(errStoreDown)

	for i := 0; i < 3; i++ {
		b.Record(record(i))
	}
	if b.Len() != 3 {
		t.Fatalf("expected 3 buffered records, got %d", b.Len())
	}

	st.SetFailure(nil)
	time.Sleep(30 * time.Millisecond) // let the breaker admit a trial

	if flushed := b.Flush(context.Background()); flushed != 3 {
		t.Fatalf("expected 3 flushed records, got %d", flushed)
	}
	if b.Len() != 0 {
		t.Errorf("queue should be empty after flush, got %d", b.Len())
	}

	recs := st.Records()
	if len(recs) != 3 {
		t.Fatalf("expected 3 persisted records, got %d", len(recs))
	}
	for i, rec := range recs {
		if want := fmt.Sprintf("req-%d", i); rec.RequestID != want {
			t.Errorf("record %d: got %s, want %s", i, rec.RequestID, want)
		}
	}
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	b, st := newTestBuffer(t, Config{Capacity: 10})
	st.SetFailure(errStoreDown)

	for i := 0; i < 3; i++ {
		b.Record(record(i))
	}

	if flushed := b.Flush(context.Background()); flushed != 0 {
		t.Fatalf("expected 0 flushed records while store is down, got %d", flushed)
	}
	if b.Len() != 3 {
		t.Errorf("failed flush must not lose records, got %d", b.Len())
	}
	head, _ := b.peek()
	if head.RequestID != "req-0" {
		t.Errorf("failed flush must keep the head in place, got %s", head.RequestID)
	}
}

func TestStopFlushesRemainingRecords(t *testing.T) {
	b, st := newTestBuffer(t, Config{Capacity: 10, FlushInterval: time.Hour})
	st.SetFailure(errStoreDown)

	b.Start()
	for i := 0; i < 3; i++ {
		b.Record(record(i))
	}

	st.SetFailure(nil)
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Stop(ctx)

	if got := len(st.Records()); got != 3 {
		t.Errorf("expected 3 persisted records after stop, got %d", got)
	}
}

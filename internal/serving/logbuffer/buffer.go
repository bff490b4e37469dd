// Package logbuffer decouples the audit trail from the durable log store.
// Record never blocks the response path: when the store is down, records are
// held in a bounded FIFO and a background flusher drains them once the store
// recovers. Overflow drops the newest record; buffered records have waited
// longest for durability and keep their place.
package logbuffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/falconml/inferd/internal/core/domain"
	"github.com/falconml/inferd/internal/infra/store"
	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/metrics"
)

const dependency = "postgres"

// Config holds log buffer settings.
type Config struct {
	Capacity      int           `yaml:"capacity"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	OpTimeout     time.Duration `yaml:"op_timeout"`
}

// DefaultConfig mirrors production defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:      1000,
		FlushInterval: 5 * time.Second,
		OpTimeout:     2 * time.Second,
	}
}

// Buffer is a bounded FIFO of audit records with a background flush loop.
type Buffer struct {
	store    store.LogStore
	executor *resilience.Executor
	policy   resilience.RetryPolicy
	cfg      Config
	log      *slog.Logger

	mu      sync.Mutex
	queue   []*domain.LogRecord
	dropped uint64

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New creates a Buffer draining into st.
func New(st store.LogStore, executor *resilience.Executor, policy resilience.RetryPolicy, cfg Config) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	b := &Buffer{
		store:    st,
		executor: executor,
		policy:   policy,
		cfg:      cfg,
		log:      slog.Default().With("component", "log_buffer"),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	// A store recovery should not have to wait for the next tick.
	executor.Breaker(dependency).NotifyRecovery(b.kick)
	return b
}

// Record hands rec to the buffer. It always succeeds from the caller's point
// of view; at worst the record is dropped and counted.
func (b *Buffer) Record(rec *domain.LogRecord) {
	// Try a direct write while the store looks reachable.
	if b.executor.Breaker(dependency).State() != resilience.StateOpen {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.OpTimeout)
		err := b.executor.Run(ctx, dependency, "log_append", b.policy, func(ctx context.Context) error {
			return b.store.Append(ctx, rec)
		})
		cancel()
		if err == nil {
			return
		}
		b.log.Warn("durable log store unavailable, buffering record",
			"request_id", rec.RequestID, "error", err)
		metrics.FallbackTotal.WithLabelValues(dependency, "buffer_log").Inc()
	}

	b.enqueue(rec)
}

func (b *Buffer) enqueue(rec *domain.LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) >= b.cfg.Capacity {
		b.dropped++
		metrics.DroppedLogsTotal.Inc()
		b.log.Error("log buffer full, dropping record",
			"request_id", rec.RequestID, "dropped_total", b.dropped)
		return
	}
	b.queue = append(b.queue, rec)
	metrics.LogBufferDepth.Set(float64(len(b.queue)))
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Dropped returns the number of records rejected because the buffer was full.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Start runs the background flush loop until Stop is called.
func (b *Buffer) Start() {
	go b.run()
}

func (b *Buffer) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Flush(context.Background())
		case <-b.kick:
			b.Flush(context.Background())
		}
	}
}

// Stop terminates the flush loop and makes a best-effort final flush.
func (b *Buffer) Stop(ctx context.Context) {
	close(b.stop)
	select {
	case <-b.done:
	case <-ctx.Done():
	}
	b.Flush(ctx)
}

// Flush drains buffered records in FIFO order. The pass stops at the first
// failure, leaving the failed record at the head for the next pass so order
// is preserved and a recovering store is not hammered.
func (b *Buffer) Flush(ctx context.Context) int {
	flushed := 0
	for {
		select {
		case <-ctx.Done():
			return flushed
		default:
		}

		rec, ok := b.peek()
		if !ok {
			return flushed
		}

		opCtx, cancel := context.WithTimeout(ctx, b.cfg.OpTimeout)
		err := b.executor.Run(opCtx, dependency, "log_flush", b.policy, func(ctx context.Context) error {
			return b.store.Append(ctx, rec)
		})
		cancel()
		if err != nil {
			b.log.Warn("flush pass stopped", "flushed", flushed, "remaining", b.Len(), "error", err)
			return flushed
		}

		b.popHead()
		flushed++
	}
}

func (b *Buffer) peek() (*domain.LogRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	return b.queue[0], true
}

func (b *Buffer) popHead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return
	}
	b.queue = b.queue[1:]
	metrics.LogBufferDepth.Set(float64(len(b.queue)))
}

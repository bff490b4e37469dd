package store

import (
	"context"
	"errors"
	"time"

	"github.com/falconml/inferd/internal/core/domain"
)

var (
	// ErrNotFound is returned when a key has no value (or it expired).
	ErrNotFound = errors.New("store: not found")
)

// ReservationStatus is the lifecycle state of an idempotency record.
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusCompleted ReservationStatus = "completed"
)

// Reservation is the stored idempotency record for one client key.
type Reservation struct {
	Fingerprint string            `json:"fingerprint"`
	Status      ReservationStatus `json:"status"`
	Response    []byte            `json:"response,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// CacheStore is the shared cache / deduplication store the worker depends on.
// Implementations must raise transient errors (timeouts, connection failures)
// distinguishable from fatal ones via resilience.IsRetryable.
type CacheStore interface {
	// Get returns the value at key, or ErrNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Reserve atomically creates a Reserved record for key if none exists.
	// created is true when this call made the reservation; otherwise existing
	// holds the record already present.
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (created bool, existing *Reservation, err error)

	// CompleteReservation marks key Completed with the given response,
	// first writer wins: an already Completed record is left untouched.
	CompleteReservation(ctx context.Context, key string, response []byte) error

	// Ping reports store reachability.
	Ping(ctx context.Context) error
}

// LogStore is the durable audit-log store.
type LogStore interface {
	// Append durably persists one audit record.
	Append(ctx context.Context, rec *domain.LogRecord) error

	// RecentStats aggregates over the most recent records.
	RecentStats(ctx context.Context, limit int) (*domain.Stats, error)

	// Ping reports store reachability.
	Ping(ctx context.Context) error
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/falconml/inferd/internal/core/domain"
	"github.com/falconml/inferd/internal/infra/store"
)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// CacheStore is an in-memory store.CacheStore. It backs tests and the
// storeless dev mode; a FailWith hook lets tests script outages.
type CacheStore struct {
	mu           sync.Mutex
	entries      map[string]cacheEntry
	reservations map[string]*store.Reservation
	expiries     map[string]time.Time

	// FailWith, when non-nil, is returned by every operation. Guarded by mu.
	FailWith error

	now func() time.Time
}

// NewCacheStore creates an empty in-memory cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		entries:      make(map[string]cacheEntry),
		reservations: make(map[string]*store.Reservation),
		expiries:     make(map[string]time.Time),
		now:          time.Now,
	}
}

// SetFailure scripts err as the outcome of every following operation; nil
// restores normal behavior.
func (s *CacheStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailWith = err
}

// SetClock overrides the time source, for expiry tests.
func (s *CacheStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, store.ErrNotFound
	}
	return e.value, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.entries[key] = cacheEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *CacheStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, *store.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return false, nil, s.FailWith
	}

	if exp, ok := s.expiries[key]; ok && s.now().After(exp) {
		delete(s.reservations, key)
		delete(s.expiries, key)
	}

	if existing, ok := s.reservations[key]; ok {
		cp := *existing
		return false, &cp, nil
	}

	s.reservations[key] = &store.Reservation{
		Fingerprint: fingerprint,
		Status:      store.StatusReserved,
		CreatedAt:   s.now(),
	}
	s.expiries[key] = s.now().Add(ttl)
	return true, nil, nil
}

func (s *CacheStore) CompleteReservation(ctx context.Context, key string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	rec, ok := s.reservations[key]
	if !ok {
		// The reservation may have been skipped while the store was down;
		// record the completed outcome anyway.
		s.reservations[key] = &store.Reservation{
			Status:    store.StatusCompleted,
			Response:  response,
			CreatedAt: s.now(),
		}
		s.expiries[key] = s.now().Add(24 * time.Hour)
		return nil
	}
	if rec.Status == store.StatusCompleted {
		// First writer already won.
		return nil
	}
	rec.Status = store.StatusCompleted
	rec.Response = response
	return nil
}

func (s *CacheStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailWith
}

// LogStore is an in-memory store.LogStore with the same failure hook.
type LogStore struct {
	mu      sync.Mutex
	records []*domain.LogRecord

	FailWith error
}

// NewLogStore creates an empty in-memory log store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// SetFailure scripts err as the outcome of every following operation.
func (s *LogStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailWith = err
}

func (s *LogStore) Append(ctx context.Context, rec *domain.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// Records returns a snapshot of everything appended so far.
func (s *LogStore) Records() []*domain.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.LogRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *LogStore) RecentStats(ctx context.Context, limit int) (*domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}

	recs := s.records
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}

	stats := &domain.Stats{TotalRequests: int64(len(recs))}
	var totalMs float64
	for _, r := range recs {
		if r.Success {
			stats.SuccessCount++
		}
		if r.CacheHit {
			stats.CacheHits++
		}
		totalMs += r.ProcessingTimeMs
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalRequests)
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalRequests)
		stats.AvgProcessingTimeMs = totalMs / float64(stats.TotalRequests)
	}
	return stats, nil
}

func (s *LogStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailWith
}

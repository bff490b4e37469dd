package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/falconml/inferd/internal/core/domain"
)

// LogRepo implements store.LogStore using PostgreSQL.
type LogRepo struct {
	db *DB
}

// NewLogRepo creates a new PostgreSQL audit-log repository.
func NewLogRepo(db *DB) *LogRepo {
	return &LogRepo{db: db}
}

// Append persists one audit record. Replayed records with a request_id already
// present are ignored so a flush retried after partial failure stays safe.
func (r *LogRepo) Append(ctx context.Context, rec *domain.LogRecord) error {
	query := `
		INSERT INTO inference_logs (
			request_id, worker_id, input_hash, text_length,
			prediction, confidence, cache_hit, idempotency_hit, success,
			processing_time_ms, error_type, idempotency_key, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (request_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.WorkerID,
		rec.InputHash,
		rec.TextLength,
		rec.Prediction,
		rec.Confidence,
		rec.CacheHit,
		rec.IdempotencyHit,
		rec.Success,
		rec.ProcessingTimeMs,
		nullable(rec.ErrorType),
		nullable(rec.IdempotencyKey),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log record: %w", err)
	}
	return nil
}

// RecentStats aggregates over the limit most recent records.
func (r *LogRepo) RecentStats(ctx context.Context, limit int) (*domain.Stats, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			COUNT(*)                                             AS total,
			COUNT(*) FILTER (WHERE success)                      AS success_count,
			COUNT(*) FILTER (WHERE cache_hit)                    AS cache_hits,
			COALESCE(AVG(processing_time_ms), 0)                 AS avg_ms
		FROM (
			SELECT success, cache_hit, processing_time_ms
			FROM inference_logs
			ORDER BY created_at DESC
			LIMIT $1
		) recent
	`

	var total, successCount, cacheHits int64
	var avgMs float64
	row := r.db.QueryRowContext(ctx, query, limit)
	if err := row.Scan(&total, &successCount, &cacheHits, &avgMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.Stats{}, nil
		}
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	stats := &domain.Stats{
		TotalRequests:       total,
		SuccessCount:        successCount,
		CacheHits:           cacheHits,
		AvgProcessingTimeMs: avgMs,
	}
	if total > 0 {
		stats.SuccessRate = float64(successCount) / float64(total)
		stats.CacheHitRate = float64(cacheHits) / float64(total)
	}
	return stats, nil
}

// Ping reports database reachability.
func (r *LogRepo) Ping(ctx context.Context) error {
	return r.db.Health(ctx)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

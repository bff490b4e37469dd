package domain

import "time"

// Result is the output of one classification.
type Result struct {
	Prediction    string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Response is what the worker returns to its caller for one request.
type Response struct {
	Prediction       string             `json:"prediction"`
	Confidence       float64            `json:"confidence"`
	Probabilities    map[string]float64 `json:"probabilities"`
	CacheHit         bool               `json:"cache_hit"`
	IdempotencyHit   bool               `json:"idempotency_hit"`
	WorkerID         string             `json:"worker_id"`
	RequestID        string             `json:"request_id"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
}

// LogRecord is the audit record written for every completed request. Records
// are immutable once created and removed only when durably persisted.
type LogRecord struct {
	RequestID        string    `json:"request_id" db:"request_id"`
	WorkerID         string    `json:"worker_id" db:"worker_id"`
	InputHash        string    `json:"input_hash" db:"input_hash"`
	TextLength       int       `json:"text_length" db:"text_length"`
	Prediction       string    `json:"prediction" db:"prediction"`
	Confidence       float64   `json:"confidence" db:"confidence"`
	CacheHit         bool      `json:"cache_hit" db:"cache_hit"`
	IdempotencyHit   bool      `json:"idempotency_hit" db:"idempotency_hit"`
	Success          bool      `json:"success" db:"success"`
	ProcessingTimeMs float64   `json:"processing_time_ms" db:"processing_time_ms"`
	ErrorType        string    `json:"error_type,omitempty" db:"error_type"`
	IdempotencyKey   string    `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Stats summarizes recent audit records.
type Stats struct {
	TotalRequests       int64   `json:"total_requests"`
	SuccessCount        int64   `json:"success_count"`
	SuccessRate         float64 `json:"success_rate"`
	CacheHits           int64   `json:"cache_hits"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
}

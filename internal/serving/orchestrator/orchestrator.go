// Package orchestrator composes the idempotency guard, response cache,
// classifier and log buffer into the per-request control flow. Cache and log
// store outages degrade silently; only inference failures and idempotency
// conflicts reach the caller.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/falconml/inferd/internal/core/domain"
	"github.com/falconml/inferd/internal/core/fingerprint"
	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/cache"
	"github.com/falconml/inferd/internal/serving/idempotency"
	"github.com/falconml/inferd/internal/serving/inference"
	"github.com/falconml/inferd/internal/serving/logbuffer"
	"github.com/falconml/inferd/internal/serving/metrics"
)

// Config holds orchestrator settings.
type Config struct {
	WorkerID         string        `yaml:"worker_id"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
}

// DefaultConfig mirrors production defaults.
func DefaultConfig() Config {
	return Config{
		WorkerID:         "worker-1",
		RequestTimeout:   30 * time.Second,
		InferenceTimeout: 10 * time.Second,
	}
}

// Orchestrator drives one inference request through the resilience layers.
type Orchestrator struct {
	cfg        Config
	guard      *idempotency.Guard
	cache      *cache.ResponseCache
	classifier inference.Classifier
	logs       *logbuffer.Buffer
	log        *slog.Logger
}

// New wires the orchestrator.
func New(cfg Config, guard *idempotency.Guard, rc *cache.ResponseCache, clf inference.Classifier, logs *logbuffer.Buffer) *Orchestrator {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.InferenceTimeout == 0 {
		cfg.InferenceTimeout = 10 * time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-1"
	}
	return &Orchestrator{
		cfg:        cfg,
		guard:      guard,
		cache:      rc,
		classifier: clf,
		logs:       logs,
		log:        slog.Default().With("component", "orchestrator"),
	}
}

// Process serves one inference request. idemKey may be empty.
func (o *Orchestrator) Process(ctx context.Context, text, idemKey string) (*domain.Response, error) {
	start := time.Now()
	requestID := uuid.New().String()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	fp := fingerprint.Hash(text)
	log := o.log.With("request_id", requestID)

	// Idempotent replay first: a completed duplicate never re-runs inference.
	if idemKey != "" {
		switch res := o.guard.Reserve(ctx, idemKey, fp); res.Outcome {
		case idempotency.OutcomeConflict:
			o.recordOutcome(requestID, fp, text, nil, false, false, false, "idempotency_conflict", idemKey, start)
			return nil, resilience.ErrIdempotencyConflict
		case idempotency.OutcomeCompleted:
			resp := res.Response
			resp.IdempotencyHit = true
			resp.RequestID = requestID
			resp.ProcessingTimeMs = msSince(start)
			log.Info("idempotent replay", "key", idemKey)
			o.recordOutcome(requestID, fp, text, &domain.Result{
				Prediction:    resp.Prediction,
				Confidence:    resp.Confidence,
				Probabilities: resp.Probabilities,
			}, false, true, true, "", idemKey, start)
			// Replays are counted by IdempotencyHitsTotal; cache_hit stays a
			// boolean dimension.
			metrics.RequestsTotal.WithLabelValues("success", "false").Inc()
			return resp, nil
		}
	}

	// Response cache.
	result, cacheHit := o.cache.Get(ctx, fp)

	// Inference on miss; its failure is fatal for the request.
	if !cacheHit {
		infCtx, infCancel := context.WithTimeout(ctx, o.cfg.InferenceTimeout)
		raw, err := o.classifier.Classify(infCtx, text)
		infCancel()
		if err != nil {
			errType := fmt.Sprintf("%T", err)
			log.Error("inference failed", "error", err)
			metrics.InferenceErrorsTotal.WithLabelValues(errType).Inc()
			metrics.RequestsTotal.WithLabelValues("error", "false").Inc()
			o.recordOutcome(requestID, fp, text, nil, false, false, false, errType, idemKey, start)
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		result = &domain.Result{
			Prediction:    raw.Label,
			Confidence:    raw.Confidence,
			Probabilities: raw.Probabilities,
		}
		o.cache.Set(ctx, fp, result)
	}

	resp := &domain.Response{
		Prediction:       result.Prediction,
		Confidence:       result.Confidence,
		Probabilities:    result.Probabilities,
		CacheHit:         cacheHit,
		WorkerID:         o.cfg.WorkerID,
		RequestID:        requestID,
		ProcessingTimeMs: msSince(start),
	}

	if idemKey != "" {
		o.guard.Complete(ctx, idemKey, resp)
	}

	o.recordOutcome(requestID, fp, text, result, cacheHit, false, true, "", idemKey, start)

	metrics.RequestsTotal.WithLabelValues("success", strconv.FormatBool(cacheHit)).Inc()
	metrics.RequestDuration.WithLabelValues(strconv.FormatBool(cacheHit)).Observe(time.Since(start).Seconds())

	return resp, nil
}

// recordOutcome hands the audit record to the log buffer on a detached
// goroutine: log durability is fire-and-forget and must not inherit the
// request's cancellation.
func (o *Orchestrator) recordOutcome(requestID, inputHash, text string, result *domain.Result, cacheHit, idemHit, success bool, errType, idemKey string, start time.Time) {
	rec := &domain.LogRecord{
		RequestID:        requestID,
		WorkerID:         o.cfg.WorkerID,
		InputHash:        inputHash,
		TextLength:       len(text),
		CacheHit:         cacheHit,
		IdempotencyHit:   idemHit,
		Success:          success,
		ProcessingTimeMs: msSince(start),
		ErrorType:        errType,
		IdempotencyKey:   idemKey,
		CreatedAt:        time.Now().UTC(),
	}
	if result != nil {
		rec.Prediction = result.Prediction
		rec.Confidence = result.Confidence
	}
	go o.logs.Record(rec)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

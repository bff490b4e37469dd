// Package inference defines the classification capability the worker wraps.
// The orchestration layer treats Classify as an opaque synchronous call; the
// bundled lexicon model keeps the worker self-contained.
package inference

import (
	"context"
	"time"
)

// Classifier is the external inference capability.
type Classifier interface {
	// Classify labels text. A failure here is fatal for the request: there is
	// no fallback path for the core computation.
	Classify(ctx context.Context, text string) (Result, error)

	// Ready reports whether the model is loaded and able to serve.
	Ready() bool
}

// Result is the raw classifier output.
type Result struct {
	Label         string
	Confidence    float64
	Probabilities map[string]float64
}

// Config holds inference settings.
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig mirrors production defaults.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}

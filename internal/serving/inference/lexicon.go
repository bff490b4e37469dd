package inference

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/falconml/inferd/internal/core/fingerprint"
	"github.com/falconml/inferd/internal/serving/metrics"
)

// ErrEmptyInput is returned when the text holds no scorable content.
var ErrEmptyInput = errors.New("inference: empty input")

var labels = []string{"negative", "neutral", "positive"}

// Small sentiment lexicon; enough signal for a demonstration model.
var lexicon = map[string]float64{
	"great": 2, "awesome": 2, "amazing": 2, "excellent": 2, "love": 2,
	"good": 1, "nice": 1, "fine": 0.5, "happy": 1.5, "best": 2,
	"okay": 0, "average": 0, "normal": 0,
	"bad": -1, "poor": -1, "slow": -0.5, "sad": -1.5,
	"terrible": -2, "horrible": -2, "worst": -2, "awful": -2, "hate": -2,
	"broken": -1.5, "useless": -1.5,
}

// LexiconClassifier scores text against a fixed sentiment lexicon and turns
// the score into a softmax over the three labels.
type LexiconClassifier struct {
	ready bool
}

// NewLexiconClassifier loads the bundled lexicon model.
func NewLexiconClassifier() *LexiconClassifier {
	return &LexiconClassifier{ready: true}
}

// Ready implements Classifier.
func (c *LexiconClassifier) Ready() bool {
	return c.ready
}

// Classify implements Classifier.
func (c *LexiconClassifier) Classify(ctx context.Context, text string) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	words := strings.Fields(fingerprint.Normalize(text))
	if len(words) == 0 {
		return Result{}, ErrEmptyInput
	}

	var score float64
	for _, w := range words {
		score += lexicon[strings.Trim(w, ".,!?;:\"'")]
	}
	score /= float64(len(words))

	// Logits: negative grows with -score, positive with score, neutral with
	// closeness to zero.
	logits := []float64{-score * 3, 1 - math.Abs(score)*2, score * 3}
	probs := softmax(logits)

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	dist := make(map[string]float64, len(labels))
	for i, l := range labels {
		dist[l] = probs[i]
	}

	return Result{
		Label:         labels[best],
		Confidence:    probs[best],
		Probabilities: dist,
	}, nil
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, l := range logits[1:] {
		if l > max {
			max = l
		}
	}
	var sum float64
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = math.Exp(l - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

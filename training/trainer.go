// Package training fits the trainable head of the transfer-learning
// pipeline: the embedding extractor stays frozen, and a small linear
// classifier is fitted over its vectors from the handful of user-labeled
// examples.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jayvicsanantonio/cogni-critter/embedding"
	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
	"github.com/jayvicsanantonio/cogni-critter/tensor"
)

const (
	// DefaultEpochs is the fixed gradient-descent epoch count. Teaching sets
	// are tiny, so there is no held-out data to drive early stopping; the
	// count is chosen to converge well inside the interactive budget.
	DefaultEpochs = 15

	// DefaultLearningRate for full-batch gradient descent.
	DefaultLearningRate float32 = 0.1
)

// Config holds the trainer's tuning knobs.
type Config struct {
	// Epochs is the fixed number of full-batch passes.
	Epochs int `yaml:"epochs"`

	// LearningRate for gradient descent.
	LearningRate float32 `yaml:"learning_rate"`

	// Timeout is the ceiling for one training run, embeddings included.
	// Configured through the game config's training_timeout_ms.
	Timeout time.Duration `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.Epochs <= 0 {
		c.Epochs = DefaultEpochs
	}
	if c.LearningRate <= 0 {
		c.LearningRate = DefaultLearningRate
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Trainer fits a fresh head from user-labeled examples. Each invocation is
// idempotent: it produces a new classifier and releases the previous one.
// At most one training run may be in flight at a time.
type Trainer struct {
	extractor embedding.Extractor
	images    embedding.ImageSource
	mgr       *tensor.Manager
	cfg       Config
	log       *zap.Logger

	mu      sync.Mutex
	current *TrainedClassifier
}

// NewTrainer builds a trainer over the given frozen extractor.
func NewTrainer(extractor embedding.Extractor, images embedding.ImageSource, mgr *tensor.Manager, cfg Config, log *zap.Logger) *Trainer {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if mgr == nil {
		mgr = tensor.NewManager()
	}
	return &Trainer{
		extractor: extractor,
		images:    images,
		mgr:       mgr,
		cfg:       cfg,
		log:       log,
	}
}

// Train embeds every example and fits the head. Fails with
// *InsufficientDataError on degenerate label distributions and with
// *TrainingTimeoutError when the run exceeds its ceiling. Any previously
// trained classifier is invalidated and released before the new one is
// produced.
func (t *Trainer) Train(ctx context.Context, examples []types.TrainingExample) (*TrainedClassifier, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := checkDistribution(examples); err != nil {
		return nil, err
	}

	// A new run invalidates the previous head regardless of this run's
	// outcome.
	if t.current != nil {
		t.current.Release()
		t.current = nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	start := time.Now()

	vectors, labels, err := t.embedExamples(ctx, examples, start)
	if err != nil {
		return nil, err
	}
	dim := len(vectors[0])

	clf, loss, epochs, err := t.fit(ctx, vectors, labels, dim, start)
	if err != nil {
		return nil, err
	}

	t.current = clf
	t.log.Info("classifier trained",
		zap.Int("examples", len(examples)),
		zap.Int("dim", dim),
		zap.Int("epochs", epochs),
		zap.Float64("loss", loss),
		zap.Duration("elapsed", time.Since(start)))
	return clf, nil
}

func checkDistribution(examples []types.TrainingExample) error {
	var countA, countB int
	for _, ex := range examples {
		switch ex.UserLabel {
		case types.LabelA:
			countA++
		case types.LabelB:
			countB++
		}
	}
	if countA+countB < 2 || countA == 0 || countB == 0 {
		return &InsufficientDataError{Total: countA + countB, CountA: countA, CountB: countB}
	}
	return nil
}

// ctxError maps a context failure: the trainer's own deadline becomes a
// *TrainingTimeoutError, caller cancellation passes through as-is.
func ctxError(err error, start time.Time, epoch int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TrainingTimeoutError{Elapsed: time.Since(start), Epoch: epoch}
	}
	return fmt.Errorf("training canceled: %w", err)
}

func (t *Trainer) embedExamples(ctx context.Context, examples []types.TrainingExample, start time.Time) ([][]float32, []int, error) {
	vectors := make([][]float32, 0, len(examples))
	labels := make([]int, 0, len(examples))
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return nil, nil, ctxError(err, start, 0)
		}
		img, err := t.images.Load(ctx, ex.ImageRef)
		if err != nil {
			return nil, nil, fmt.Errorf("load example %s: %w", ex.ID, err)
		}
		vec, err := t.extractor.Embed(ctx, img)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxError(ctxErr, start, 0)
			}
			return nil, nil, fmt.Errorf("embed example %s: %w", ex.ID, err)
		}
		if len(vectors) > 0 && len(vec) != len(vectors[0]) {
			return nil, nil, fmt.Errorf("inconsistent embedding dims: %d vs %d", len(vec), len(vectors[0]))
		}
		class := 0
		if ex.UserLabel == types.LabelB {
			class = 1
		}
		vectors = append(vectors, vec)
		labels = append(labels, class)
	}
	return vectors, labels, nil
}

// fit runs fixed-epoch full-batch gradient descent on softmax
// cross-entropy. The deadline is checked between epochs; cancellation is
// cooperative, never preemptive.
func (t *Trainer) fit(ctx context.Context, vectors [][]float32, labels []int, dim int, start time.Time) (*TrainedClassifier, float64, int, error) {
	cols := dim + 1
	weights := t.mgr.NewBuffer(2 * cols)
	w := weights.Data()

	var finalLoss float64
	epoch := 0
	fitErr := func() error {
		gradA := make([]float32, cols)
		gradB := make([]float32, cols)
		n := float32(len(vectors))

		for ; epoch < t.cfg.Epochs; epoch++ {
			select {
			case <-ctx.Done():
				return ctxError(ctx.Err(), start, epoch)
			default:
			}

			for i := range gradA {
				gradA[i] = 0
				gradB[i] = 0
			}
			finalLoss = 0

			for i, x := range vectors {
				logitA := dot(w[:dim], x) + w[dim]
				logitB := dot(w[cols:cols+dim], x) + w[cols+dim]
				pA, pB := softmax2(logitA, logitB)

				var yA, yB float32
				if labels[i] == 0 {
					yA = 1
					finalLoss -= math.Log(math.Max(float64(pA), 1e-12))
				} else {
					yB = 1
					finalLoss -= math.Log(math.Max(float64(pB), 1e-12))
				}

				dA := pA - yA
				dB := pB - yB
				for j, xj := range x {
					gradA[j] += dA * xj
					gradB[j] += dB * xj
				}
				gradA[dim] += dA
				gradB[dim] += dB
			}
			finalLoss /= float64(len(vectors))

			lr := t.cfg.LearningRate / n
			for j := 0; j < cols; j++ {
				w[j] -= lr * gradA[j]
				w[cols+j] -= lr * gradB[j]
			}
		}
		return nil
	}()
	if fitErr != nil {
		weights.Release()
		return nil, 0, epoch, fitErr
	}

	return &TrainedClassifier{weights: weights, dim: dim}, finalLoss, epoch, nil
}

// Release frees the currently held classifier, if any. Used on session
// restart.
func (t *Trainer) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.current.Release()
		t.current = nil
	}
}

package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
	"github.com/jayvicsanantonio/cogni-critter/tensor"
)

// TrainedClassifier is the small head fitted over frozen embeddings: one
// linear layer per class with a softmax on top. It is exclusively owned by
// its consumer (the prediction service) between training runs; Release
// invalidates it and returns its weights to the lifecycle manager.
type TrainedClassifier struct {
	weights *tensor.Buffer // 2 rows of dim+1 (bias folded into the last column)
	dim     int

	mu       sync.RWMutex
	released bool
}

// Classify produces the confidence pair for one embedding. The confidences
// sum to 1 within floating-point tolerance.
func (c *TrainedClassifier) Classify(embedding []float32) (types.ClassificationResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return types.ClassificationResult{}, fmt.Errorf("classifier has been released")
	}
	if len(embedding) != c.dim {
		return types.ClassificationResult{}, fmt.Errorf("embedding dim %d, classifier expects %d", len(embedding), c.dim)
	}

	w := c.weights.Data()
	logitA := dot(w[:c.dim], embedding) + w[c.dim]
	logitB := dot(w[c.dim+1:2*c.dim+1], embedding) + w[2*c.dim+1]

	pA, pB := softmax2(logitA, logitB)
	return types.ClassificationResult{ConfidenceA: pA, ConfidenceB: pB}, nil
}

// Dim returns the embedding dimensionality the head was fitted for.
func (c *TrainedClassifier) Dim() int {
	return c.dim
}

// Release frees the head's weights. Idempotent; Classify fails afterwards.
func (c *TrainedClassifier) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.weights.Release()
}

func dot(w, x []float32) float32 {
	var sum float32
	for i, v := range w {
		sum += v * x[i]
	}
	return sum
}

// softmax2 is a numerically stable two-way softmax.
func softmax2(a, b float32) (float32, float32) {
	max := a
	if b > max {
		max = b
	}
	ea := float32(math.Exp(float64(a - max)))
	eb := float32(math.Exp(float64(b - max)))
	sum := ea + eb
	return ea / sum, eb / sum
}

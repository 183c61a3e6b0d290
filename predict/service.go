// Package predict runs the trained classifier over new images under a hard
// time budget. Prediction never fails from the caller's point of view: a
// slow or broken inference pass resolves into the deterministic fallback
// result so the game always advances to the next image.
package predict

import (
	"context"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jayvicsanantonio/cogni-critter/embedding"
	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
	"github.com/jayvicsanantonio/cogni-critter/training"
)

// DefaultTimeout is the per-prediction budget.
const DefaultTimeout = 1000 * time.Millisecond

// Config holds the service's tuning knobs.
type Config struct {
	// Timeout is the hard budget for one prediction. Configured through the
	// game config's prediction_timeout_ms.
	Timeout time.Duration `yaml:"-"`
}

// Service owns the trained classifier between training runs and executes
// predictions one at a time.
type Service struct {
	extractor embedding.Extractor
	cfg       Config
	log       *zap.Logger

	// mu serializes predictions: at most one may be in flight.
	mu sync.Mutex

	clfMu sync.RWMutex
	clf   *training.TrainedClassifier
}

// NewService builds a prediction service over the frozen extractor.
func NewService(extractor embedding.Extractor, cfg Config, log *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{extractor: extractor, cfg: cfg, log: log}
}

// SetClassifier hands a freshly trained head to the service. The previous
// head, if any, is invalidated and released first.
func (s *Service) SetClassifier(clf *training.TrainedClassifier) {
	s.clfMu.Lock()
	prev := s.clf
	s.clf = clf
	s.clfMu.Unlock()
	if prev != nil && prev != clf {
		prev.Release()
	}
}

// HasClassifier reports whether a trained head is installed.
func (s *Service) HasClassifier() bool {
	s.clfMu.RLock()
	defer s.clfMu.RUnlock()
	return s.clf != nil
}

// Predict runs embedding plus head inference over img. If the computation
// does not finish within the configured timeout the call returns the
// fallback result; the late computation completes in the background and its
// result is discarded, with its buffers still released through the scoped
// extractor path. Errors are translated into the fallback as well; they
// are logged, never propagated.
func (s *Service) Predict(ctx context.Context, img image.Image) types.ClassificationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clfMu.RLock()
	clf := s.clf
	s.clfMu.RUnlock()
	if clf == nil {
		s.log.Warn("predict called without a trained classifier")
		return types.FallbackResult()
	}

	type outcome struct {
		res types.ClassificationResult
		err error
	}
	// Buffered so a late completion never blocks the abandoned goroutine.
	done := make(chan outcome, 1)

	go func() {
		vec, err := s.extractor.Embed(ctx, img)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		res, err := clf.Classify(vec)
		done <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			s.log.Warn("prediction failed, using fallback", zap.Error(out.err))
			return types.FallbackResult()
		}
		return out.res
	case <-timer.C:
		s.log.Warn("prediction timed out, using fallback",
			zap.Duration("timeout", s.cfg.Timeout))
		return types.FallbackResult()
	case <-ctx.Done():
		s.log.Warn("prediction canceled, using fallback", zap.Error(ctx.Err()))
		return types.FallbackResult()
	}
}

// TestImage runs one testing-phase prediction and folds it into a full
// TestResult, including the measured latency.
func (s *Service) TestImage(ctx context.Context, ref string, img image.Image, trueLabel types.Label) types.TestResult {
	start := time.Now()
	res := s.Predict(ctx, img)
	return types.NewTestResult(ref, trueLabel, res, time.Since(start))
}

// Release drops and releases the installed classifier. Used on session
// restart and shutdown.
func (s *Service) Release() {
	s.SetClassifier(nil)
}

package cognicritter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jayvicsanantonio/cogni-critter/embedding"
	"github.com/jayvicsanantonio/cogni-critter/game"
	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
	"github.com/jayvicsanantonio/cogni-critter/predict"
	"github.com/jayvicsanantonio/cogni-critter/store"
	"github.com/jayvicsanantonio/cogni-critter/training"
)

// Snapshot pairs the game state with the display names of the two classes,
// which the UI needs to label the sorting bins.
type Snapshot struct {
	game.State
	ClassNameA string `json:"class_name_a"`
	ClassNameB string `json:"class_name_b"`
}

// Session owns one play-through of the teach/train/test loop. It is the
// single writer of the game state: every mutation goes through Dispatch,
// which applies the pure reducer and publishes the resulting snapshot.
// Async work (model loading, training, prediction) happens in the calling
// goroutine and feeds its outcome back in as actions.
type Session struct {
	cfg     Config
	machine *game.Machine
	log     *zap.Logger

	mu        sync.Mutex
	state     game.State
	extractor embedding.Extractor
	trainer   *training.Trainer
	predictor *predict.Service
	training  bool
}

// NewSession builds a session from the config. The embedding model is not
// loaded yet; call Start.
func NewSession(cfg Config) (*Session, error) {
	cfg.applyDefaults()
	if cfg.Images == nil {
		return nil, fmt.Errorf("config: an image source is required")
	}

	s := &Session{
		cfg:     cfg,
		machine: game.NewMachine(cfg.Game, cfg.Logger),
		log:     cfg.Logger,
		state:   game.NewState(),
	}
	return s, nil
}

// Dispatch applies one action and returns the new state snapshot. Finishing
// a round records it in the store; every state change is broadcast to the
// monitor hub.
func (s *Session) Dispatch(a game.Action) game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchLocked(a)
}

func (s *Session) dispatchLocked(a game.Action) game.State {
	prev := s.state
	next := s.machine.Reduce(prev, a)
	s.state = next

	if next.Phase == game.PhaseResultsSummary && prev.Phase != game.PhaseResultsSummary {
		s.recordRound(next)
	}
	if s.cfg.Hub != nil {
		s.cfg.Hub.BroadcastState(s.snapshotLocked(next))
	}
	return next
}

func (s *Session) snapshotLocked(st game.State) Snapshot {
	return Snapshot{
		State:      st,
		ClassNameA: s.cfg.ClassNameA,
		ClassNameB: s.cfg.ClassNameB,
	}
}

func (s *Session) recordRound(st game.State) {
	if s.cfg.Store == nil {
		return
	}
	accuracy := game.CalculateAccuracy(st.TestResults)
	newBest, err := s.cfg.Store.RecordSession(store.SessionRecord{
		Score:    st.Score,
		Accuracy: accuracy,
		Examples: len(st.TrainingData),
		TestedAt: time.Now(),
	})
	if err != nil {
		s.log.Error("record round", zap.Error(err))
		return
	}
	s.log.Info("round finished",
		zap.Int("score", st.Score),
		zap.Float64("accuracy", accuracy),
		zap.Bool("new_best", newBest))
}

// Start loads the embedding model and opens the teaching phase. On a
// *embedding.ModelLoadError the session stays in LOADING_MODEL; the caller
// may invoke Start again to retry. There is no automatic retry beyond the
// loader's bounded attempts.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase == game.PhaseInitializing {
		s.dispatchLocked(game.StartModelLoading{})
	}
	if s.state.Phase != game.PhaseLoadingModel {
		return fmt.Errorf("session already started (phase %s)", s.state.Phase)
	}

	ext := s.cfg.Extractor
	if ext == nil {
		loaded, err := embedding.NewLoadStrategy(s.cfg.Loader, s.cfg.Manager, s.log).Load(ctx)
		if err != nil {
			return err
		}
		ext = loaded
	}
	if s.cfg.EmbeddingCacheSize >= 0 {
		cached, err := embedding.NewCachingExtractor(ext, s.cfg.EmbeddingCacheSize)
		if err != nil {
			return err
		}
		ext = cached
	}

	s.extractor = ext
	s.trainer = training.NewTrainer(ext, s.cfg.Images, s.cfg.Manager, s.cfg.Trainer, s.log)
	s.predictor = predict.NewService(ext, s.cfg.Predict, s.log)

	s.dispatchLocked(game.ModelLoaded{})
	return nil
}

// Teach records one user-sorted image. The reducer enforces phase and cap;
// hitting the cap forces the transition into training.
func (s *Session) Teach(imageRef string, label types.Label) game.State {
	return s.Dispatch(game.AddTrainingExample{
		Example: types.NewTrainingExample(imageRef, label),
	})
}

// TrainModel runs one training pass over the accumulated teaching set and
// feeds the outcome back into the state machine. At most one run may be in
// flight. On failure the phase does not advance; the caller surfaces a
// retry to the user.
func (s *Session) TrainModel(ctx context.Context) error {
	s.mu.Lock()
	if s.training {
		s.mu.Unlock()
		return fmt.Errorf("a training run is already in flight")
	}
	if s.state.Phase == game.PhaseTeaching {
		s.dispatchLocked(game.StartTraining{})
	}
	if s.state.Phase != game.PhaseTrainingModel {
		s.mu.Unlock()
		return fmt.Errorf("not ready to train (phase %s)", s.state.Phase)
	}
	s.training = true
	trainer := s.trainer
	examples := s.state.TrainingData
	s.mu.Unlock()

	clf, err := trainer.Train(ctx, examples)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.training = false
	if err != nil {
		s.dispatchLocked(game.TrainingFailed{Reason: err.Error()})
		return err
	}
	s.predictor.SetClassifier(clf)
	s.dispatchLocked(game.TrainingCompleted{})
	return nil
}

// BeginTesting moves a trained session into the testing phase.
func (s *Session) BeginTesting() game.State {
	return s.Dispatch(game.StartTestingPhase{})
}

// Test runs the classifier over one testing image. Predictions are
// serialized: the critter thinks about one image at a time. The prediction
// itself never fails (timeouts and inference errors resolve into the
// fallback result) but the image must be resolvable.
func (s *Session) Test(ctx context.Context, imageRef string, trueLabel types.Label) (types.TestResult, error) {
	s.mu.Lock()
	predictor := s.predictor
	s.mu.Unlock()
	if predictor == nil {
		return types.TestResult{}, fmt.Errorf("session not started")
	}

	img, err := s.cfg.Images.Load(ctx, imageRef)
	if err != nil {
		return types.TestResult{}, err
	}

	s.Dispatch(game.StartPrediction{})
	result := predictor.TestImage(ctx, imageRef, img, trueLabel)
	s.Dispatch(game.AddTestResult{Result: result})
	return result, nil
}

// Restart begins a fresh round from the results screen. Per-round data
// resets; the trained classifier is invalidated and released; the loaded
// embedding model is kept. Best scores live in the store and survive.
func (s *Session) Restart() game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	next := s.dispatchLocked(game.RestartGame{})
	if prev.Phase == game.PhaseResultsSummary && next.Phase == game.PhaseTeaching {
		if s.predictor != nil {
			s.predictor.Release()
		}
		if s.trainer != nil {
			s.trainer.Release()
		}
	}
	return next
}

// State returns the current snapshot. Snapshots are safe to hold: the
// reducer never mutates slices in place.
func (s *Session) State() game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current state together with the class display names,
// matching what the hub broadcasts.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.state)
}

// BestScore reads the cross-session best from the store.
func (s *Session) BestScore() (int, error) {
	if s.cfg.Store == nil {
		return 0, nil
	}
	return s.cfg.Store.BestScore()
}

// Close releases the classifier and the embedding model. The store and hub
// are owned by the caller.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.predictor != nil {
		s.predictor.Release()
	}
	if s.trainer != nil {
		s.trainer.Release()
	}
	if s.extractor != nil {
		return s.extractor.Close()
	}
	return nil
}

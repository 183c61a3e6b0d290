package game

import (
	"go.uber.org/zap"

	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
)

// Machine reduces game state. It holds no mutable state of its own: Reduce
// is a pure (state, action) -> state function, so a Machine can be shared
// freely. Invalid actions are rejected, logged, and leave the state
// untouched; the reducer never returns an error and never panics on bad
// input, because a misdispatched UI action must not take the session down.
type Machine struct {
	cfg Config
	log *zap.Logger
}

// NewMachine builds a reducer for one session configuration.
func NewMachine(cfg Config, log *zap.Logger) *Machine {
	cfg.ApplyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{cfg: cfg, log: log}
}

// Config returns the session configuration the machine was built with.
func (m *Machine) Config() Config {
	return m.cfg
}

// Reduce applies one action and returns the resulting state. The input
// state is never modified.
func (m *Machine) Reduce(s State, a Action) State {
	switch act := a.(type) {
	case InitializeGame:
		if s.Phase != PhaseInitializing {
			return m.reject(s, a, "session already started")
		}
		return NewState()

	case StartModelLoading:
		return m.transition(s, a, PhaseLoadingModel)

	case ModelLoaded:
		next, ok := m.tryTransition(s, a, PhaseTeaching)
		if !ok {
			return s
		}
		next.CritterMood = types.MoodIdle
		return next

	case AddTrainingExample:
		return m.addTrainingExample(s, act)

	case StartTraining:
		if !m.IsReadyForTraining(s) {
			return m.reject(s, a, "teaching set not ready")
		}
		return m.transition(s, a, PhaseTrainingModel)

	case TrainingCompleted:
		if s.Phase != PhaseTrainingModel {
			return m.reject(s, a, "no training in progress")
		}
		next := s
		next.ModelTrained = true
		next.LastError = ""
		next.CritterMood = types.MoodIdle
		return next

	case TrainingFailed:
		if s.Phase != PhaseTrainingModel {
			return m.reject(s, a, "no training in progress")
		}
		next := s
		next.ModelTrained = false
		next.LastError = act.Reason
		next.CritterMood = types.MoodConfused
		m.log.Warn("training failed", zap.String("reason", act.Reason))
		return next

	case StartTestingPhase:
		if !s.ModelTrained {
			return m.reject(s, a, "classifier not trained")
		}
		next, ok := m.tryTransition(s, a, PhaseTesting)
		if !ok {
			return s
		}
		next.CurrentImageIndex = 0
		next.CritterMood = types.MoodIdle
		return next

	case StartPrediction:
		if s.Phase != PhaseTesting {
			return m.reject(s, a, "not in testing phase")
		}
		next := s
		next.CritterMood = types.MoodThinking
		return next

	case AddTestResult:
		return m.addTestResult(s, act)

	case ShowResults:
		if len(s.TestResults) < m.cfg.TestingImageCount {
			return m.reject(s, a, "testing round not finished")
		}
		return m.finishRound(s, a)

	case RestartGame:
		next, ok := m.tryTransition(s, a, PhaseTeaching)
		if !ok {
			return s
		}
		next.CurrentImageIndex = 0
		next.TrainingData = nil
		next.TestResults = nil
		next.Score = 0
		next.ModelTrained = false
		next.LastError = ""
		next.CritterMood = types.MoodIdle
		return next

	default:
		return m.reject(s, a, "unknown action")
	}
}

func (m *Machine) addTrainingExample(s State, act AddTrainingExample) State {
	if s.Phase != PhaseTeaching {
		return m.reject(s, act, "not in teaching phase")
	}
	if !act.Example.UserLabel.Valid() {
		return m.reject(s, act, "unknown label")
	}
	if len(s.TrainingData) >= m.cfg.MaxTeachingExamples {
		return m.reject(s, act, "teaching set full")
	}

	next := s
	next.TrainingData = append(append([]types.TrainingExample(nil), s.TrainingData...), act.Example)
	next.CurrentImageIndex = s.CurrentImageIndex + 1

	// Hitting the cap forces training regardless of label balance; the
	// trainer will report degenerate sets as InsufficientDataError.
	if len(next.TrainingData) >= m.cfg.MaxTeachingExamples {
		next.Phase = PhaseTrainingModel
		m.log.Info("teaching cap reached, forcing training",
			zap.Int("examples", len(next.TrainingData)))
	}
	return next
}

func (m *Machine) addTestResult(s State, act AddTestResult) State {
	if s.Phase != PhaseTesting {
		return m.reject(s, act, "not in testing phase")
	}
	if len(s.TestResults) >= m.cfg.TestingImageCount {
		return m.reject(s, act, "testing round already complete")
	}

	next := s
	next.TestResults = append(append([]types.TestResult(nil), s.TestResults...), act.Result)
	next.CurrentImageIndex = s.CurrentImageIndex + 1
	if act.Result.IsCorrect {
		next.Score = s.Score + 1
		next.CritterMood = types.MoodHappy
	} else {
		next.CritterMood = types.MoodConfused
	}

	if len(next.TestResults) >= m.cfg.TestingImageCount {
		return m.finishRound(next, act)
	}
	return next
}

// finishRound moves into the results summary and derives the aggregate mood
// from overall accuracy.
func (m *Machine) finishRound(s State, a Action) State {
	next, ok := m.tryTransition(s, a, PhaseResultsSummary)
	if !ok {
		return s
	}
	next.CritterMood = MoodFromAccuracy(CalculateAccuracy(next.TestResults))
	return next
}

// transition performs a phase move, rejecting illegal edges.
func (m *Machine) transition(s State, a Action, to Phase) State {
	next, ok := m.tryTransition(s, a, to)
	if !ok {
		return s
	}
	return next
}

func (m *Machine) tryTransition(s State, a Action, to Phase) (State, bool) {
	if !IsValidTransition(s.Phase, to) {
		m.reject(s, a, "invalid transition")
		return s, false
	}
	next := s
	next.Phase = to
	return next, true
}

// reject logs a refused action and returns the state unchanged.
func (m *Machine) reject(s State, a Action, reason string) State {
	m.log.Warn("action rejected",
		zap.String("action", name(a)),
		zap.String("phase", s.Phase.String()),
		zap.String("reason", reason))
	return s
}

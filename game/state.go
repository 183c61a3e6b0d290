package game

import (
	"time"

	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
)

const (
	DefaultMinTeachingExamples = 5
	DefaultMaxTeachingExamples = 10
	DefaultTestingImageCount   = 5
	DefaultPredictionTimeoutMs = 1000
	DefaultTrainingTimeoutMs   = 10000
	DefaultTargetFrameRate     = 60
)

// Config holds the per-session tuning knobs. It is supplied once at session
// start and read-only thereafter.
type Config struct {
	// MinTeachingExamples is the smallest teaching set that permits the
	// transition into training, provided both labels are present.
	MinTeachingExamples int `yaml:"min_teaching_examples"`

	// MaxTeachingExamples forces the transition into training regardless of
	// label balance.
	MaxTeachingExamples int `yaml:"max_teaching_examples"`

	// TestingImageCount is the number of test images per round.
	TestingImageCount int `yaml:"testing_image_count"`

	// PredictionTimeoutMs is the hard budget for a single prediction before
	// the fallback result is used.
	PredictionTimeoutMs int `yaml:"prediction_timeout_ms"`

	// TrainingTimeoutMs is the ceiling for a single training run.
	TrainingTimeoutMs int `yaml:"training_timeout_ms"`

	// TargetFrameRate is passed through to the UI collaborators.
	TargetFrameRate int `yaml:"target_frame_rate"`
}

// ApplyDefaults fills in default values for unset config fields.
func (c *Config) ApplyDefaults() {
	if c.MinTeachingExamples <= 0 {
		c.MinTeachingExamples = DefaultMinTeachingExamples
	}
	if c.MaxTeachingExamples <= 0 {
		c.MaxTeachingExamples = DefaultMaxTeachingExamples
	}
	if c.MaxTeachingExamples < c.MinTeachingExamples {
		c.MaxTeachingExamples = c.MinTeachingExamples
	}
	if c.TestingImageCount <= 0 {
		c.TestingImageCount = DefaultTestingImageCount
	}
	if c.PredictionTimeoutMs <= 0 {
		c.PredictionTimeoutMs = DefaultPredictionTimeoutMs
	}
	if c.TrainingTimeoutMs <= 0 {
		c.TrainingTimeoutMs = DefaultTrainingTimeoutMs
	}
	if c.TargetFrameRate <= 0 {
		c.TargetFrameRate = DefaultTargetFrameRate
	}
}

// PredictionTimeout returns the prediction budget as a duration.
func (c Config) PredictionTimeout() time.Duration {
	return time.Duration(c.PredictionTimeoutMs) * time.Millisecond
}

// TrainingTimeout returns the training ceiling as a duration.
func (c Config) TrainingTimeout() time.Duration {
	return time.Duration(c.TrainingTimeoutMs) * time.Millisecond
}

// State is the single aggregate describing a session. It is owned by the
// reducer: every dispatched action produces a wholesale replacement, never
// an in-place mutation, so readers can hold a snapshot safely.
type State struct {
	Phase             Phase                   `json:"phase"`
	CurrentImageIndex int                     `json:"current_image_index"`
	TrainingData      []types.TrainingExample `json:"training_data"`
	TestResults       []types.TestResult      `json:"test_results"`
	Score             int                     `json:"score"`
	CritterMood       types.Mood              `json:"critter_mood"`

	// ModelTrained gates the transition into testing.
	ModelTrained bool `json:"model_trained"`

	// LastError holds the human-readable reason of the most recent training
	// failure, cleared on the next successful transition.
	LastError string `json:"last_error,omitempty"`
}

// NewState returns the pristine pre-loading state.
func NewState() State {
	return State{
		Phase:       PhaseInitializing,
		CritterMood: types.MoodIdle,
	}
}

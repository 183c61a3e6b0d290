package types

import (
	"time"

	"github.com/google/uuid"
)

// Label identifies one of the two classes the critter can learn.
type Label string

const (
	LabelA Label = "A"
	LabelB Label = "B"
)

// Valid reports whether the label is one of the two known classes.
func (l Label) Valid() bool {
	return l == LabelA || l == LabelB
}

// Other returns the opposite label.
func (l Label) Other() Label {
	if l == LabelA {
		return LabelB
	}
	return LabelA
}

func (l Label) String() string {
	return string(l)
}

// Mood is the critter's visible emotional state, derived from game progress.
type Mood string

const (
	MoodIdle     Mood = "IDLE"
	MoodThinking Mood = "THINKING"
	MoodHappy    Mood = "HAPPY"
	MoodConfused Mood = "CONFUSED"
)

// FallbackConfidence is the confidence assigned to a prediction that could
// not complete in time. A result whose winning confidence is at or below
// this value carries no real signal and downstream consumers treat it as a
// coin flip.
const FallbackConfidence float32 = 0.5

// TrainingExample records a single image the user sorted during teaching.
// Examples are immutable once created.
type TrainingExample struct {
	ID        string    `json:"id"`
	ImageRef  string    `json:"image_ref"`
	UserLabel Label     `json:"user_label"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTrainingExample mints an example for an image the user just sorted.
func NewTrainingExample(imageRef string, label Label) TrainingExample {
	return TrainingExample{
		ID:        uuid.New().String(),
		ImageRef:  imageRef,
		UserLabel: label,
		Timestamp: time.Now(),
	}
}

// TestResult records the outcome of one prediction during the testing phase.
type TestResult struct {
	ID                string        `json:"id"`
	ImageRef          string        `json:"image_ref"`
	TrueLabel         Label         `json:"true_label"`
	PredictedLabel    Label         `json:"predicted_label"`
	Confidence        float32       `json:"confidence"`
	IsCorrect         bool          `json:"is_correct"`
	PredictionLatency time.Duration `json:"prediction_latency"`
}

// NewTestResult builds a result from a classification outcome.
func NewTestResult(imageRef string, trueLabel Label, res ClassificationResult, latency time.Duration) TestResult {
	predicted := res.PredictedLabel()
	return TestResult{
		ID:                uuid.New().String(),
		ImageRef:          imageRef,
		TrueLabel:         trueLabel,
		PredictedLabel:    predicted,
		Confidence:        res.Confidence(),
		IsCorrect:         predicted == trueLabel,
		PredictionLatency: latency,
	}
}

// ClassificationResult is a pair of class confidences summing to 1 within
// floating-point tolerance. It is ephemeral: produced per prediction call
// and folded into a TestResult.
type ClassificationResult struct {
	ConfidenceA float32 `json:"confidence_a"`
	ConfidenceB float32 `json:"confidence_b"`
}

// FallbackResult is the deterministic low-confidence guess returned when
// real inference cannot complete within its time budget.
func FallbackResult() ClassificationResult {
	return ClassificationResult{ConfidenceA: FallbackConfidence, ConfidenceB: FallbackConfidence}
}

// PredictedLabel returns the class with the higher confidence. Ties resolve
// to LabelA so the fallback guess is deterministic.
func (r ClassificationResult) PredictedLabel() Label {
	if r.ConfidenceB > r.ConfidenceA {
		return LabelB
	}
	return LabelA
}

// Confidence returns the winning class confidence.
func (r ClassificationResult) Confidence() float32 {
	if r.ConfidenceB > r.ConfidenceA {
		return r.ConfidenceB
	}
	return r.ConfidenceA
}

// IsFallback reports whether the result carries no more signal than the
// canned fallback guess.
func (r ClassificationResult) IsFallback() bool {
	return r.Confidence() <= FallbackConfidence
}

package game

import "github.com/jayvicsanantonio/cogni-critter/pkg/types"

// Accuracy thresholds for the aggregate mood on the results screen.
const (
	happyAccuracy    = 0.8
	confusedAccuracy = 0.4
)

// IsReadyForTraining reports whether the teaching set is large enough and
// contains at least one example of each label. A classifier cannot be fit
// with a single class, so label presence is checked alongside the count.
func (m *Machine) IsReadyForTraining(s State) bool {
	if s.Phase != PhaseTeaching {
		return false
	}
	if len(s.TrainingData) < m.cfg.MinTeachingExamples {
		return false
	}
	var hasA, hasB bool
	for _, ex := range s.TrainingData {
		switch ex.UserLabel {
		case types.LabelA:
			hasA = true
		case types.LabelB:
			hasB = true
		}
	}
	return hasA && hasB
}

// CalculateAccuracy returns the fraction of correct results. An empty
// result set counts as zero accuracy.
func CalculateAccuracy(results []types.TestResult) float64 {
	if len(results) == 0 {
		return 0
	}
	correct := 0
	for _, r := range results {
		if r.IsCorrect {
			correct++
		}
	}
	return float64(correct) / float64(len(results))
}

// MoodFromAccuracy derives the critter's aggregate mood for the results
// summary.
func MoodFromAccuracy(accuracy float64) types.Mood {
	switch {
	case accuracy >= happyAccuracy:
		return types.MoodHappy
	case accuracy < confusedAccuracy:
		return types.MoodConfused
	default:
		return types.MoodIdle
	}
}

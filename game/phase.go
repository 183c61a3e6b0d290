package game

// Phase is a named stage of the guided session. Transitions between phases
// are restricted to the edges in validTransitions; everything else is a
// logged no-op.
type Phase string

const (
	PhaseInitializing   Phase = "INITIALIZING"
	PhaseLoadingModel   Phase = "LOADING_MODEL"
	PhaseTeaching       Phase = "TEACHING_PHASE"
	PhaseTrainingModel  Phase = "TRAINING_MODEL"
	PhaseTesting        Phase = "TESTING_PHASE"
	PhaseResultsSummary Phase = "RESULTS_SUMMARY"
)

func (p Phase) String() string {
	return string(p)
}

// validTransitions is the complete set of legal phase edges. The
// RESULTS_SUMMARY -> TEACHING_PHASE edge is the restart path.
var validTransitions = map[Phase][]Phase{
	PhaseInitializing:   {PhaseLoadingModel},
	PhaseLoadingModel:   {PhaseTeaching},
	PhaseTeaching:       {PhaseTrainingModel},
	PhaseTrainingModel:  {PhaseTesting},
	PhaseTesting:        {PhaseResultsSummary},
	PhaseResultsSummary: {PhaseTeaching},
}

// IsValidTransition reports whether moving from one phase to another is a
// legal edge of the session flow.
func IsValidTransition(from, to Phase) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package game

import "github.com/jayvicsanantonio/cogni-critter/pkg/types"

// Action is the sealed set of events the reducer understands. All mutation
// of game state happens by dispatching one of these; async work (model
// loading, training, prediction) is performed by callers that dispatch the
// outcome back in.
type Action interface {
	isAction()
}

// InitializeGame resets the session to a pristine state. Only meaningful
// before the model starts loading.
type InitializeGame struct{}

// StartModelLoading moves the session into LOADING_MODEL.
type StartModelLoading struct{}

// ModelLoaded records that the embedding model is ready and opens the
// teaching phase.
type ModelLoaded struct{}

// AddTrainingExample appends one user-sorted image to the teaching set.
// Reaching the configured maximum forces the transition into training.
type AddTrainingExample struct {
	Example types.TrainingExample
}

// StartTraining requests the teaching -> training transition. It is only
// honored once the teaching set is large enough and contains both labels.
type StartTraining struct{}

// TrainingCompleted records a successful training run.
type TrainingCompleted struct{}

// TrainingFailed records a failed training run. The phase does not move;
// the caller is expected to surface a retry to the user.
type TrainingFailed struct {
	Reason string
}

// StartTestingPhase opens the testing phase once a trained classifier
// exists.
type StartTestingPhase struct{}

// StartPrediction marks a prediction as in flight so the critter can think.
type StartPrediction struct{}

// AddTestResult appends the outcome of one test image. Reaching the
// configured testing count forces the transition to the results summary.
type AddTestResult struct {
	Result types.TestResult
}

// ShowResults moves from testing to the results summary.
type ShowResults struct{}

// RestartGame starts a fresh round from the results screen, clearing all
// per-round data.
type RestartGame struct{}

func (InitializeGame) isAction()     {}
func (StartModelLoading) isAction()  {}
func (ModelLoaded) isAction()        {}
func (AddTrainingExample) isAction() {}
func (StartTraining) isAction()      {}
func (TrainingCompleted) isAction()  {}
func (TrainingFailed) isAction()     {}
func (StartTestingPhase) isAction()  {}
func (StartPrediction) isAction()    {}
func (AddTestResult) isAction()      {}
func (ShowResults) isAction()        {}
func (RestartGame) isAction()        {}

// name returns a stable identifier for logging rejected actions.
func name(a Action) string {
	switch a.(type) {
	case InitializeGame:
		return "initializeGame"
	case StartModelLoading:
		return "startModelLoading"
	case ModelLoaded:
		return "modelLoaded"
	case AddTrainingExample:
		return "addTrainingExample"
	case StartTraining:
		return "startTrainingModel"
	case TrainingCompleted:
		return "trainingCompleted"
	case TrainingFailed:
		return "trainingFailed"
	case StartTestingPhase:
		return "startTestingPhase"
	case StartPrediction:
		return "startPrediction"
	case AddTestResult:
		return "addTestResult"
	case ShowResults:
		return "showResults"
	case RestartGame:
		return "restartGame"
	default:
		return "unknown"
	}
}

package training

import (
	"fmt"
	"time"
)

// InsufficientDataError reports a teaching set that cannot fit a two-class
// head: fewer than two examples, or one of the labels entirely absent. The
// condition is recoverable; the caller should collect more examples.
type InsufficientDataError struct {
	Total  int
	CountA int
	CountB int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: %d examples (%d A, %d B); need at least 2 with both labels present",
		e.Total, e.CountA, e.CountB)
}

// TrainingTimeoutError reports a training run that exceeded its ceiling.
// Fatal to that attempt only; retrying is allowed.
type TrainingTimeoutError struct {
	Elapsed time.Duration
	Epoch   int
}

func (e *TrainingTimeoutError) Error() string {
	return fmt.Sprintf("training timed out after %v at epoch %d", e.Elapsed, e.Epoch)
}

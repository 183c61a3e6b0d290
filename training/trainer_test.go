package training_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jayvicsanantonio/cogni-critter/pkg/testutil"
	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
	"github.com/jayvicsanantonio/cogni-critter/tensor"
	"github.com/jayvicsanantonio/cogni-critter/training"
)

func testImages() testutil.MemSource {
	return testutil.MemSource{
		"red1.png":  testutil.Red(),
		"red2.png":  testutil.Red(),
		"blue1.png": testutil.Blue(),
		"blue2.png": testutil.Blue(),
	}
}

func examples(refs map[string]types.Label) []types.TrainingExample {
	out := make([]types.TrainingExample, 0, len(refs))
	for ref, label := range refs {
		out = append(out, types.NewTrainingExample(ref, label))
	}
	return out
}

func TestTrainRejectsSingleLabelSet(t *testing.T) {
	mgr := tensor.NewManager()
	tr := training.NewTrainer(&testutil.MockExtractor{}, testImages(), mgr, training.Config{}, nil)

	_, err := tr.Train(context.Background(), examples(map[string]types.Label{
		"red1.png": types.LabelA,
		"red2.png": types.LabelA,
	}))

	var dataErr *training.InsufficientDataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("err = %v, want *InsufficientDataError", err)
	}
	if dataErr.CountA != 2 || dataErr.CountB != 0 {
		t.Fatalf("counts = %d/%d, want 2/0", dataErr.CountA, dataErr.CountB)
	}
	if mgr.AllocationCount() != 0 {
		t.Fatalf("failed training leaked %d allocations", mgr.AllocationCount())
	}
}

func TestTrainRejectsEmptySet(t *testing.T) {
	tr := training.NewTrainer(&testutil.MockExtractor{}, testImages(), tensor.NewManager(), training.Config{}, nil)
	var dataErr *training.InsufficientDataError
	if _, err := tr.Train(context.Background(), nil); !errors.As(err, &dataErr) {
		t.Fatalf("err = %v, want *InsufficientDataError", err)
	}
}

func TestTrainSeparatesClasses(t *testing.T) {
	mgr := tensor.NewManager()
	tr := training.NewTrainer(&testutil.MockExtractor{}, testImages(), mgr, training.Config{}, nil)
	defer tr.Release()

	clf, err := tr.Train(context.Background(), examples(map[string]types.Label{
		"red1.png":  types.LabelA,
		"red2.png":  types.LabelA,
		"blue1.png": types.LabelB,
		"blue2.png": types.LabelB,
	}))
	if err != nil {
		t.Fatal(err)
	}

	redVec := testutil.MeanRGB(testutil.Red())
	res, err := clf.Classify(redVec)
	if err != nil {
		t.Fatal(err)
	}
	if res.PredictedLabel() != types.LabelA || res.ConfidenceA <= 0.5 {
		t.Fatalf("red image: %+v, want label A above 0.5", res)
	}
	if sum := res.ConfidenceA + res.ConfidenceB; sum < 0.999 || sum > 1.001 {
		t.Fatalf("confidences sum to %v, want 1", sum)
	}

	blueVec := testutil.MeanRGB(testutil.Blue())
	res, err = clf.Classify(blueVec)
	if err != nil {
		t.Fatal(err)
	}
	if res.PredictedLabel() != types.LabelB || res.ConfidenceB <= 0.5 {
		t.Fatalf("blue image: %+v, want label B above 0.5", res)
	}
}

func TestTrainTimesOut(t *testing.T) {
	mgr := tensor.NewManager()
	slow := &testutil.MockExtractor{Delay: 200 * time.Millisecond}
	tr := training.NewTrainer(slow, testImages(), mgr, training.Config{Timeout: 30 * time.Millisecond}, nil)

	_, err := tr.Train(context.Background(), examples(map[string]types.Label{
		"red1.png":  types.LabelA,
		"blue1.png": types.LabelB,
	}))

	var toErr *training.TrainingTimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("err = %v, want *TrainingTimeoutError", err)
	}
	if toErr.Elapsed <= 0 {
		t.Fatalf("elapsed = %v, want positive", toErr.Elapsed)
	}
	if mgr.AllocationCount() != 0 {
		t.Fatalf("timed-out training leaked %d allocations", mgr.AllocationCount())
	}
}

func TestTrainCanceledIsNotTimeout(t *testing.T) {
	mgr := tensor.NewManager()
	slow := &testutil.MockExtractor{Delay: 500 * time.Millisecond}
	tr := training.NewTrainer(slow, testImages(), mgr, training.Config{Timeout: 10 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := tr.Train(ctx, examples(map[string]types.Label{
		"red1.png":  types.LabelA,
		"blue1.png": types.LabelB,
	}))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want the cancellation to pass through", err)
	}
	var toErr *training.TrainingTimeoutError
	if errors.As(err, &toErr) {
		t.Fatalf("caller cancellation mislabeled as a timeout: %v", err)
	}
	if mgr.AllocationCount() != 0 {
		t.Fatalf("canceled training leaked %d allocations", mgr.AllocationCount())
	}
}

func TestRetrainReleasesPreviousClassifier(t *testing.T) {
	mgr := tensor.NewManager()
	tr := training.NewTrainer(&testutil.MockExtractor{}, testImages(), mgr, training.Config{}, nil)
	defer tr.Release()

	set := examples(map[string]types.Label{
		"red1.png":  types.LabelA,
		"blue1.png": types.LabelB,
	})

	first, err := tr.Train(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if got := mgr.AllocationCount(); got != 1 {
		t.Fatalf("after first train count = %d, want 1 (the weights)", got)
	}

	second, err := tr.Train(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if got := mgr.AllocationCount(); got != 1 {
		t.Fatalf("after retrain count = %d, want 1", got)
	}

	if _, err := first.Classify(testutil.MeanRGB(testutil.Red())); err == nil {
		t.Fatal("first classifier must be invalidated by the retrain")
	}
	if _, err := second.Classify(testutil.MeanRGB(testutil.Red())); err != nil {
		t.Fatalf("second classifier must stay usable: %v", err)
	}
}

func TestReleaseReturnsToBaseline(t *testing.T) {
	mgr := tensor.NewManager()
	tr := training.NewTrainer(&testutil.MockExtractor{}, testImages(), mgr, training.Config{}, nil)

	if _, err := tr.Train(context.Background(), examples(map[string]types.Label{
		"red1.png":  types.LabelA,
		"blue1.png": types.LabelB,
	})); err != nil {
		t.Fatal(err)
	}

	tr.Release()
	tr.Release() // idempotent
	if got := mgr.AllocationCount(); got != 0 {
		t.Fatalf("count after release = %d, want 0", got)
	}
}

func TestClassifyRejectsWrongDim(t *testing.T) {
	tr := training.NewTrainer(&testutil.MockExtractor{}, testImages(), tensor.NewManager(), training.Config{}, nil)
	defer tr.Release()

	clf, err := tr.Train(context.Background(), examples(map[string]types.Label{
		"red1.png":  types.LabelA,
		"blue1.png": types.LabelB,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := clf.Classify(make([]float32, 7)); err == nil {
		t.Fatal("expected dim mismatch error")
	}
}

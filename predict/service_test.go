package predict_test

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/jayvicsanantonio/cogni-critter/pkg/testutil"
	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
	"github.com/jayvicsanantonio/cogni-critter/predict"
	"github.com/jayvicsanantonio/cogni-critter/tensor"
	"github.com/jayvicsanantonio/cogni-critter/training"
)

func trainedClassifier(t *testing.T, mgr *tensor.Manager) *training.TrainedClassifier {
	t.Helper()
	tr := training.NewTrainer(&testutil.MockExtractor{}, testutil.MemSource{
		"red.png":  testutil.Red(),
		"blue.png": testutil.Blue(),
	}, mgr, training.Config{}, nil)

	clf, err := tr.Train(context.Background(), []types.TrainingExample{
		types.NewTrainingExample("red.png", types.LabelA),
		types.NewTrainingExample("blue.png", types.LabelB),
	})
	if err != nil {
		t.Fatal(err)
	}
	return clf
}

func TestPredictClassifies(t *testing.T) {
	mgr := tensor.NewManager()
	svc := predict.NewService(&testutil.MockExtractor{}, predict.Config{}, nil)
	svc.SetClassifier(trainedClassifier(t, mgr))
	defer svc.Release()

	res := svc.Predict(context.Background(), testutil.Red())
	if res.PredictedLabel() != types.LabelA || res.IsFallback() {
		t.Fatalf("red image: %+v, want a real label A prediction", res)
	}

	res = svc.Predict(context.Background(), testutil.Blue())
	if res.PredictedLabel() != types.LabelB {
		t.Fatalf("blue image: %+v, want label B", res)
	}
}

func TestPredictTimesOutIntoFallback(t *testing.T) {
	mgr := tensor.NewManager()
	slow := &testutil.MockExtractor{Delay: 500 * time.Millisecond}
	svc := predict.NewService(slow, predict.Config{Timeout: 50 * time.Millisecond}, nil)
	svc.SetClassifier(trainedClassifier(t, mgr))
	defer svc.Release()

	start := time.Now()
	res := svc.Predict(context.Background(), testutil.Red())
	elapsed := time.Since(start)

	if !res.IsFallback() {
		t.Fatalf("slow prediction must resolve to fallback, got %+v", res)
	}
	if res.ConfidenceA != types.FallbackConfidence || res.ConfidenceB != types.FallbackConfidence {
		t.Fatalf("fallback confidences = %v/%v", res.ConfidenceA, res.ConfidenceB)
	}
	if elapsed > 300*time.Millisecond {
		t.Fatalf("fallback took %v, must resolve near the timeout", elapsed)
	}
}

func TestPredictWithoutClassifierFallsBack(t *testing.T) {
	svc := predict.NewService(&testutil.MockExtractor{}, predict.Config{}, nil)
	res := svc.Predict(context.Background(), testutil.Red())
	if !res.IsFallback() {
		t.Fatalf("no classifier must mean fallback, got %+v", res)
	}
}

func TestPredictErrorFallsBack(t *testing.T) {
	mgr := tensor.NewManager()
	broken := &testutil.MockExtractor{
		EmbedFunc: func(context.Context, image.Image) ([]float32, error) {
			return nil, errors.New("runtime exploded")
		},
	}
	svc := predict.NewService(broken, predict.Config{}, nil)
	svc.SetClassifier(trainedClassifier(t, mgr))
	defer svc.Release()

	res := svc.Predict(context.Background(), testutil.Red())
	if !res.IsFallback() {
		t.Fatalf("extractor error must mean fallback, got %+v", res)
	}
}

func TestPredictCanceledContextFallsBack(t *testing.T) {
	mgr := tensor.NewManager()
	slow := &testutil.MockExtractor{Delay: time.Second}
	svc := predict.NewService(slow, predict.Config{Timeout: 5 * time.Second}, nil)
	svc.SetClassifier(trainedClassifier(t, mgr))
	defer svc.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := svc.Predict(ctx, testutil.Red())
	if !res.IsFallback() {
		t.Fatalf("canceled prediction must mean fallback, got %+v", res)
	}
}

func TestLateCompletionReleasesBuffers(t *testing.T) {
	mgr := tensor.NewManager()
	slow := &testutil.MockExtractor{Delay: 80 * time.Millisecond}
	svc := predict.NewService(slow, predict.Config{Timeout: 20 * time.Millisecond}, nil)
	svc.SetClassifier(trainedClassifier(t, mgr))

	res := svc.Predict(context.Background(), testutil.Red())
	if !res.IsFallback() {
		t.Fatalf("expected fallback, got %+v", res)
	}

	// Let the abandoned goroutine finish, then check nothing leaked beyond
	// the installed classifier's weights.
	time.Sleep(200 * time.Millisecond)
	if got := mgr.AllocationCount(); got != 1 {
		t.Fatalf("allocation count = %d, want 1 (classifier weights only)", got)
	}

	svc.Release()
	if got := mgr.AllocationCount(); got != 0 {
		t.Fatalf("after release count = %d, want 0", got)
	}
}

func TestSetClassifierReleasesPrevious(t *testing.T) {
	mgr := tensor.NewManager()
	svc := predict.NewService(&testutil.MockExtractor{}, predict.Config{}, nil)

	first := trainedClassifier(t, mgr)
	svc.SetClassifier(first)

	// Training a second head through the same trainer would release the
	// first; install a fresh one built independently.
	second := trainedClassifier(t, mgr)
	svc.SetClassifier(second)

	if _, err := first.Classify(testutil.MeanRGB(testutil.Red())); err == nil {
		t.Fatal("replaced classifier must be released")
	}
	if !svc.HasClassifier() {
		t.Fatal("service should hold the new classifier")
	}

	svc.Release()
	if svc.HasClassifier() {
		t.Fatal("release must drop the classifier")
	}
	if got := mgr.AllocationCount(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}

func TestTestImageRecordsLatencyAndCorrectness(t *testing.T) {
	mgr := tensor.NewManager()
	svc := predict.NewService(&testutil.MockExtractor{}, predict.Config{}, nil)
	svc.SetClassifier(trainedClassifier(t, mgr))
	defer svc.Release()

	result := svc.TestImage(context.Background(), "red.png", testutil.Red(), types.LabelA)
	if !result.IsCorrect || result.PredictedLabel != types.LabelA {
		t.Fatalf("result = %+v, want a correct label A", result)
	}
	if result.PredictionLatency < 0 {
		t.Fatalf("latency = %v", result.PredictionLatency)
	}
	if result.ImageRef != "red.png" || result.TrueLabel != types.LabelA {
		t.Fatalf("result metadata = %+v", result)
	}
}

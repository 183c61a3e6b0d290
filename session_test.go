package cognicritter_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	cognicritter "github.com/jayvicsanantonio/cogni-critter"
	"github.com/jayvicsanantonio/cogni-critter/embedding"
	"github.com/jayvicsanantonio/cogni-critter/game"
	"github.com/jayvicsanantonio/cogni-critter/internal/retry"
	"github.com/jayvicsanantonio/cogni-critter/pkg/testutil"
	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
	"github.com/jayvicsanantonio/cogni-critter/store"
	"github.com/jayvicsanantonio/cogni-critter/tensor"
)

func sessionConfig(t *testing.T) cognicritter.Config {
	t.Helper()
	return cognicritter.Config{
		Game: game.Config{
			MinTeachingExamples: 2,
			MaxTeachingExamples: 4,
			TestingImageCount:   2,
		},
		Extractor: &testutil.MockExtractor{},
		Images: testutil.MemSource{
			"red1.png":  testutil.Red(),
			"red2.png":  testutil.Red(),
			"blue1.png": testutil.Blue(),
			"blue2.png": testutil.Blue(),
		},
		Manager: tensor.NewManager(),
	}
}

func startedSession(t *testing.T, cfg cognicritter.Config) *cognicritter.Session {
	t.Helper()
	s, err := cognicritter.NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSessionFullRound(t *testing.T) {
	cfg := sessionConfig(t)

	db, err := store.Open(filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	cfg.Store = db

	s := startedSession(t, cfg)
	if got := s.State().Phase; got != game.PhaseTeaching {
		t.Fatalf("after start phase = %s, want teaching", got)
	}

	s.Teach("red1.png", types.LabelA)
	st := s.Teach("blue1.png", types.LabelB)
	if len(st.TrainingData) != 2 {
		t.Fatalf("teaching set = %d, want 2", len(st.TrainingData))
	}

	if err := s.TrainModel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.State().ModelTrained {
		t.Fatal("model should be trained")
	}

	if got := s.BeginTesting().Phase; got != game.PhaseTesting {
		t.Fatalf("phase = %s, want testing", got)
	}

	r1, err := s.Test(context.Background(), "red2.png", types.LabelA)
	if err != nil {
		t.Fatal(err)
	}
	if !r1.IsCorrect {
		t.Fatalf("red test result = %+v, want correct", r1)
	}
	r2, err := s.Test(context.Background(), "blue2.png", types.LabelB)
	if err != nil {
		t.Fatal(err)
	}
	if !r2.IsCorrect {
		t.Fatalf("blue test result = %+v, want correct", r2)
	}

	st = s.State()
	if st.Phase != game.PhaseResultsSummary {
		t.Fatalf("after %d results phase = %s, want results", len(st.TestResults), st.Phase)
	}
	if st.Score != 2 {
		t.Fatalf("score = %d, want 2", st.Score)
	}

	best, err := s.BestScore()
	if err != nil {
		t.Fatal(err)
	}
	if best != 2 {
		t.Fatalf("recorded best = %d, want 2", best)
	}
}

func TestSessionRestartKeepsModelLoaded(t *testing.T) {
	s := startedSession(t, sessionConfig(t))

	s.Teach("red1.png", types.LabelA)
	s.Teach("blue1.png", types.LabelB)
	if err := s.TrainModel(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.BeginTesting()
	if _, err := s.Test(context.Background(), "red2.png", types.LabelA); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Test(context.Background(), "blue2.png", types.LabelB); err != nil {
		t.Fatal(err)
	}

	st := s.Restart()
	if st.Phase != game.PhaseTeaching {
		t.Fatalf("after restart phase = %s, want teaching", st.Phase)
	}
	if len(st.TrainingData) != 0 || st.Score != 0 || st.ModelTrained {
		t.Fatalf("restart left round data: %+v", st)
	}

	// The loaded model survives: a new round trains without reloading.
	s.Teach("red1.png", types.LabelA)
	s.Teach("blue1.png", types.LabelB)
	if err := s.TrainModel(context.Background()); err != nil {
		t.Fatalf("second round training failed: %v", err)
	}
}

func TestSessionTrainRejectedWithoutBothLabels(t *testing.T) {
	s := startedSession(t, sessionConfig(t))

	s.Teach("red1.png", types.LabelA)
	s.Teach("red2.png", types.LabelA)

	if err := s.TrainModel(context.Background()); err == nil {
		t.Fatal("training must be rejected with a single label")
	}
	if got := s.State().Phase; got != game.PhaseTeaching {
		t.Fatalf("phase = %s, must stay teaching", got)
	}
}

func TestSessionTrainingFailureRecorded(t *testing.T) {
	cfg := sessionConfig(t)
	cfg.Extractor = &testutil.MockExtractor{Delay: time.Second}
	cfg.Trainer.Timeout = 30 * time.Millisecond

	s := startedSession(t, cfg)
	s.Teach("red1.png", types.LabelA)
	s.Teach("blue1.png", types.LabelB)

	if err := s.TrainModel(context.Background()); err == nil {
		t.Fatal("expected a timeout failure")
	}
	st := s.State()
	if st.Phase != game.PhaseTrainingModel {
		t.Fatalf("phase = %s, failure must not advance", st.Phase)
	}
	if st.LastError == "" || st.CritterMood != types.MoodConfused {
		t.Fatalf("failure not recorded: %+v", st)
	}
}

func TestSessionStartSurfacesModelLoadError(t *testing.T) {
	cfg := sessionConfig(t)
	cfg.Extractor = nil
	cfg.Loader = embedding.LoaderConfig{
		LocalPath: filepath.Join(t.TempDir(), "missing.onnx"),
		Retry:     retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}

	s, err := cognicritter.NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	err = s.Start(context.Background())
	var mlErr *embedding.ModelLoadError
	if !errors.As(err, &mlErr) {
		t.Fatalf("err = %T (%v), want *ModelLoadError", err, err)
	}
	if got := s.State().Phase; got != game.PhaseLoadingModel {
		t.Fatalf("phase = %s, failed load must stay in loading", got)
	}

	// Recovery is caller-driven: another Start attempt is allowed instead of
	// an automatic retry loop.
	err = s.Start(context.Background())
	if !errors.As(err, &mlErr) {
		t.Fatalf("second attempt err = %T (%v), want *ModelLoadError", err, err)
	}
}

func TestSnapshotCarriesNormalizedClassNames(t *testing.T) {
	cfg := sessionConfig(t)
	cfg.ClassNameA = "Cafe\u0301s" // decomposed accent, as pasted input often arrives
	cfg.ClassNameB = "oranges"

	s := startedSession(t, cfg)
	snap := s.Snapshot()
	if snap.ClassNameA != "Caf\u00e9s" {
		t.Fatalf("class name A = %q, want the NFC-composed form", snap.ClassNameA)
	}
	if snap.ClassNameB != "oranges" {
		t.Fatalf("class name B = %q", snap.ClassNameB)
	}
	if snap.Phase != game.PhaseTeaching {
		t.Fatalf("snapshot phase = %s, must mirror the state", snap.Phase)
	}
}

func TestSnapshotDefaultsClassNames(t *testing.T) {
	s := startedSession(t, sessionConfig(t))
	snap := s.Snapshot()
	if snap.ClassNameA != "A" || snap.ClassNameB != "B" {
		t.Fatalf("default class names = %q/%q, want A/B", snap.ClassNameA, snap.ClassNameB)
	}
}

func TestSessionRequiresImageSource(t *testing.T) {
	if _, err := cognicritter.NewSession(cognicritter.Config{}); err == nil {
		t.Fatal("expected an error without an image source")
	}
}

func TestSessionCloseReturnsAllocationsToBaseline(t *testing.T) {
	cfg := sessionConfig(t)
	mgr := cfg.Manager

	s := startedSession(t, cfg)
	s.Teach("red1.png", types.LabelA)
	s.Teach("blue1.png", types.LabelB)
	if err := s.TrainModel(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if got := mgr.AllocationCount(); got != 0 {
		t.Fatalf("allocations after close = %d, want 0", got)
	}
}

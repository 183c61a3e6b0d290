// Package cognicritter wires the adaptive on-device classification pipeline:
// a frozen pretrained embedding extractor, a small trainable head fitted
// from user-labeled examples, a timeout-bounded prediction service, and the
// phase state machine that sequences teaching, training, testing, and
// results.
package cognicritter

import (
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/jayvicsanantonio/cogni-critter/embedding"
	"github.com/jayvicsanantonio/cogni-critter/game"
	"github.com/jayvicsanantonio/cogni-critter/monitor"
	"github.com/jayvicsanantonio/cogni-critter/predict"
	"github.com/jayvicsanantonio/cogni-critter/store"
	"github.com/jayvicsanantonio/cogni-critter/tensor"
	"github.com/jayvicsanantonio/cogni-critter/training"
)

// Config holds configuration for a Session. Service fields are injectable
// for testing with fakes; nil fields fall back to defaults built from the
// sub-configs.
type Config struct {
	// Game tunes the phase state machine.
	Game game.Config `yaml:"game"`

	// Trainer tunes the classifier head fitting.
	Trainer training.Config `yaml:"trainer"`

	// Predict tunes the prediction time budget.
	Predict predict.Config `yaml:"predict"`

	// Loader resolves the embedding model source.
	Loader embedding.LoaderConfig `yaml:"loader"`

	// ClassNameA and ClassNameB are the user-facing names of the two
	// classes, e.g. "apples" and "oranges".
	ClassNameA string `yaml:"class_name_a"`
	ClassNameB string `yaml:"class_name_b"`

	// EmbeddingCacheSize bounds the embedding memoization cache. Zero means
	// the default size; negative disables caching.
	EmbeddingCacheSize int `yaml:"embedding_cache_size"`

	// Extractor overrides model loading entirely. If nil, the extractor is
	// resolved through Loader on Start.
	Extractor embedding.Extractor `yaml:"-"`

	// Images resolves image refs into decoded images. Required.
	Images embedding.ImageSource `yaml:"-"`

	// Store receives finished rounds. Optional; nil disables best-score
	// tracking.
	Store *store.Store `yaml:"-"`

	// Hub receives state snapshots for UI clients. Optional.
	Hub *monitor.Hub `yaml:"-"`

	// Manager tracks numeric allocations. If nil a fresh manager is used.
	Manager *tensor.Manager `yaml:"-"`

	// Logger defaults to a no-op logger.
	Logger *zap.Logger `yaml:"-"`
}

// applyDefaults fills in default values for unset config fields. Class
// names are NFC-normalized so they compare and hash consistently however
// the user typed them.
func (c *Config) applyDefaults() {
	c.Game.ApplyDefaults()
	if c.ClassNameA == "" {
		c.ClassNameA = "A"
	}
	if c.ClassNameB == "" {
		c.ClassNameB = "B"
	}
	c.ClassNameA = norm.NFC.String(c.ClassNameA)
	c.ClassNameB = norm.NFC.String(c.ClassNameB)
	if c.Manager == nil {
		c.Manager = tensor.NewManager()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	// The state machine and the services must agree on the budgets.
	if c.Predict.Timeout <= 0 {
		c.Predict.Timeout = c.Game.PredictionTimeout()
	}
	if c.Trainer.Timeout <= 0 {
		c.Trainer.Timeout = c.Game.TrainingTimeout()
	}
}

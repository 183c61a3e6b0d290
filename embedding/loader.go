package embedding

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jayvicsanantonio/cogni-critter/internal/retry"
	"github.com/jayvicsanantonio/cogni-critter/tensor"
)

// Resolution orders for model sources.
const (
	OrderLocalFirst  = "local-first"
	OrderRemoteFirst = "remote-first"
)

// LoaderConfig configures model source resolution.
type LoaderConfig struct {
	// LocalPath is the bundled model file. Tried first under local-first.
	LocalPath string `yaml:"local_path"`

	// RemoteURL is the fallback download location for the model blob.
	RemoteURL string `yaml:"remote_url"`

	// CacheDir receives downloaded model files.
	CacheDir string `yaml:"cache_dir"`

	// Order is local-first (default) or remote-first.
	Order string `yaml:"order"`

	// Retry bounds the attempts per source.
	Retry retry.Config `yaml:"-"`

	// Ort configures the runtime once a model file is resolved.
	Ort OrtConfig `yaml:"ort"`
}

func (c *LoaderConfig) applyDefaults() {
	if c.Order == "" {
		c.Order = OrderLocalFirst
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
}

// Attempt records one try against one source, for observability and for the
// failure chain inside ModelLoadError.
type Attempt struct {
	Source   string
	Attempt  int
	Duration time.Duration
	Err      error
}

// ModelLoadError reports that every configured source was exhausted. The
// session is unusable until a caller explicitly re-invokes Load; there is no
// automatic retry loop beyond the bounded per-source attempts.
type ModelLoadError struct {
	Attempts []Attempt
}

func (e *ModelLoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all model sources exhausted after %d attempts", len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			fmt.Fprintf(&b, "; %s#%d: %v", a.Source, a.Attempt+1, a.Err)
		}
	}
	return b.String()
}

// Unwrap exposes the underlying failures to errors.Is / errors.As.
func (e *ModelLoadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// openFunc builds an extractor from a resolved model file. Injectable so
// tests can avoid the real runtime.
type openFunc func(ctx context.Context, modelPath string) (Extractor, error)

// LoadStrategy resolves the embedding model from an ordered list of sources
// with bounded, linearly backed-off retries per source.
type LoadStrategy struct {
	cfg    LoaderConfig
	mgr    *tensor.Manager
	log    *zap.Logger
	open   openFunc
	client *http.Client
}

// NewLoadStrategy builds a strategy backed by the ONNX runtime.
func NewLoadStrategy(cfg LoaderConfig, mgr *tensor.Manager, log *zap.Logger) *LoadStrategy {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()
	s := &LoadStrategy{
		cfg:    cfg,
		mgr:    mgr,
		log:    log,
		client: &http.Client{},
	}
	s.open = func(ctx context.Context, modelPath string) (Extractor, error) {
		ort := cfg.Ort
		ort.ModelPath = modelPath
		return NewOrtExtractor(ort, mgr, log)
	}
	return s
}

type modelSource struct {
	name    string
	resolve func(ctx context.Context) (string, error)
}

// Load tries each source in the configured order and returns the first
// extractor that comes up. On total failure the returned error is a
// *ModelLoadError carrying every attempt.
func (s *LoadStrategy) Load(ctx context.Context) (Extractor, error) {
	sources := s.sources()
	if len(sources) == 0 {
		return nil, &ModelLoadError{Attempts: []Attempt{{Source: "config", Err: fmt.Errorf("no model sources configured")}}}
	}

	var attempts []Attempt
	for _, src := range sources {
		src := src
		observe := func(attempt int, elapsed time.Duration, err error) {
			attempts = append(attempts, Attempt{Source: src.name, Attempt: attempt, Duration: elapsed, Err: err})
			if err != nil {
				s.log.Warn("model source attempt failed",
					zap.String("source", src.name),
					zap.Int("attempt", attempt+1),
					zap.Duration("elapsed", elapsed),
					zap.Error(err))
			} else {
				s.log.Info("model source resolved",
					zap.String("source", src.name),
					zap.Int("attempt", attempt+1),
					zap.Duration("elapsed", elapsed))
			}
		}

		ext, err := retry.Do(ctx, s.cfg.Retry, observe, func(ctx context.Context) (Extractor, error) {
			path, err := src.resolve(ctx)
			if err != nil {
				return nil, err
			}
			return s.open(ctx, path)
		})
		if err == nil {
			return ext, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &ModelLoadError{Attempts: attempts}
}

func (s *LoadStrategy) sources() []modelSource {
	var local, remote *modelSource
	if s.cfg.LocalPath != "" {
		local = &modelSource{name: "local", resolve: s.resolveLocal}
	}
	if s.cfg.RemoteURL != "" {
		remote = &modelSource{name: "remote", resolve: s.resolveRemote}
	}

	ordered := make([]modelSource, 0, 2)
	if s.cfg.Order == OrderRemoteFirst {
		local, remote = remote, local
	}
	if local != nil {
		ordered = append(ordered, *local)
	}
	if remote != nil {
		ordered = append(ordered, *remote)
	}
	return ordered
}

func (s *LoadStrategy) resolveLocal(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.cfg.LocalPath); err != nil {
		return "", fmt.Errorf("bundled model: %w", err)
	}
	return s.cfg.LocalPath, nil
}

// resolveRemote downloads the model blob into the cache dir, reusing an
// earlier download when present.
func (s *LoadStrategy) resolveRemote(ctx context.Context) (string, error) {
	u, err := url.Parse(s.cfg.RemoteURL)
	if err != nil {
		return "", fmt.Errorf("remote model url: %w", err)
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" {
		name = "model.onnx"
	}

	cacheDir := s.cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "cogni-critter-models")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create model cache dir: %w", err)
	}
	dest := filepath.Join(cacheDir, name)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.RemoteURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download model: unexpected status %d", resp.StatusCode)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write model file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", err
	}
	return dest, nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	cognicritter "github.com/jayvicsanantonio/cogni-critter"
	"github.com/jayvicsanantonio/cogni-critter/embedding"
	"github.com/jayvicsanantonio/cogni-critter/game"
	"github.com/jayvicsanantonio/cogni-critter/internal/logging"
	"github.com/jayvicsanantonio/cogni-critter/monitor"
	"github.com/jayvicsanantonio/cogni-critter/pkg/types"
	"github.com/jayvicsanantonio/cogni-critter/predict"
	"github.com/jayvicsanantonio/cogni-critter/store"
	"github.com/jayvicsanantonio/cogni-critter/training"
)

type fileConfig struct {
	Game               game.Config            `yaml:"game"`
	Trainer            training.Config        `yaml:"trainer"`
	Predict            predict.Config         `yaml:"predict"`
	Loader             embedding.LoaderConfig `yaml:"loader"`
	ClassNameA         string                 `yaml:"class_name_a"`
	ClassNameB         string                 `yaml:"class_name_b"`
	EmbeddingCacheSize int                    `yaml:"embedding_cache_size"`

	Images struct {
		Dir string `yaml:"dir"`
	} `yaml:"images"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Listen string         `yaml:"listen"`
	Log    logging.Config `yaml:"log"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// A .env file is optional; environment variables win over the yaml file
	// for deploy-specific paths.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	applyEnvOverrides(cfg)

	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("open score store", zap.Error(err))
	}
	defer st.Close()

	hub := monitor.NewHub(logger)
	hub.Start()
	defer hub.Stop()

	session, err := cognicritter.NewSession(cognicritter.Config{
		Game:               cfg.Game,
		Trainer:            cfg.Trainer,
		Predict:            cfg.Predict,
		Loader:             cfg.Loader,
		ClassNameA:         cfg.ClassNameA,
		ClassNameB:         cfg.ClassNameB,
		EmbeddingCacheSize: cfg.EmbeddingCacheSize,
		Images:             embedding.DirSource{Root: cfg.Images.Dir},
		Store:              st,
		Hub:                hub,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal("build session", zap.Error(err))
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		var loadErr *embedding.ModelLoadError
		if errors.As(err, &loadErr) {
			logger.Fatal("all model sources exhausted",
				zap.Int("attempts", len(loadErr.Attempts)),
				zap.Error(err))
		}
		logger.Fatal("start session", zap.Error(err))
	}

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: routes(session, hub),
	}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shut down", zap.Error(err))
	}
}

func loadConfig(path string) (*fileConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg fileConfig
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8097"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "cogni-critter.db"
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *fileConfig) {
	if v := os.Getenv("COGNI_MODEL_PATH"); v != "" {
		cfg.Loader.LocalPath = v
	}
	if v := os.Getenv("COGNI_MODEL_URL"); v != "" {
		cfg.Loader.RemoteURL = v
	}
	if v := os.Getenv("COGNI_ORT_LIB"); v != "" {
		cfg.Loader.Ort.SharedLibraryPath = v
	}
	if v := os.Getenv("COGNI_IMAGES_DIR"); v != "" {
		cfg.Images.Dir = v
	}
}

// routes exposes the action interface to the UI process: teach, train,
// test, restart, plus state and the websocket snapshot feed.
func routes(session *cognicritter.Session, hub *monitor.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)

	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Snapshot())
	})

	mux.HandleFunc("POST /teach", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ImageRef string      `json:"image_ref"`
			Label    types.Label `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Label.Valid() {
			http.Error(w, "image_ref and label (A|B) required", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, session.Teach(req.ImageRef, req.Label))
	})

	mux.HandleFunc("POST /train", func(w http.ResponseWriter, r *http.Request) {
		if err := session.TrainModel(r.Context()); err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": err.Error(),
				"state": session.State(),
			})
			return
		}
		writeJSON(w, http.StatusOK, session.BeginTesting())
	})

	mux.HandleFunc("POST /test", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ImageRef  string      `json:"image_ref"`
			TrueLabel types.Label `json:"true_label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.TrueLabel.Valid() {
			http.Error(w, "image_ref and true_label (A|B) required", http.StatusBadRequest)
			return
		}
		result, err := session.Test(r.Context(), req.ImageRef, req.TrueLabel)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result": result,
			"state":  session.State(),
		})
	})

	mux.HandleFunc("POST /restart", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Restart())
	})

	mux.HandleFunc("GET /best", func(w http.ResponseWriter, r *http.Request) {
		best, err := session.BestScore()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"best_score": best})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

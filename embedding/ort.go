package embedding

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/jayvicsanantonio/cogni-critter/tensor"
)

// OrtConfig configures the ONNX runtime extractor.
type OrtConfig struct {
	// ModelPath is the .onnx file holding topology and weights.
	ModelPath string `yaml:"model_path"`

	// SharedLibraryPath points at the onnxruntime shared library when it is
	// not on the default search path.
	SharedLibraryPath string `yaml:"shared_library_path"`

	// Normalization maps pixels into the model's input range.
	Normalization Normalization `yaml:"normalization"`
}

var ortInitOnce sync.Once

// OrtExtractor runs a frozen ONNX image model. Input layout (NHWC vs NCHW)
// and embedding dimensionality are discovered from the model's metadata,
// never hard-coded.
type OrtExtractor struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	width      int
	height     int
	nchw       bool
	norm       Normalization
	modelID    string
	mgr        *tensor.Manager
	log        *zap.Logger

	mu  sync.Mutex
	dim int

	closeOnce sync.Once
	closeErr  error
}

// NewOrtExtractor loads the model at cfg.ModelPath and prepares a session.
func NewOrtExtractor(cfg OrtConfig, mgr *tensor.Manager, log *zap.Logger) (*OrtExtractor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if mgr == nil {
		mgr = tensor.NewManager()
	}

	var initErr error
	ortInitOnce.Do(func() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		if !ort.IsInitialized() {
			initErr = ort.InitializeEnvironment()
		}
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model metadata: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("unexpected model signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}

	width, height, nchw, err := resolveInputShape(inputs[0].Dimensions)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e := &OrtExtractor{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		width:      width,
		height:     height,
		nchw:       nchw,
		norm:       cfg.Normalization,
		modelID:    filepath.Base(cfg.ModelPath),
		mgr:        mgr,
		log:        log,
		dim:        staticEmbeddingDim(outputs[0].Dimensions),
	}
	log.Info("embedding model loaded",
		zap.String("model", e.modelID),
		zap.Int("input_width", width),
		zap.Int("input_height", height),
		zap.Bool("nchw", nchw),
		zap.Int("dim", e.dim))
	return e, nil
}

// resolveInputShape interprets the model input dimensions. Dynamic batch
// dims are pinned to 1; a channel axis of 3 decides the layout.
func resolveInputShape(dims ort.Shape) (width, height int, nchw bool, err error) {
	if len(dims) != 4 {
		return 0, 0, false, fmt.Errorf("expected rank-4 image input, got rank %d", len(dims))
	}
	switch {
	case dims[1] == 3:
		return int(dims[3]), int(dims[2]), true, nil
	case dims[3] == 3:
		return int(dims[2]), int(dims[1]), false, nil
	default:
		return 0, 0, false, fmt.Errorf("cannot locate channel axis in input shape %v", dims)
	}
}

// staticEmbeddingDim returns the output vector length when the model
// declares it statically, or 0 when it must be discovered at first run.
func staticEmbeddingDim(dims ort.Shape) int {
	if len(dims) == 0 {
		return 0
	}
	last := dims[len(dims)-1]
	if last > 0 {
		return int(last)
	}
	return 0
}

// Dim returns the embedding dimensionality. Zero until the first Embed call
// when the model declares a dynamic output shape.
func (e *OrtExtractor) Dim() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// ModelID returns the identifier used for cache keys.
func (e *OrtExtractor) ModelID() string {
	return e.modelID
}

// ortValue adapts an onnxruntime value to the tensor.Resource contract.
type ortValue struct {
	v ort.Value
}

func (o ortValue) Release() {
	_ = o.v.Destroy()
}

// Embed preprocesses the image and runs one inference pass. Every buffer
// and runtime tensor allocated along the way is scope-owned, so allocation
// counts return to baseline on exit regardless of outcome.
func (e *OrtExtractor) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	return tensor.WithScope(e.mgr, func(s *tensor.Scope) ([]float32, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf, err := preprocess(s, img, e.width, e.height, e.norm, e.nchw)
		if err != nil {
			return nil, err
		}

		shape := ort.NewShape(1, 3, int64(e.height), int64(e.width))
		if !e.nchw {
			shape = ort.NewShape(1, int64(e.height), int64(e.width), 3)
		}
		input, err := ort.NewTensor(shape, buf.Data())
		if err != nil {
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		s.Track(ortValue{input})

		outputs := []ort.Value{nil}
		if err := e.session.Run([]ort.Value{input}, outputs); err != nil {
			return nil, fmt.Errorf("run inference: %w", err)
		}
		s.Track(ortValue{outputs[0]})

		out, ok := outputs[0].(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
		}

		raw := out.GetData()
		e.mu.Lock()
		if e.dim == 0 {
			e.dim = len(raw)
			e.log.Info("embedding dimensionality discovered", zap.Int("dim", e.dim))
		}
		e.mu.Unlock()

		vec := make([]float32, len(raw))
		copy(vec, raw)
		return vec, nil
	})
}

// Close releases the runtime session. Safe to call more than once.
func (e *OrtExtractor) Close() error {
	e.closeOnce.Do(func() {
		if e.session != nil {
			e.closeErr = e.session.Destroy()
		}
	})
	return e.closeErr
}

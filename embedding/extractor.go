// Package embedding wraps a frozen pretrained image model behind the
// Extractor interface and resolves which copy of the model to load. The
// extractor is immutable once loaded: it holds weights and nothing else.
package embedding

import (
	"context"
	"fmt"
	"image"

	"github.com/nfnt/resize"

	"github.com/jayvicsanantonio/cogni-critter/tensor"
)

// Extractor converts a decoded image into a fixed-length embedding vector.
// Implementations are pure functions of their input beyond the loaded
// weights.
type Extractor interface {
	// Embed returns the embedding for one image. The returned slice is owned
	// by the caller.
	Embed(ctx context.Context, img image.Image) ([]float32, error)

	// Dim is the embedding dimensionality, discovered from the loaded model.
	Dim() int

	// ModelID identifies the loaded model for cache keys and logs.
	ModelID() string

	Close() error
}

// Normalization maps 8-bit channel values into the model's expected input
// range: out = (v/255 - Mean) / Std. The zero value leaves inputs in [0,1];
// MobileNet-style models want Mean 0.5, Std 0.5 for [-1,1].
type Normalization struct {
	Mean float32 `yaml:"mean"`
	Std  float32 `yaml:"std"`
}

func (n Normalization) applyDefaults() Normalization {
	if n.Std == 0 {
		n.Std = 1
	}
	return n
}

// preprocess resizes img to width x height and writes normalized float32
// pixels into a scope-owned buffer, in either NHWC or NCHW layout.
func preprocess(s *tensor.Scope, img image.Image, width, height int, norm Normalization, nchw bool) (*tensor.Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid input shape %dx%d", width, height)
	}
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)

	norm = norm.applyDefaults()
	buf := s.NewBuffer(width * height * 3)
	data := buf.Data()

	bounds := resized.Bounds()
	plane := width * height
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			// RGBA returns 16-bit channels.
			rf := (float32(r>>8)/255 - norm.Mean) / norm.Std
			gf := (float32(g>>8)/255 - norm.Mean) / norm.Std
			bf := (float32(b>>8)/255 - norm.Mean) / norm.Std
			if nchw {
				data[i] = rf
				data[plane+i] = gf
				data[2*plane+i] = bf
			} else {
				data[i*3] = rf
				data[i*3+1] = gf
				data[i*3+2] = bf
			}
			i++
		}
	}
	return buf, nil
}

// Package testutil holds shared fakes for pipeline tests. The fake
// extractor embeds an image as its mean RGB color, which gives tests a
// tiny, perfectly separable embedding space: solid red images cluster far
// from solid blue ones.
package testutil

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// MockExtractor is a fake embedding extractor for testing.
type MockExtractor struct {
	// EmbedFunc overrides the default mean-RGB embedding.
	EmbedFunc func(ctx context.Context, img image.Image) ([]float32, error)

	// Delay is applied before each Embed call, for timeout tests.
	Delay time.Duration

	mu        sync.Mutex
	CallCount int
}

func (m *MockExtractor) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, img)
	}
	return MeanRGB(img), nil
}

func (m *MockExtractor) Dim() int {
	return 3
}

func (m *MockExtractor) ModelID() string {
	return "mock-model"
}

func (m *MockExtractor) Close() error {
	return nil
}

// Calls returns how many times Embed ran.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MeanRGB embeds an image as its average color, scaled to [0,1].
func MeanRGB(img image.Image) []float32 {
	bounds := img.Bounds()
	var r, g, b uint64
	count := uint64(bounds.Dx() * bounds.Dy())
	if count == 0 {
		return []float32{0, 0, 0}
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r += uint64(pr >> 8)
			g += uint64(pg >> 8)
			b += uint64(pb >> 8)
		}
	}
	return []float32{
		float32(r) / float32(count) / 255,
		float32(g) / float32(count) / 255,
		float32(b) / float32(count) / 255,
	}
}

// Solid returns a w x h image filled with one color.
func Solid(c color.RGBA, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Red and Blue are the two ends of the synthetic embedding space.
func Red() *image.RGBA  { return Solid(color.RGBA{R: 230, G: 20, B: 10, A: 255}, 8, 8) }
func Blue() *image.RGBA { return Solid(color.RGBA{R: 10, G: 30, B: 235, A: 255}, 8, 8) }

// MemSource serves images from memory, keyed by ref.
type MemSource map[string]image.Image

func (m MemSource) Load(_ context.Context, ref string) (image.Image, error) {
	img, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("unknown image ref %q", ref)
	}
	return img, nil
}

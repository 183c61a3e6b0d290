package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the embedding cache. A round touches at most
// maxTeachingExamples + testingImageCount distinct images, so a small cache
// absorbs every re-train over the same teaching set.
const DefaultCacheSize = 64

// CachingExtractor memoizes embeddings keyed by image content and model
// identity. Re-training on an unchanged teaching set then costs no
// inference passes. Vectors are cloned on the way out so cache entries stay
// immutable.
type CachingExtractor struct {
	inner Extractor
	cache *lru.Cache[string, []float32]
}

// NewCachingExtractor wraps an extractor with an LRU of the given size.
func NewCachingExtractor(inner Extractor, size int) (*CachingExtractor, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachingExtractor{inner: inner, cache: cache}, nil
}

func (c *CachingExtractor) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	key := c.key(img)
	if vec, ok := c.cache.Get(key); ok {
		return cloneVector(vec), nil
	}
	vec, err := c.inner.Embed(ctx, img)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(vec))
	return vec, nil
}

func (c *CachingExtractor) Dim() int {
	return c.inner.Dim()
}

func (c *CachingExtractor) ModelID() string {
	return c.inner.ModelID()
}

func (c *CachingExtractor) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Len returns the number of cached embeddings.
func (c *CachingExtractor) Len() int {
	return c.cache.Len()
}

func (c *CachingExtractor) key(img image.Image) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.inner.ModelID())
	_, _ = io.WriteString(h, "|")
	hashImage(h, img)
	return hex.EncodeToString(h.Sum(nil))
}

// hashImage writes the image content into h. Common decoded formats expose
// their backing pixel slice directly; anything else goes through the slower
// generic path.
func hashImage(h io.Writer, img image.Image) {
	bounds := img.Bounds()
	_, _ = fmt.Fprintf(h, "%dx%d|", bounds.Dx(), bounds.Dy())

	switch im := img.(type) {
	case *image.RGBA:
		_, _ = h.Write(im.Pix)
	case *image.NRGBA:
		_, _ = h.Write(im.Pix)
	case *image.Gray:
		_, _ = h.Write(im.Pix)
	case *image.YCbCr:
		_, _ = h.Write(im.Y)
		_, _ = h.Write(im.Cb)
		_, _ = h.Write(im.Cr)
	default:
		var px [8]byte
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, a := img.At(x, y).RGBA()
				binary.LittleEndian.PutUint16(px[0:], uint16(r))
				binary.LittleEndian.PutUint16(px[2:], uint16(g))
				binary.LittleEndian.PutUint16(px[4:], uint16(b))
				binary.LittleEndian.PutUint16(px[6:], uint16(a))
				_, _ = h.Write(px[:])
			}
		}
	}
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

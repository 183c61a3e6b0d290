package embedding

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
)

// ImageSource resolves the image refs carried by training examples and test
// items into decoded images. The UI owns the assets; the pipeline only sees
// refs.
type ImageSource interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// DirSource serves images from a directory tree, with refs as relative
// paths.
type DirSource struct {
	Root string
}

func (d DirSource) Load(ctx context.Context, ref string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !filepath.IsLocal(ref) {
		return nil, fmt.Errorf("image ref %q escapes source root", ref)
	}
	f, err := os.Open(filepath.Join(d.Root, filepath.Clean(ref)))
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", ref, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %q: %w", ref, err)
	}
	return img, nil
}

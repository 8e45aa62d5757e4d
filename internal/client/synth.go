package client

import (
	"bytes"
	"fmt"
	"image"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/bmp"
)

// Gradient builds a width x height image that blends from one colour on the
// left edge to another on the right, in Lab space. Each row is shifted
// slightly toward black so the image also varies vertically.
func Gradient(width, height int, from, to colorful.Color) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	black := colorful.Color{}
	for x := 0; x < width; x++ {
		t := 0.0
		if width > 1 {
			t = float64(x) / float64(width-1)
		}
		col := from.BlendLab(to, t)
		for y := 0; y < height; y++ {
			shade := 0.0
			if height > 1 {
				shade = 0.5 * float64(y) / float64(height-1)
			}
			img.Set(x, y, col.BlendRgb(black, shade).Clamped())
		}
	}
	return img, nil
}

// GradientHex is Gradient with colours given as "#rrggbb".
func GradientHex(width, height int, from, to string) (*image.NRGBA, error) {
	a, err := colorful.Hex(from)
	if err != nil {
		return nil, fmt.Errorf("invalid colour %q: %w", from, err)
	}
	b, err := colorful.Hex(to)
	if err != nil {
		return nil, fmt.Errorf("invalid colour %q: %w", to, err)
	}
	return Gradient(width, height, a, b)
}

// EncodeBMP encodes img in the format the server returns images in.
func EncodeBMP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

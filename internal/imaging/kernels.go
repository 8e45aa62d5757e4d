package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

// ErrEmptyImage is returned by kernels given an image with no pixels.
var ErrEmptyImage = errors.New("image has no pixels")

// Kernel transforms a source image into a new image. Kernels never modify
// their input.
type Kernel func(src image.Image) (image.Image, error)

const (
	// blurSigma is the Gaussian standard deviation used by Blur.
	blurSigma = 1.5

	// sharpenSigma is the unsharp-mask standard deviation used by Sharpen.
	sharpenSigma = 1.0
)

// Sobel operators. sobelX responds to intensity changes along X, which are
// vertical edges; sobelY responds to changes along Y, horizontal edges.
var (
	sobelX = &convolution.Kernel{
		Matrix: []float64{
			-1, 0, 1,
			-2, 0, 2,
			-1, 0, 1,
		},
		Width:  3,
		Height: 3,
	}
	sobelY = &convolution.Kernel{
		Matrix: []float64{
			-1, -2, -1,
			0, 0, 0,
			1, 2, 1,
		},
		Width:  3,
		Height: 3,
	}
)

// Apply runs k on img and wraps the result. Empty inputs, nil results and
// panics inside the kernel are reported as errors.
func Apply(k Kernel, img *Image) (out *Image, err error) {
	src := img.Pixels()
	if src == nil || src.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("kernel panicked: %v", r)
		}
	}()

	result, err := k(src)
	if err != nil {
		return nil, err
	}
	if result == nil || result.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return NewImage(result), nil
}

// Rotate90CW rotates the image 90 degrees clockwise. The output is
// height x width of the input.
func Rotate90CW(src image.Image) (image.Image, error) {
	return imaging.Rotate270(src), nil
}

// Blur applies a Gaussian blur.
func Blur(src image.Image) (image.Image, error) {
	return imaging.Blur(src, blurSigma), nil
}

// Sharpen applies an unsharp mask.
func Sharpen(src image.Image) (image.Image, error) {
	return imaging.Sharpen(src, sharpenSigma), nil
}

// VerticalEdges highlights vertical edges as white on black.
func VerticalEdges(src image.Image) (image.Image, error) {
	return directionalEdges(src, sobelX), nil
}

// HorizontalEdges highlights horizontal edges as white on black.
func HorizontalEdges(src image.Image) (image.Image, error) {
	return directionalEdges(src, sobelY), nil
}

// directionalEdges computes |G| for one Sobel direction on the luminance of
// src. The convolution clamps negative responses to zero, so the operator is
// applied with both signs and the stronger response kept. The result is
// anchored at the origin.
func directionalEdges(src image.Image, k *convolution.Kernel) *image.Gray {
	gray := effect.Grayscale(imaging.Clone(src))
	opts := &convolution.Options{Bias: 0, Wrap: false, KeepAlpha: true}

	pos := convolution.Convolve(gray, k, opts)
	neg := convolution.Convolve(gray, negate(k), opts)

	width, height := gray.Bounds().Dx(), gray.Bounds().Dy()
	result := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			a := pos.RGBAAt(x, y).R
			b := neg.RGBAAt(x, y).R
			if b > a {
				a = b
			}
			result.SetGray(x, y, color.Gray{Y: a})
		}
	}
	return result
}

func negate(k *convolution.Kernel) *convolution.Kernel {
	m := make([]float64, len(k.Matrix))
	for i, v := range k.Matrix {
		m[i] = -v
	}
	return &convolution.Kernel{Matrix: m, Width: k.Width, Height: k.Height}
}

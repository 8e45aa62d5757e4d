package imaging

import (
	"image"
	"sync"
)

// Image is a decoded pixel buffer plus its encoded form, once known.
//
// The pixel buffer must not be modified after the Image is created.
type Image struct {
	pixels image.Image

	mu      sync.Mutex
	encoded []byte
}

// NewImage wraps a pixel buffer that has no encoded form yet.
func NewImage(pixels image.Image) *Image {
	return &Image{pixels: pixels}
}

// Pixels returns the decoded pixel buffer.
func (i *Image) Pixels() image.Image {
	return i.pixels
}

// Width returns the image width in pixels.
func (i *Image) Width() int {
	return i.pixels.Bounds().Dx()
}

// Height returns the image height in pixels.
func (i *Image) Height() int {
	return i.pixels.Bounds().Dy()
}

// bytes returns the cached encoding, producing it with enc on first use.
func (i *Image) bytes(enc func(image.Image) ([]byte, error)) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.encoded != nil {
		return i.encoded, nil
	}
	data, err := enc(i.pixels)
	if err != nil {
		return nil, err
	}
	i.encoded = data
	return data, nil
}

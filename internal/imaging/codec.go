package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder

	"golang.org/x/image/bmp"
)

// Codec converts between image payload bytes and Images.
type Codec interface {
	Decode(data []byte) (*Image, error)
	Encode(img *Image) ([]byte, error)
}

// BMPCodec decodes any registered format and encodes as BMP.
type BMPCodec struct{}

// Decode parses a payload into an Image that keeps data as its encoding.
//
// Supported inputs are BMP, PNG, JPEG and GIF. The format is detected from
// the payload contents.
func (BMPCodec) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("failed to decode image: empty payload")
	}

	pixels, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if pixels.Bounds().Empty() {
		return nil, fmt.Errorf("failed to decode image: %w", ErrEmptyImage)
	}

	img := NewImage(pixels)
	img.encoded = append([]byte(nil), data...)
	return img, nil
}

// Encode returns the payload form of img, encoding it as BMP on first use.
func (BMPCodec) Encode(img *Image) ([]byte, error) {
	return img.bytes(encodeBMP)
}

func encodeBMP(pixels image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, pixels); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

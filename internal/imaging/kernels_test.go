package imaging

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/anthonynsimon/bild/convolution"
)

// newSplitImage returns an image whose left half is black and right half white.
func newSplitImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < width/2 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func gray8(c color.Color) uint8 {
	return color.GrayModel.Convert(c).(color.Gray).Y
}

func TestRotate90CW(t *testing.T) {
	red := color.RGBA{255, 0, 0, 255}
	blue := color.RGBA{0, 0, 255, 255}

	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	out, err := Rotate90CW(src)
	if err != nil {
		t.Fatalf("Rotate90CW failed: %v", err)
	}

	if out.Bounds().Dx() != 1 || out.Bounds().Dy() != 2 {
		t.Fatalf("dimensions: got %dx%d, want 1x2", out.Bounds().Dx(), out.Bounds().Dy())
	}
	// the left column moves to the top row
	if r, _, b, _ := out.At(0, 0).RGBA(); r>>8 != 255 || b>>8 != 0 {
		t.Errorf("top pixel should be red, got r=%d b=%d", r>>8, b>>8)
	}
	if r, _, b, _ := out.At(0, 1).RGBA(); r>>8 != 0 || b>>8 != 255 {
		t.Errorf("bottom pixel should be blue, got r=%d b=%d", r>>8, b>>8)
	}
}

func TestBlurAndSharpen_PreserveSize(t *testing.T) {
	src := newSplitImage(16, 10)

	for name, k := range map[string]Kernel{"blur": Blur, "sharpen": Sharpen} {
		t.Run(name, func(t *testing.T) {
			out, err := k(src)
			if err != nil {
				t.Fatalf("%s failed: %v", name, err)
			}
			if out.Bounds().Dx() != 16 || out.Bounds().Dy() != 10 {
				t.Errorf("dimensions: got %dx%d, want 16x10", out.Bounds().Dx(), out.Bounds().Dy())
			}
		})
	}
}

func TestBlur_SoftensEdge(t *testing.T) {
	src := newSplitImage(16, 8)
	out, _ := Blur(src)

	// the last black column picks up light from its white neighbour
	if v := gray8(out.At(7, 4)); v == 0 {
		t.Error("blur left the edge pixel untouched")
	}
}

func TestVerticalEdges(t *testing.T) {
	src := newSplitImage(8, 8)
	out, err := VerticalEdges(src)
	if err != nil {
		t.Fatalf("VerticalEdges failed: %v", err)
	}

	if v := gray8(out.At(4, 4)); v == 0 {
		t.Error("expected a response on the black/white boundary")
	}
	if v := gray8(out.At(1, 4)); v != 0 {
		t.Errorf("expected no response in a flat region, got %d", v)
	}
}

func TestHorizontalEdges(t *testing.T) {
	src := newSplitImage(8, 8)
	out, err := HorizontalEdges(src)
	if err != nil {
		t.Fatalf("HorizontalEdges failed: %v", err)
	}

	// the boundary is vertical, so there is nothing to find in the interior
	for x := 1; x < 7; x++ {
		if v := gray8(out.At(x, 4)); v != 0 {
			t.Errorf("unexpected horizontal edge at (%d,4): %d", x, v)
		}
	}
}

func TestApply(t *testing.T) {
	img := NewImage(newSplitImage(4, 4))

	out, err := Apply(Rotate90CW, img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out == img {
		t.Error("Apply should return a new Image")
	}
	if img.Width() != 4 || img.Height() != 4 {
		t.Error("source image changed")
	}
}

func TestApply_Errors(t *testing.T) {
	img := NewImage(newSplitImage(4, 4))
	boom := errors.New("boom")

	tests := []struct {
		name string
		k    Kernel
		img  *Image
	}{
		{"kernel error", func(image.Image) (image.Image, error) { return nil, boom }, img},
		{"kernel panic", func(image.Image) (image.Image, error) { panic("bad kernel") }, img},
		{"nil result", func(image.Image) (image.Image, error) { return nil, nil }, img},
		{"empty input", Rotate90CW, NewImage(image.NewRGBA(image.Rect(0, 0, 0, 0)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(tt.k, tt.img)
			if err == nil {
				t.Fatal("Apply should fail")
			}
			if out != nil {
				t.Error("Apply should not return an image on failure")
			}
		})
	}
}

func TestSobelKernels_Shape(t *testing.T) {
	for name, k := range map[string]*convolution.Kernel{"sobelX": sobelX, "sobelY": sobelY} {
		if k.Width != 3 || k.Height != 3 || len(k.Matrix) != 9 {
			t.Errorf("%s: got %dx%d with %d entries, want 3x3", name, k.Width, k.Height, len(k.Matrix))
		}
		n := negate(k)
		if n.Width != k.Width || n.Height != k.Height {
			t.Errorf("%s: negate changed shape to %dx%d", name, n.Width, n.Height)
		}
		for i, v := range k.Matrix {
			if n.Matrix[i] != -v {
				t.Errorf("%s: negate[%d] = %v, want %v", name, i, n.Matrix[i], -v)
			}
		}
	}
}

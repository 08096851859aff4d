package field

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
)

// SliceImage renders the plane k = index of the grid. Negative values are
// blue, positive values red, brightness follows |value| / scale, and grid
// points within a tenth of the scale from zero are drawn white.
func SliceImage(g *Grid, index int, scale float32) (*image.RGBA, error) {
	r := g.Resolution
	if index < 0 || index >= r {
		return nil, fmt.Errorf("slice index %d out of range [0, %d)", index, r)
	}
	if scale <= 0 {
		lo, hi := g.Range()
		scale = float32(math.Max(math.Abs(float64(lo)), math.Abs(float64(hi))))
		if scale == 0 {
			scale = 1
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, r, r))
	for i := 0; i < r; i++ {
		for j := 0; j < r; j++ {
			v := g.At(i, j, index)
			// y axis points up in the image
			img.Set(i, r-1-j, sliceColor(v, scale))
		}
	}
	return img, nil
}

func sliceColor(v, scale float32) color.RGBA {
	t := float64(v / scale)
	if math.Abs(t) < 0.1 {
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	mag := uint8(math.Min(1, math.Abs(t))*200) + 55
	if t < 0 {
		return color.RGBA{B: mag, A: 255}
	}
	return color.RGBA{R: mag, A: 255}
}

// WriteSlicePNG renders the middle z slice of g to path
func WriteSlicePNG(path string, g *Grid) error {
	img, err := SliceImage(g, g.Resolution/2, 0)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode slice image: %w", err)
	}
	return f.Close()
}

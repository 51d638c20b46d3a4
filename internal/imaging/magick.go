package imaging

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var magickOnce sync.Once

func initMagick() { magickOnce.Do(imagick.Initialize) }

// LoadMagick reads any format ImageMagick understands as intensity.
func LoadMagick(path string) (*Image, error) {
	initMagick()
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("failed to read image %s: %v", path, err)
	}
	width, height := mw.GetImageWidth(), mw.GetImageHeight()
	pixels, err := mw.ExportImagePixels(0, 0, width, height, "I", imagick.PIXEL_DOUBLE)
	if err != nil {
		return nil, fmt.Errorf("failed to export pixels from %s: %v", path, err)
	}

	var vals []float64
	switch v := pixels.(type) {
	case []float64:
		vals = v
	case []float32:
		vals = make([]float64, len(v))
		for i, f := range v {
			vals[i] = float64(f)
		}
	default:
		return nil, fmt.Errorf("unexpected pixel type: %T", pixels)
	}
	return FromPixels(int(width), int(height), vals)
}

// SaveMagick writes im normalized to 0..1 at 16 bits per sample.
func SaveMagick(path string, im *Image) error {
	initMagick()
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	lo, hi := im.MinMax()
	scale := 0.0
	if hi > lo {
		scale = 1 / (hi - lo)
	}
	norm := make([]float64, len(im.values))
	for i, v := range im.values {
		norm[i] = (v - lo) * scale
	}
	if err := mw.ConstituteImage(uint(im.Dx()), uint(im.Dy()), "I", imagick.PIXEL_DOUBLE, norm); err != nil {
		return fmt.Errorf("failed to create result image: %v", err)
	}
	if err := mw.SetImageDepth(16); err != nil {
		return fmt.Errorf("set depth: %v", err)
	}
	if err := mw.WriteImage(path); err != nil {
		return fmt.Errorf("failed to write result: %v", err)
	}
	return nil
}

package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// Load reads a single-channel frame from disk. TIFF and PNG are decoded
// natively; every other extension goes through ImageMagick.
func Load(path string) (*Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return decodeWith(path, tiff.Decode)
	case ".png":
		return decodeWith(path, png.Decode)
	default:
		return LoadMagick(path)
	}
}

func decodeWith(path string, decode func(io.Reader) (image.Image, error)) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open+r img '%s': %v", path, err)
	}
	defer f.Close()
	src, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding '%s': %w", path, err)
	}
	return FromImage(src), nil
}

// FromImage converts any image.Image to real-valued luminance.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := New(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(src.At(x, y)).(color.Gray16)
			out.Set(x-b.Min.X, y-b.Min.Y, float64(g.Y))
		}
	}
	return out
}

// ToGray16 rescales im linearly so that its range fills 0..65535.
func (im *Image) ToGray16() *image.Gray16 {
	out := image.NewGray16(im.Bounds())
	lo, hi := im.MinMax()
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}
	for y := 0; y < im.Dy(); y++ {
		for x := 0; x < im.Dx(); x++ {
			out.SetGray16(x, y, color.Gray16{Y: uint16(math.Round((im.At(x, y) - lo) * scale))})
		}
	}
	return out
}

// Save writes im as a 16-bit greyscale image; the format follows the
// extension, with anything other than TIFF or PNG handed to ImageMagick.
func Save(path string, im *Image) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".tif" && ext != ".tiff" && ext != ".png" {
		return SaveMagick(path, im)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open+w '%s': %v", path, err)
	}
	defer f.Close()

	g := im.ToGray16()
	if ext == ".png" {
		err = png.Encode(f, g)
	} else {
		err = tiff.Encode(f, g, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		return fmt.Errorf("encoding '%s': %w", path, err)
	}
	return f.Close()
}

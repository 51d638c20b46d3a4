package imaging

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Image is a 2D grid of real-valued pixels stored row-major.
type Image struct {
	stride int
	values []float64
}

// New returns a zero-filled image of the given size.
func New(w, h int) *Image {
	if w < 0 || h < 0 {
		panic(fmt.Sprintf("imaging: negative size %dx%d", w, h))
	}
	return &Image{stride: w, values: make([]float64, w*h)}
}

// FromPixels wraps pix (row-major, len w*h) without copying.
func FromPixels(w, h int, pix []float64) (*Image, error) {
	if w*h != len(pix) {
		return nil, fmt.Errorf("pixel count %d does not match %dx%d", len(pix), w, h)
	}
	return &Image{stride: w, values: pix}, nil
}

func (im *Image) Dx() int { return im.stride }

func (im *Image) Dy() int {
	if im.stride == 0 {
		return 0
	}
	return len(im.values) / im.stride
}

func (im *Image) Bounds() image.Rectangle { return image.Rect(0, 0, im.Dx(), im.Dy()) }
func (im *Image) At(x, y int) float64 { return im.values[im.stride*y+x] }
func (im *Image) Set(x, y int, v float64) { im.values[im.stride*y+x] = v }
func (im *Image) Pix() []float64 { return im.values }
func (im *Image) SameSize(other *Image) bool { return im.Dx() == other.Dx() && im.Dy() == other.Dy() }
func (im *Image) NewFromThis() *Image { return New(im.Dx(), im.Dy()) }
func (im *Image) String() string { return fmt.Sprintf("img[%dx%d]", im.Dx(), im.Dy()) }

// Copy returns a deep copy.
func (im *Image) Copy() *Image {
	out := &Image{stride: im.stride, values: make([]float64, len(im.values))}
	copy(out.values, im.values)
	return out
}

// Add adds other pixel-wise in place. Sizes must match.
func (im *Image) Add(other *Image) *Image {
	mustMatch(im, other)
	floats.Add(im.values, other.values)
	return im
}

// Sub subtracts other pixel-wise in place. Sizes must match.
func (im *Image) Sub(other *Image) *Image {
	mustMatch(im, other)
	floats.Sub(im.values, other.values)
	return im
}

// Mul multiplies by other pixel-wise in place. Sizes must match.
func (im *Image) Mul(other *Image) *Image {
	mustMatch(im, other)
	floats.Mul(im.values, other.values)
	return im
}

// Scale multiplies every pixel by f in place.
func (im *Image) Scale(f float64) *Image {
	floats.Scale(f, im.values)
	return im
}

func mustMatch(a, b *Image) {
	if !a.SameSize(b) {
		panic(fmt.Sprintf("imaging: size mismatch %s vs %s", a, b))
	}
}

// Sum returns the pixel-wise sum of imgs, or nil when imgs is empty.
func Sum(imgs []*Image) *Image {
	if len(imgs) == 0 {
		return nil
	}
	out := imgs[0].Copy()
	for _, im := range imgs[1:] {
		out.Add(im)
	}
	return out
}

// Mean returns the pixel-wise average of imgs, or nil when imgs is empty.
func Mean(imgs []*Image) *Image {
	out := Sum(imgs)
	if out != nil {
		out.Scale(1.0 / float64(len(imgs)))
	}
	return out
}

// Stats returns the mean and population standard deviation over all pixels.
func (im *Image) Stats() (mean, std float64) {
	if len(im.values) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(im.values, nil)
	return mean, math.Sqrt(variance)
}

// StatsNonZero is Stats restricted to non-zero pixels; n is how many there were.
func (im *Image) StatsNonZero() (mean, std float64, n int) {
	vals := make([]float64, 0, len(im.values))
	for _, v := range im.values {
		if v != 0 {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 0, 0
	}
	mean, variance := stat.PopMeanVariance(vals, nil)
	return mean, math.Sqrt(variance), len(vals)
}

// MinMax returns the smallest and largest pixel values.
func (im *Image) MinMax() (lo, hi float64) {
	if len(im.values) == 0 {
		return 0, 0
	}
	return floats.Min(im.values), floats.Max(im.values)
}

// IsFlat reports whether every pixel has the same value.
func (im *Image) IsFlat() bool {
	lo, hi := im.MinMax()
	return lo == hi
}

// EdgeMean is the mean of the outermost ring of pixels.
func (im *Image) EdgeMean() float64 {
	w, h := im.Dx(), im.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	sum, n := 0.0, 0
	for x := 0; x < w; x++ {
		sum += im.At(x, 0)
		n++
		if h > 1 {
			sum += im.At(x, h-1)
			n++
		}
	}
	for y := 1; y < h-1; y++ {
		sum += im.At(0, y)
		n++
		if w > 1 {
			sum += im.At(w-1, y)
			n++
		}
	}
	return sum / float64(n)
}

// Crop returns a w x h image whose pixel (i,j) is im at (x0+i, y0+j).
// Pixels falling outside im are zero. A fractional origin is sampled
// bilinearly.
func (im *Image) Crop(x0, y0 float64, w, h int) *Image {
	out := New(w, h)
	ix, iy := math.Floor(x0), math.Floor(y0)
	fx, fy := x0-ix, y0-iy
	ox, oy := int(ix), int(iy)

	if fx == 0 && fy == 0 {
		for j := 0; j < h; j++ {
			sy := oy + j
			if sy < 0 || sy >= im.Dy() {
				continue
			}
			for i := 0; i < w; i++ {
				sx := ox + i
				if sx < 0 || sx >= im.Dx() {
					continue
				}
				out.values[j*w+i] = im.values[sy*im.stride+sx]
			}
		}
		return out
	}

	w00 := (1 - fx) * (1 - fy)
	w10 := fx * (1 - fy)
	w01 := (1 - fx) * fy
	w11 := fx * fy
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			sx, sy := ox+i, oy+j
			v := w00*im.at0(sx, sy) + w10*im.at0(sx+1, sy) + w01*im.at0(sx, sy+1) + w11*im.at0(sx+1, sy+1)
			out.values[j*w+i] = v
		}
	}
	return out
}

// CropCentered crops a w x h window whose centre sits at (cx, cy).
func (im *Image) CropCentered(cx, cy float64, w, h int) *Image {
	return im.Crop(cx-float64(w/2), cy-float64(h/2), w, h)
}

func (im *Image) at0(x, y int) float64 {
	if x < 0 || y < 0 || x >= im.Dx() || y >= im.Dy() {
		return 0
	}
	return im.values[y*im.stride+x]
}

// MaxLocation finds the largest pixel inside r (clipped to the image). Ties
// resolve to the first pixel in row-major order.
func (im *Image) MaxLocation(r image.Rectangle) (x, y int, v float64) {
	r = r.Intersect(im.Bounds())
	if r.Empty() {
		return 0, 0, math.NaN()
	}
	x, y, v = r.Min.X, r.Min.Y, im.At(r.Min.X, r.Min.Y)
	for j := r.Min.Y; j < r.Max.Y; j++ {
		for i := r.Min.X; i < r.Max.X; i++ {
			if p := im.values[j*im.stride+i]; p > v {
				x, y, v = i, j, p
			}
		}
	}
	return x, y, v
}

// SubPixelPeak refines an integer maximum at (x, y) by fitting a parabola
// through the three samples on each axis. Edge pixels are not refined.
func (im *Image) SubPixelPeak(x, y int) (float64, float64) {
	px, py := float64(x), float64(y)
	if x > 0 && x < im.Dx()-1 {
		px += parabolaOffset(im.At(x-1, y), im.At(x, y), im.At(x+1, y))
	}
	if y > 0 && y < im.Dy()-1 {
		py += parabolaOffset(im.At(x, y-1), im.At(x, y), im.At(x, y+1))
	}
	return px, py
}

func parabolaOffset(l, c, r float64) float64 {
	den := l - 2*c + r
	if den >= 0 {
		return 0
	}
	off := 0.5 * (l - r) / den
	return math.Max(-0.5, math.Min(0.5, off))
}

package motion

import (
	"context"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"

	"motioncor/internal/imaging"
)

// CorrelationMap is a cross-correlation surface with its zero-shift point
// at the centre: the pixel at Center()+s scores the hypothesis that the
// reference at p+s matches the target at p.
type CorrelationMap struct {
	*imaging.Image
}

// Correlate builds the map for two equally sized crops. Each crop has its
// Fourier axes zeroed and a Gaussian high-pass applied first. The surface is
// divided by the product of the crop norms, then shifted and scaled so the
// border mean is zero and the standard deviation is one.
func Correlate(ctx context.Context, ref, target *imaging.Image, highpass float64) (*CorrelationMap, error) {
	fr, err := imaging.Forward(ctx, ref)
	if err != nil {
		return nil, err
	}
	ft, err := imaging.Forward(ctx, target)
	if err != nil {
		return nil, err
	}
	fr.ZeroAxes().GaussHighPass(highpass)
	ft.ZeroAxes().GaussHighPass(highpass)

	im, err := imaging.CrossCorrelation(ctx, fr, ft)
	if err != nil {
		return nil, err
	}
	if norm := math.Sqrt(fr.Energy() * ft.Energy()); norm > 0 {
		im.Scale(1 / norm)
	}
	pix := im.Pix()
	floats.AddConst(-im.EdgeMean(), pix)
	if _, std := im.Stats(); std > 0 {
		im.Scale(1 / std)
	}
	return &CorrelationMap{Image: im}, nil
}

// Center is the zero-shift pixel.
func (m *CorrelationMap) Center() image.Point {
	return image.Pt(m.Dx()/2, m.Dy()/2)
}

// Suppress replaces the 3x3 block around p with the mean of the four
// diagonal neighbours two pixels away. Neighbours off the map are ignored.
func (m *CorrelationMap) Suppress(p image.Point) {
	b := m.Bounds()
	sum, n := 0.0, 0
	for _, d := range []image.Point{{-2, -2}, {2, 2}, {-2, 2}, {2, -2}} {
		if q := p.Add(d); q.In(b) {
			sum += m.At(q.X, q.Y)
			n++
		}
	}
	if n == 0 {
		return
	}
	mean := sum / float64(n)
	for y := p.Y - 1; y <= p.Y+1; y++ {
		for x := p.X - 1; x <= p.X+1; x++ {
			if image.Pt(x, y).In(b) {
				m.Set(x, y, mean)
			}
		}
	}
}

// Coarse finds the integer shift of the strongest broad peak. The map is
// cut to +-halfWidth about its centre, blurred with a Gaussian low-pass and
// searched within +-radius/2 of the centre.
func (m *CorrelationMap) Coarse(ctx context.Context, halfWidth int, lowpass, radius float64) (image.Point, error) {
	size := min(2*halfWidth, m.Dx(), m.Dy())
	c := m.Center()
	coarse, err := m.Crop(float64(c.X-size/2), float64(c.Y-size/2), size, size).LowPass(ctx, lowpass)
	if err != nil {
		return image.Point{}, err
	}

	half := min(int(radius/2), size/2)
	cc := image.Pt(size/2, size/2)
	window := image.Rect(cc.X-half, cc.Y-half, cc.X+half+1, cc.Y+half+1)
	x, y, _ := coarse.MaxLocation(window)
	return image.Pt(x, y).Sub(cc), nil
}

// Fine refines a coarse shift: a box x box window of the unblurred map
// centred on it is lightly low-passed and its maximum located to sub-pixel
// precision. Confidence is the peak value over the window's standard
// deviation; a zero deviation is reported as degenerate.
func (m *CorrelationMap) Fine(ctx context.Context, coarse image.Point, box int, lowpass float64) (Result, error) {
	box = min(box, m.Dx(), m.Dy())
	at := m.Center().Add(coarse)
	win, err := m.Crop(float64(at.X-box/2), float64(at.Y-box/2), box, box).LowPass(ctx, lowpass)
	if err != nil {
		return Result{}, err
	}

	qx, qy, peak := win.MaxLocation(win.Bounds())
	px, py := win.SubPixelPeak(qx, qy)

	res := Result{
		DX: float64(coarse.X) + px - float64(box/2),
		DY: float64(coarse.Y) + py - float64(box/2),
	}
	_, std := win.Stats()
	if std == 0 {
		std = 1
		res.Degenerate = true
	}
	res.Confidence = peak / std
	return res, nil
}

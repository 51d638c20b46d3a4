package imaging

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// GoodSize returns the largest even n <= limit whose only prime factors are
// 2, 3 and 5. It returns 0 when limit < 2.
func GoodSize(limit int) int {
	for n := limit; n >= 2; n-- {
		if n%2 == 0 && smooth235(n) {
			return n
		}
	}
	return 0
}

func smooth235(n int) bool {
	for _, p := range []int{2, 3, 5} {
		for n%p == 0 {
			n /= p
		}
	}
	return n == 1
}

// Spectrum is the 2D discrete Fourier transform of an Image, stored row-major
// with the zero frequency at (0,0).
type Spectrum struct {
	w, h   int
	coeffs []complex128
}

func (s *Spectrum) Dx() int { return s.w }
func (s *Spectrum) Dy() int { return s.h }
func (s *Spectrum) At(kx, ky int) complex128 { return s.coeffs[ky*s.w+kx] }
func (s *Spectrum) Set(kx, ky int, c complex128) { s.coeffs[ky*s.w+kx] = c }

// Forward transforms im. ctx is checked between rows and columns so a
// deadline bounds the work.
func Forward(ctx context.Context, im *Image) (*Spectrum, error) {
	w, h := im.Dx(), im.Dy()
	s := &Spectrum{w: w, h: h, coeffs: make([]complex128, w*h)}
	for i, v := range im.values {
		s.coeffs[i] = complex(v, 0)
	}
	if err := fft2(ctx, s.coeffs, w, h, true); err != nil {
		return nil, err
	}
	return s, nil
}

// Inverse transforms s back to real space, discarding imaginary parts.
func (s *Spectrum) Inverse(ctx context.Context) (*Image, error) {
	buf := make([]complex128, len(s.coeffs))
	copy(buf, s.coeffs)
	if err := fft2(ctx, buf, s.w, s.h, false); err != nil {
		return nil, err
	}
	out := New(s.w, s.h)
	norm := 1.0 / float64(s.w*s.h)
	for i, c := range buf {
		out.values[i] = real(c) * norm
	}
	return out, nil
}

// Copy returns a deep copy.
func (s *Spectrum) Copy() *Spectrum {
	out := &Spectrum{w: s.w, h: s.h, coeffs: make([]complex128, len(s.coeffs))}
	copy(out.coeffs, s.coeffs)
	return out
}

// Energy is the sum of squared pixel values of the real-space image.
func (s *Spectrum) Energy() float64 {
	e := 0.0
	for _, c := range s.coeffs {
		e += real(c)*real(c) + imag(c)*imag(c)
	}
	return e / float64(s.w*s.h)
}

// ZeroAxes clears the kx=0 column and the ky=0 row. In real space this
// removes any pattern constant along a row or a column, which is how fixed
// detector stripes show up.
func (s *Spectrum) ZeroAxes() *Spectrum {
	for kx := 0; kx < s.w; kx++ {
		s.Set(kx, 0, 0)
	}
	for ky := 0; ky < s.h; ky++ {
		s.Set(0, ky, 0)
	}
	return s
}

// GaussLowPass multiplies by exp(-f^2 / 2 sigma^2), f in cycles/pixel.
func (s *Spectrum) GaussLowPass(sigma float64) *Spectrum {
	return s.apply(func(f2 float64) float64 { return math.Exp(-f2 / (2 * sigma * sigma)) })
}

// GaussHighPass multiplies by 1 - exp(-f^2 / 2 sigma^2), f in cycles/pixel.
func (s *Spectrum) GaussHighPass(sigma float64) *Spectrum {
	return s.apply(func(f2 float64) float64 { return 1 - math.Exp(-f2/(2*sigma*sigma)) })
}

func (s *Spectrum) apply(gain func(f2 float64) float64) *Spectrum {
	for ky := 0; ky < s.h; ky++ {
		fy := frequency(ky, s.h)
		for kx := 0; kx < s.w; kx++ {
			fx := frequency(kx, s.w)
			i := ky*s.w + kx
			s.coeffs[i] *= complex(gain(fx*fx+fy*fy), 0)
		}
	}
	return s
}

func frequency(k, n int) float64 {
	if k > n/2 {
		k -= n
	}
	return float64(k) / float64(n)
}

// LowPass returns a Gaussian low-pass filtered copy of im.
func (im *Image) LowPass(ctx context.Context, sigma float64) (*Image, error) {
	s, err := Forward(ctx, im)
	if err != nil {
		return nil, err
	}
	return s.GaussLowPass(sigma).Inverse(ctx)
}

// HighPass returns a Gaussian high-pass filtered copy of im.
func (im *Image) HighPass(ctx context.Context, sigma float64) (*Image, error) {
	s, err := Forward(ctx, im)
	if err != nil {
		return nil, err
	}
	return s.GaussHighPass(sigma).Inverse(ctx)
}

// CrossCorrelation returns the circular cross-correlation of two equally
// sized spectra with the phase origin moved to the centre: the pixel at
// (w/2+sx, h/2+sy) holds sum over p of target(p) * ref(p+s).
func CrossCorrelation(ctx context.Context, ref, target *Spectrum) (*Image, error) {
	if ref.w != target.w || ref.h != target.h {
		return nil, fmt.Errorf("spectrum size mismatch %dx%d vs %dx%d", ref.w, ref.h, target.w, target.h)
	}
	prod := &Spectrum{w: ref.w, h: ref.h, coeffs: make([]complex128, len(ref.coeffs))}
	for i := range prod.coeffs {
		prod.coeffs[i] = cmplx.Conj(target.coeffs[i]) * ref.coeffs[i]
	}
	raw, err := prod.Inverse(ctx)
	if err != nil {
		return nil, err
	}
	return raw.PhaseOriginToCenter(), nil
}

// PhaseOriginToCenter rolls the image so that pixel (0,0) moves to (w/2,h/2).
func (im *Image) PhaseOriginToCenter() *Image {
	w, h := im.Dx(), im.Dy()
	out := New(w, h)
	for y := 0; y < h; y++ {
		ty := (y + h/2) % h
		for x := 0; x < w; x++ {
			tx := (x + w/2) % w
			out.values[ty*w+tx] = im.values[y*w+x]
		}
	}
	return out
}

func fft2(ctx context.Context, a []complex128, w, h int, forward bool) error {
	if w == 0 || h == 0 {
		return nil
	}
	rowFFT := fourier.NewCmplxFFT(w)
	colFFT := fourier.NewCmplxFFT(h)

	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fft rows: %w", err)
		}
		copy(row, a[y*w:(y+1)*w])
		if forward {
			rowFFT.Coefficients(row, row)
		} else {
			rowFFT.Sequence(row, row)
		}
		copy(a[y*w:(y+1)*w], row)
	}

	col := make([]complex128, h)
	for x := 0; x < w; x++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fft columns: %w", err)
		}
		for y := 0; y < h; y++ {
			col[y] = a[y*w+x]
		}
		if forward {
			colFFT.Coefficients(col, col)
		} else {
			colFFT.Sequence(col, col)
		}
		for y := 0; y < h; y++ {
			a[y*w+x] = col[y]
		}
	}
	return nil
}

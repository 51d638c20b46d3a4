package motion

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"motioncor/internal/imaging"
)

// Result is the outcome of one pair alignment. (DX, DY) is the shift that
// brings the target into register with the reference, so that
// target.Crop(-DX, -DY) matches the reference. Confidence is a Z-score of
// the correlation peak, not a probability.
type Result struct {
	DX, DY     float64
	Confidence float64
	// Degenerate is set when the input carried no usable contrast.
	Degenerate bool
}

func (r Result) String() string {
	s := fmt.Sprintf("(%.2f,%.2f) z=%.2f", r.DX, r.DY, r.Confidence)
	if r.Degenerate {
		s += " degenerate"
	}
	return s
}

// Aligner registers pairs of images by translation.
type Aligner struct {
	opts Options
	log  *slog.Logger
}

func NewAligner(opts Options) *Aligner {
	opts = opts.withDefaults()
	return &Aligner{opts: opts, log: opts.Logger}
}

// BoxSize is the square crop used for w x h images: the largest FFT-friendly
// size within CropFraction of the smallest dimension (capped at MaxBox).
// Frames too small for that use their smallest dimension.
func (a *Aligner) BoxSize(w, h int) int {
	limit := min(w, h, a.opts.MaxBox)
	if box := imaging.GoodSize(int(a.opts.CropFraction * float64(limit))); box > 0 {
		return box
	}
	return min(w, h)
}

// Align finds the shift of target relative to ref, searching +-radius/2
// around guess. A radius below 5 means the default search radius.
func (a *Aligner) Align(ctx context.Context, ref, target *imaging.Image, gx, gy, radius float64) (Result, error) {
	if !ref.SameSize(target) {
		return Result{}, fmt.Errorf("%w: reference %s, target %s", ErrShapeMismatch, ref, target)
	}
	if radius < 5 {
		a.log.Debug("search radius too small, using default", "radius", radius, "default", a.opts.SearchRadius)
		radius = a.opts.SearchRadius
	}
	if a.opts.AlignTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.AlignTimeout)
		defer cancel()
	}

	w, h := ref.Dx(), ref.Dy()
	box := a.BoxSize(w, h)
	origin := image.Pt((w-box)/2, (h-box)/2)
	gi := image.Pt(int(math.Round(gx)), int(math.Round(gy)))

	rc := ref.Crop(float64(origin.X), float64(origin.Y), box, box)
	tc := target.Crop(float64(origin.X-gi.X), float64(origin.Y-gi.Y), box, box)
	if rc.IsFlat() || tc.IsFlat() {
		a.log.Warn("flat crop, alignment skipped", "guess_x", gx, "guess_y", gy)
		return Result{DX: gx, DY: gy, Degenerate: true}, nil
	}

	m, err := Correlate(ctx, rc, tc, a.opts.HighPass)
	if err != nil {
		return Result{}, fmt.Errorf("correlating: %w", err)
	}
	// A fixed detector pattern correlates with itself at zero raw
	// displacement, which sits at -guess in map coordinates.
	origin0 := m.Center().Sub(gi)
	search := m
	if a.opts.SuppressOrigin {
		search = &CorrelationMap{Image: m.Copy()}
		search.Suppress(origin0)
	}

	coarse, err := search.Coarse(ctx, a.opts.CoarseHalfWidth, a.opts.CoarseLowPass, radius)
	if err != nil {
		return Result{}, fmt.Errorf("coarse search: %w", err)
	}
	// The fine fit only sees the flattened origin when it lies well clear
	// of the coarse peak; a true peak near zero raw shift is fitted unclipped.
	fine := m
	if a.opts.SuppressOrigin && chebyshev(m.Center().Add(coarse), origin0) > a.opts.FineBox/4 {
		fine = search
	}
	res, err := fine.Fine(ctx, coarse, a.opts.FineBox, a.opts.FineLowPass)
	if err != nil {
		return Result{}, fmt.Errorf("fine search: %w", err)
	}
	if res.Degenerate {
		a.log.Warn("sigma is zero in fine window", "guess_x", gx, "guess_y", gy)
	}
	res.DX += float64(gi.X)
	res.DY += float64(gi.Y)
	return res, nil
}

func chebyshev(p, q image.Point) int {
	d := p.Sub(q)
	return max(abs(d.X), abs(d.Y))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

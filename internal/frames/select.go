package frames

import (
	"context"
	"fmt"

	"motioncor/internal/imaging"
)

type selection struct {
	src Source
	idx []int
}

// Select keeps frames first, first+step, ... below last. last <= 0 means the
// end of src; step < 1 is treated as 1.
func Select(src Source, first, last, step int) (Source, error) {
	n := src.Len()
	if last <= 0 || last > n {
		last = n
	}
	if step < 1 {
		step = 1
	}
	if first < 0 {
		return nil, fmt.Errorf("negative first frame %d", first)
	}
	var idx []int
	for i := first; i < last; i += step {
		idx = append(idx, i)
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("range %d:%d:%d of %d frames: %w", first, last, step, n, ErrEmpty)
	}
	if first == 0 && last == n && step == 1 {
		return src, nil
	}
	return &selection{src: src, idx: idx}, nil
}

func (s *selection) Len() int { return len(s.idx) }

func (s *selection) Frame(ctx context.Context, i int) (*imaging.Image, error) {
	if i < 0 || i >= len(s.idx) {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", i, len(s.idx))
	}
	return s.src.Frame(ctx, s.idx[i])
}

type clamped struct {
	src    Source
	nsigma float64
}

// Clamp wraps src so that every frame passes through ClampOutliers.
func Clamp(src Source, nsigma float64) Source {
	if nsigma <= 0 {
		return src
	}
	return &clamped{src: src, nsigma: nsigma}
}

func (c *clamped) Len() int { return c.src.Len() }

func (c *clamped) Frame(ctx context.Context, i int) (*imaging.Image, error) {
	im, err := c.src.Frame(ctx, i)
	if err != nil {
		return nil, err
	}
	return ClampOutliers(im, c.nsigma), nil
}

// ClampOutliers returns a copy of im with pixels below zero or above
// mean + nsigma*std set to zero. Hot pixels otherwise dominate the
// correlation peak.
func ClampOutliers(im *imaging.Image, nsigma float64) *imaging.Image {
	out := im.Copy()
	mean, std := im.Stats()
	hi := mean + nsigma*std
	pix := out.Pix()
	for i, v := range pix {
		if v < 0 || v > hi {
			pix[i] = 0
		}
	}
	return out
}

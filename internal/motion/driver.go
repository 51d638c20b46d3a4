package motion

import (
	"context"
	"fmt"
	"sync"

	"motioncor/internal/frames"
	"motioncor/internal/imaging"
)

// Driver estimates a movie's trajectory and builds the corrected sum.
type Driver struct {
	opts Options
	est  *Estimator
}

func NewDriver(opts Options) *Driver {
	opts = opts.withDefaults()
	return &Driver{opts: opts, est: NewEstimator(opts)}
}

// Correct estimates the trajectory over passes passes, then shifts every
// frame by it and sums them.
func (d *Driver) Correct(ctx context.Context, src frames.Source, passes int) (Trajectory, *imaging.Image, error) {
	traj, err := d.est.Estimate(ctx, src, passes)
	if err != nil {
		return Trajectory{}, nil, err
	}
	sum, err := d.Composite(ctx, src, traj, nil)
	if err != nil {
		return Trajectory{}, nil, err
	}
	return traj, sum, nil
}

// Composite sums src after undoing traj. each, when set, is called with
// every corrected frame in index order.
func (d *Driver) Composite(ctx context.Context, src frames.Source, traj Trajectory, each func(int, *imaging.Image) error) (*imaging.Image, error) {
	return ShiftAndSum(ctx, src, traj, d.opts.Workers, each)
}

// ShiftAndSum moves frame t by -traj(t) and adds the results in index order.
// Frames are shifted workers at a time, so memory stays bounded.
func ShiftAndSum(ctx context.Context, src frames.Source, traj Trajectory, workers int, each func(int, *imaging.Image) error) (*imaging.Image, error) {
	n := src.Len()
	if n == 0 {
		return nil, ErrNoFrames
	}
	workers = max(1, workers)

	var sum *imaging.Image
	shifted := make([]*imaging.Image, workers)
	errs := make([]error, workers)
	for start := 0; start < n; start += workers {
		end := min(start+workers, n)

		var wg sync.WaitGroup
		for t := start; t < end; t++ {
			wg.Add(1)
			go func(t int) {
				defer wg.Done()
				slot := t - start
				im, err := src.Frame(ctx, t)
				if err != nil {
					shifted[slot], errs[slot] = nil, fmt.Errorf("frame %d: %w", t, err)
					return
				}
				x, y := traj.At(float64(t))
				shifted[slot], errs[slot] = im.Crop(-x, -y, im.Dx(), im.Dy()), nil
			}(t)
		}
		wg.Wait()

		for t := start; t < end; t++ {
			slot := t - start
			if errs[slot] != nil {
				return nil, errs[slot]
			}
			im := shifted[slot]
			if sum == nil {
				sum = im.NewFromThis()
			}
			if !im.SameSize(sum) {
				return nil, fmt.Errorf("%w: frame %d is %s, expected %s", ErrShapeMismatch, t, im, sum)
			}
			sum.Add(im)
			if each != nil {
				if err := each(t, im); err != nil {
					return nil, err
				}
			}
		}
	}
	return sum, nil
}

// CorrectFramewise is Correct using EstimateFramewise.
func (d *Driver) CorrectFramewise(ctx context.Context, src frames.Source, iterations int) (Trajectory, *imaging.Image, error) {
	traj, err := d.est.EstimateFramewise(ctx, src, iterations)
	if err != nil {
		return Trajectory{}, nil, err
	}
	sum, err := d.Composite(ctx, src, traj, nil)
	if err != nil {
		return Trajectory{}, nil, err
	}
	return traj, sum, nil
}

// Estimator exposes the driver's estimator.
func (d *Driver) Estimator() *Estimator { return d.est }

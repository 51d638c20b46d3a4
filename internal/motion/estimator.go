package motion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"motioncor/internal/frames"
	"motioncor/internal/imaging"
)

// Estimator recovers a drift trajectory by hierarchical block alignment.
// Every pass sweeps levels of halving block size; each level aligns block
// sums against the current reference, seeded by the previous level's curve.
type Estimator struct {
	opts    Options
	aligner *Aligner
	log     *slog.Logger
}

func NewEstimator(opts Options) *Estimator {
	opts = opts.withDefaults()
	return &Estimator{opts: opts, aligner: NewAligner(opts), log: opts.Logger}
}

// block is one contiguous frame range [i0, i1) to align.
type block struct {
	index  int
	i0, i1 int
	tloc   float64
	gx, gy float64
	radius float64
}

type blockResult struct {
	block
	res Result
	err error
}

type levelStats struct {
	aligned, skipped, degenerate int
	confidence                   float64
}

func (s *levelStats) add(o levelStats) {
	s.aligned += o.aligned
	s.skipped += o.skipped
	s.degenerate += o.degenerate
	s.confidence += o.confidence
}

func (s levelStats) meanConfidence() float64 {
	if s.aligned == 0 {
		return 0
	}
	return s.confidence / float64(s.aligned)
}

// Estimate runs passes refinement passes (Options.Passes when <= 0) and
// returns the final trajectory.
func (e *Estimator) Estimate(ctx context.Context, src frames.Source, passes int) (Trajectory, error) {
	n := src.Len()
	if n == 0 {
		return Trajectory{}, ErrNoFrames
	}
	if passes <= 0 {
		passes = e.opts.Passes
	}

	ref, err := e.Reference(ctx, src, NewTrajectory())
	if err != nil {
		return Trajectory{}, err
	}

	var traj Trajectory
	for pass := 1; pass <= passes; pass++ {
		if err := ctx.Err(); err != nil {
			return Trajectory{}, err
		}
		next, stats, err := e.runPass(ctx, src, ref, pass)
		if err != nil {
			return Trajectory{}, fmt.Errorf("pass %d: %w", pass, err)
		}

		delta := 0.0
		if pass > 1 {
			delta = next.MaxDelta(traj, n)
		}
		traj = next
		e.log.Info("alignment pass complete",
			"pass", pass,
			"aligned", stats.aligned,
			"skipped", stats.skipped,
			"degenerate", stats.degenerate,
			"mean_confidence", stats.meanConfidence(),
			"max_delta", delta,
		)
		e.report(func(s Sink) error {
			return s.Pass(PassReport{
				Pass:           pass,
				Frames:         n,
				Aligned:        stats.aligned,
				Skipped:        stats.skipped,
				Degenerate:     stats.degenerate,
				MeanConfidence: stats.meanConfidence(),
				MaxDelta:       delta,
				Trajectory:     traj.copy(),
			})
		})

		if pass > 1 && e.opts.ConvergenceDelta > 0 && delta < e.opts.ConvergenceDelta {
			e.log.Info("trajectory converged", "pass", pass, "max_delta", delta)
			break
		}
		if pass < passes {
			if ref, err = e.Reference(ctx, src, traj); err != nil {
				return Trajectory{}, err
			}
		}
	}

	if e.opts.Anchor {
		traj = traj.Anchored()
	}
	return traj, nil
}

func (e *Estimator) runPass(ctx context.Context, src frames.Source, ref *imaging.Image, pass int) (Trajectory, levelStats, error) {
	traj := NewTrajectory()
	var total levelStats
	level := 0
	for step := src.Len(); step > 1; level++ {
		step /= 2
		next, stats, err := e.refineLevel(ctx, src, ref, traj, step, level == 0)
		if err != nil {
			return Trajectory{}, levelStats{}, fmt.Errorf("level %d (step %d): %w", level, step, err)
		}
		traj = next
		total.add(stats)

		e.log.Debug("alignment level complete",
			"pass", pass,
			"level", level,
			"step", step,
			"aligned", stats.aligned,
			"skipped", stats.skipped,
			"x", traj.X.String(),
			"y", traj.Y.String(),
		)
		e.report(func(s Sink) error {
			return s.Level(LevelReport{
				Pass:           pass,
				Level:          level,
				Step:           step,
				Aligned:        stats.aligned,
				Skipped:        stats.skipped,
				Degenerate:     stats.degenerate,
				MeanConfidence: stats.meanConfidence(),
				Trajectory:     traj.copy(),
			})
		})
	}
	return traj, total, nil
}

// refineLevel is one level of a pass: it reads prev for guesses, aligns every
// non-skipped block of length step and returns new curves holding prev's
// samples plus the new ones, finalized and smoothed once. prev is not
// modified.
func (e *Estimator) refineLevel(ctx context.Context, src frames.Source, ref *imaging.Image, prev Trajectory, step int, coarsest bool) (Trajectory, levelStats, error) {
	var stats levelStats
	blocks, skipped := e.planBlocks(prev, src.Len(), step, coarsest)
	stats.skipped = skipped

	results, err := e.alignBlocks(ctx, src, ref, blocks)
	if err != nil {
		return Trajectory{}, levelStats{}, err
	}

	next := prev.copy()
	for _, r := range results {
		next.X.Insert(r.tloc, r.res.DX)
		next.Y.Insert(r.tloc, r.res.DY)
		stats.aligned++
		stats.confidence += r.res.Confidence
		if r.res.Degenerate {
			stats.degenerate++
		}
	}
	next.X.Finalize()
	next.Y.Finalize()
	next.X.Smooth()
	next.Y.Smooth()
	return next, stats, nil
}

// planBlocks cuts n frames into blocks of step frames. Off the coarsest
// level each block is searched within max(MinRange, RangeScale*|d|) of its
// predicted shift, d being the predicted displacement across the block, and
// blocks predicted to sit near the origin are skipped.
func (e *Estimator) planBlocks(prev Trajectory, n, step int, coarsest bool) ([]block, int) {
	var blocks []block
	skipped := 0
	for i0 := 0; i0 < n; i0 += step {
		i1 := min(i0+step, n)
		b := block{index: len(blocks), i0: i0, i1: i1, tloc: float64(i0+i1-1) / 2}
		if coarsest {
			b.radius = e.opts.SearchRadius
		} else {
			x0, y0 := prev.At(float64(i0))
			x1, y1 := prev.At(float64(i1))
			b.radius = math.Max(e.opts.MinRange, e.opts.RangeScale*math.Hypot(x1-x0, y1-y0))
			b.gx, b.gy = prev.At(b.tloc)
			if prev.X.Len() > 1 && math.Abs(b.gx) < e.opts.SkipThreshold && math.Abs(b.gy) < e.opts.SkipThreshold {
				skipped++
				continue
			}
		}
		blocks = append(blocks, b)
	}
	return blocks, skipped
}

// alignBlocks runs the blocks on a worker pool and returns their results in
// block order.
func (e *Estimator) alignBlocks(ctx context.Context, src frames.Source, ref *imaging.Image, blocks []block) ([]blockResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	jobsChan := make(chan block, len(blocks))
	resultsChan := make(chan blockResult, len(blocks))

	for i := 0; i < min(e.opts.Workers, len(blocks)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobsChan {
				r := blockResult{block: b}
				if r.err = ctx.Err(); r.err == nil {
					r.res, r.err = e.alignBlock(ctx, src, ref, b)
				}
				if r.err != nil {
					cancel()
				}
				resultsChan <- r
			}
		}()
	}

	for _, b := range blocks {
		jobsChan <- b
	}
	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	results := make([]blockResult, 0, len(blocks))
	for r := range resultsChan {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
	for _, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("frames [%d,%d): %w", r.i0, r.i1, r.err)
		}
	}
	return results, nil
}

func (e *Estimator) alignBlock(ctx context.Context, src frames.Source, ref *imaging.Image, b block) (Result, error) {
	sum, err := sumFrames(ctx, src, b.i0, b.i1, ref)
	if err != nil {
		return Result{}, err
	}
	return e.aligner.Align(ctx, ref, sum, b.gx, b.gy, b.radius)
}

// sumFrames adds frames [i0, i1). like fixes the expected size.
func sumFrames(ctx context.Context, src frames.Source, i0, i1 int, like *imaging.Image) (*imaging.Image, error) {
	sum := like.NewFromThis()
	for i := i0; i < i1; i++ {
		im, err := src.Frame(ctx, i)
		if err != nil {
			return nil, err
		}
		if !im.SameSize(sum) {
			return nil, fmt.Errorf("%w: frame %d is %s, expected %s", ErrShapeMismatch, i, im, sum)
		}
		sum.Add(im)
	}
	return sum, nil
}

// Reference is the mean of all frames after undoing traj. With an empty
// trajectory it is the plain average.
func (e *Estimator) Reference(ctx context.Context, src frames.Source, traj Trajectory) (*imaging.Image, error) {
	sum, err := ShiftAndSum(ctx, src, traj, e.opts.Workers, nil)
	if err != nil {
		return nil, err
	}
	return sum.Scale(1 / float64(src.Len())), nil
}

func (e *Estimator) report(fn func(Sink) error) {
	if e.opts.Sink == nil {
		return
	}
	if err := fn(e.opts.Sink); err != nil {
		e.log.Warn("diagnostic sink failed", "error", err)
	}
}

func (tr Trajectory) copy() Trajectory {
	return Trajectory{X: tr.X.Copy(), Y: tr.Y.Copy()}
}

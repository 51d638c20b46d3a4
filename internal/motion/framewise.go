package motion

import (
	"context"
	"fmt"

	"motioncor/internal/frames"
)

// EstimateFramewise aligns each frame on its own against the running
// average, rebuilding the average after every iteration. It is cheaper than
// Estimate and suits movies with large per-frame signal.
func (e *Estimator) EstimateFramewise(ctx context.Context, src frames.Source, iterations int) (Trajectory, error) {
	n := src.Len()
	if n == 0 {
		return Trajectory{}, ErrNoFrames
	}
	if iterations <= 0 {
		iterations = e.opts.Passes
	}

	traj := NewTrajectory()
	for it := 1; it <= iterations; it++ {
		ref, err := e.Reference(ctx, src, traj)
		if err != nil {
			return Trajectory{}, err
		}
		blocks := make([]block, n)
		for t := range blocks {
			gx, gy := traj.At(float64(t))
			blocks[t] = block{index: t, i0: t, i1: t + 1, tloc: float64(t), gx: gx, gy: gy, radius: e.opts.SearchRadius}
		}
		results, err := e.alignBlocks(ctx, src, ref, blocks)
		if err != nil {
			return Trajectory{}, fmt.Errorf("iteration %d: %w", it, err)
		}

		next := NewTrajectory()
		var stats levelStats
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
		delta := next.MaxDelta(traj, n)
		traj = next

		e.log.Info("framewise iteration complete",
			"iteration", it,
			"mean_confidence", stats.meanConfidence(),
			"degenerate", stats.degenerate,
			"max_delta", delta,
		)
		e.report(func(s Sink) error {
			return s.Pass(PassReport{
				Pass:           it,
				Frames:         n,
				Aligned:        stats.aligned,
				Degenerate:     stats.degenerate,
				MeanConfidence: stats.meanConfidence(),
				MaxDelta:       delta,
				Trajectory:     traj.copy(),
			})
		})
		if e.opts.ConvergenceDelta > 0 && it > 1 && delta < e.opts.ConvergenceDelta {
			break
		}
	}
	if e.opts.Anchor {
		traj = traj.Anchored()
	}
	return traj, nil
}

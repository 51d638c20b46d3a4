package tasks

import (
	"context"
	"time"

	"motioncor/internal/motion"
)

// HierarchicalProcessor runs the multi-pass, level-by-level estimator.
type HierarchicalProcessor struct{}

func (HierarchicalProcessor) Name() string { return "hierarchical" }

func (HierarchicalProcessor) SupportsMode(m CorrectionMode) bool { return m == ModeCorrect }

// EstimateQuality prefers the hierarchy once there are enough frames to
// form more than one level.
func (HierarchicalProcessor) EstimateQuality(frameCount int) (float64, error) {
	if frameCount >= 4 {
		return 1.0, nil
	}
	return 0.3, nil
}

func (HierarchicalProcessor) Correct(ctx context.Context, req CorrectionRequest) (CorrectionResult, error) {
	start := time.Now()
	drv := motion.NewDriver(req.Options)
	traj, err := drv.Estimator().Estimate(ctx, req.Frames, req.Passes)
	if err != nil {
		return CorrectionResult{ToolUsed: "hierarchical"}, err
	}
	sum, err := drv.Composite(ctx, req.Frames, traj, req.EachFrame)
	if err != nil {
		return CorrectionResult{ToolUsed: "hierarchical", Trajectory: traj}, err
	}
	return CorrectionResult{
		Trajectory:     traj,
		Sum:            sum,
		Frames:         req.Frames.Len(),
		ProcessingTime: time.Since(start),
		ToolUsed:       "hierarchical",
	}, nil
}

// FramewiseProcessor aligns every frame against the running reference.
type FramewiseProcessor struct{}

func (FramewiseProcessor) Name() string { return "framewise" }

func (FramewiseProcessor) SupportsMode(m CorrectionMode) bool { return m == ModeCorrect }

func (FramewiseProcessor) EstimateQuality(frameCount int) (float64, error) {
	if frameCount < 4 {
		return 0.6, nil
	}
	return 0.5, nil
}

func (FramewiseProcessor) Correct(ctx context.Context, req CorrectionRequest) (CorrectionResult, error) {
	start := time.Now()
	drv := motion.NewDriver(req.Options)
	traj, err := drv.Estimator().EstimateFramewise(ctx, req.Frames, req.Passes)
	if err != nil {
		return CorrectionResult{ToolUsed: "framewise"}, err
	}
	sum, err := drv.Composite(ctx, req.Frames, traj, req.EachFrame)
	if err != nil {
		return CorrectionResult{ToolUsed: "framewise", Trajectory: traj}, err
	}
	return CorrectionResult{
		Trajectory:     traj,
		Sum:            sum,
		Frames:         req.Frames.Len(),
		ProcessingTime: time.Since(start),
		ToolUsed:       "framewise",
	}, nil
}

// AverageProcessor sums the frames without moving them.
type AverageProcessor struct{}

func (AverageProcessor) Name() string { return "average" }

func (AverageProcessor) SupportsMode(m CorrectionMode) bool { return m == ModeAverage }

func (AverageProcessor) EstimateQuality(int) (float64, error) { return 1.0, nil }

func (AverageProcessor) Correct(ctx context.Context, req CorrectionRequest) (CorrectionResult, error) {
	start := time.Now()
	traj := motion.NewTrajectory()
	sum, err := motion.ShiftAndSum(ctx, req.Frames, traj, req.Options.Workers, req.EachFrame)
	if err != nil {
		return CorrectionResult{ToolUsed: "average"}, err
	}
	return CorrectionResult{
		Trajectory:     traj,
		Sum:            sum,
		Frames:         req.Frames.Len(),
		ProcessingTime: time.Since(start),
		ToolUsed:       "average",
	}, nil
}

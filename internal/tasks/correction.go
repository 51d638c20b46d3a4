package tasks

import (
	"context"
	"time"

	"motioncor/internal/frames"
	"motioncor/internal/imaging"
	"motioncor/internal/motion"
)

// CorrectionProcessor turns a frame stack into a trajectory and composite.
type CorrectionProcessor interface {
	Name() string
	SupportsMode(mode CorrectionMode) bool
	EstimateQuality(frameCount int) (float64, error)
	Correct(ctx context.Context, req CorrectionRequest) (CorrectionResult, error)
}

// CorrectionMode enumerates what a processor produces.
type CorrectionMode int

const (
	// ModeCorrect estimates drift and sums the re-aligned frames.
	ModeCorrect CorrectionMode = iota
	// ModeAverage sums the frames as recorded.
	ModeAverage
)

func (m CorrectionMode) String() string {
	switch m {
	case ModeCorrect:
		return "correct"
	case ModeAverage:
		return "average"
	default:
		return "unknown"
	}
}

// CorrectionRequest carries the inputs for one processor run.
type CorrectionRequest struct {
	Frames  frames.Source
	Mode    CorrectionMode
	Passes  int
	Options motion.Options
	// EachFrame, when set, sees every shifted frame in index order.
	EachFrame func(int, *imaging.Image) error
}

// CorrectionResult captures the trajectory, the composite and run metrics.
type CorrectionResult struct {
	Trajectory     motion.Trajectory
	Sum            *imaging.Image
	Frames         int
	ProcessingTime time.Duration
	ToolUsed       string
	Warnings       []string
}

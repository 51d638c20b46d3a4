package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"motioncor/internal/diag"
	"motioncor/internal/frames"
	"motioncor/internal/fsutil"
	"motioncor/internal/motion"
)

// MovieRequest describes one movie directory to correct.
type MovieRequest struct {
	InputDir  string
	OutputDir string
	Mode      CorrectionMode
	// Processor forces a processor by name; empty lets the manager choose.
	Processor string

	First, Last, Step int
	Passes            int
	ClampSigma        float64

	SaveAligned   bool
	SimpleAverage bool
	Format        string
	Diagnostics   bool
	Plots         bool

	Options motion.Options
	Logger  *slog.Logger
}

// MovieResult summarizes a processed movie.
type MovieResult struct {
	Frames         int
	Width, Height  int
	Trajectory     motion.Trajectory
	ShiftsX        []float64
	ShiftsY        []float64
	Outputs        []string
	ToolUsed       string
	ProcessingTime time.Duration
}

// shouldPreload decides whether a selected movie is held in memory.
var shouldPreload = fsutil.ShouldPreload

// openMovie opens the frame directory and applies selection and clamping.
// When the selected frames fit in memory they are decoded once here; this is
// the only place a movie is cached.
func openMovie(ctx context.Context, req MovieRequest, logger *slog.Logger) (frames.Source, int, int, error) {
	files, err := frames.OpenDir(req.InputDir, logger)
	if err != nil {
		return nil, 0, 0, err
	}
	src, err := frames.Select(files, req.First, req.Last, req.Step)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("selecting frames: %w", err)
	}
	src = frames.Clamp(src, req.ClampSigma)
	w, h := files.Size()
	if shouldPreload(src.Len(), w, h, logger) {
		if src, err = frames.LoadAll(ctx, src); err != nil {
			return nil, 0, 0, err
		}
	}
	return src, w, h, nil
}

// ProcessMovie loads the frames of req.InputDir, runs a processor on them and
// writes the composite plus any requested extras into req.OutputDir.
func (m *CorrectionManager) ProcessMovie(ctx context.Context, req MovieRequest) (MovieResult, error) {
	start := time.Now()
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	src, w, h, err := openMovie(ctx, req, logger)
	if err != nil {
		return MovieResult{}, err
	}

	base := filepath.Base(filepath.Clean(req.InputDir))
	out, err := NewOutputWriter(req.OutputDir, base, req.Format)
	if err != nil {
		return MovieResult{}, err
	}

	opts := req.Options
	opts.Logger = logger
	opts.Sink = diagnosticSinks(opts.Sink, req)

	creq := CorrectionRequest{Frames: src, Mode: req.Mode, Passes: req.Passes, Options: opts}
	if req.SaveAligned && req.Mode == ModeCorrect {
		if creq.EachFrame, err = out.AlignedFrames(); err != nil {
			return MovieResult{}, err
		}
	}

	logger.Info("processing movie", "dir", req.InputDir, "frames", src.Len(), "size", fmt.Sprintf("%dx%d", w, h), "mode", req.Mode)
	var res CorrectionResult
	if req.Processor != "" {
		res, err = m.CorrectWith(ctx, req.Processor, creq)
	} else {
		res, err = m.Correct(ctx, creq)
	}
	if err != nil {
		return MovieResult{}, err
	}

	if req.Mode == ModeAverage {
		if _, err := out.WriteAverage(res.Sum, res.Frames); err != nil {
			return MovieResult{}, err
		}
	} else {
		if _, err := out.WriteSum(res.Sum); err != nil {
			return MovieResult{}, err
		}
		if req.SimpleAverage {
			if err := m.writeSimpleAverage(ctx, out, src, opts); err != nil {
				return MovieResult{}, err
			}
		}
	}

	xs, ys := res.Trajectory.Shifts(src.Len())
	return MovieResult{
		Frames:         src.Len(),
		Width:          w,
		Height:         h,
		Trajectory:     res.Trajectory,
		ShiftsX:        xs,
		ShiftsY:        ys,
		Outputs:        out.Written(),
		ToolUsed:       res.ToolUsed,
		ProcessingTime: time.Since(start),
	}, nil
}

func (m *CorrectionManager) writeSimpleAverage(ctx context.Context, out *OutputWriter, src frames.Source, opts motion.Options) error {
	avg, err := m.Correct(ctx, CorrectionRequest{Frames: src, Mode: ModeAverage, Options: opts})
	if err != nil {
		return fmt.Errorf("simple average: %w", err)
	}
	_, err = out.WriteAverage(avg.Sum, avg.Frames)
	return err
}

func diagnosticSinks(existing motion.Sink, req MovieRequest) motion.Sink {
	var sinks diag.Multi
	if existing != nil {
		sinks = append(sinks, existing)
	}
	dir := filepath.Join(req.OutputDir, "diag")
	if req.Diagnostics {
		sinks = append(sinks, diag.TextSink{Dir: dir})
	}
	if req.Plots {
		sinks = append(sinks, diag.PlotSink{Dir: dir})
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return sinks
}

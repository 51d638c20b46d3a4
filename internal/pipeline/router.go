package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"motioncor/internal/config"
	"motioncor/internal/storage"
	"motioncor/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log      *slog.Logger
	store    *storage.Store
	cfg      *config.Config
	movies   movieProcessor
	scanFn   func(root string, minFrames int) (tasks.ScanResult, error)
	progress func(Progress)
}

type movieProcessor interface {
	ProcessMovie(ctx context.Context, req tasks.MovieRequest) (tasks.MovieResult, error)
}

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config, progress func(Progress)) *router {
	if cfg == nil {
		cfg = config.Default()
	}
	return &router{
		log:      logger,
		store:    store,
		cfg:      cfg,
		movies:   tasks.NewCorrectionManager(&cfg.Correction),
		scanFn:   tasks.Scan,
		progress: progress,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobCorrect:
		return r.handleMovie(ctx, job, tasks.ModeCorrect, getStringOption(job.Options, "processor", ""))
	case JobFramewise:
		return r.handleMovie(ctx, job, tasks.ModeCorrect, "framewise")
	case JobAverage:
		return r.handleMovie(ctx, job, tasks.ModeAverage, "")
	case JobScan:
		return r.handleScan(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// movieRequest merges the configured correction defaults with job options.
func (r *router) movieRequest(job Job, mode tasks.CorrectionMode, processor string) (tasks.MovieRequest, error) {
	opts, err := r.cfg.MotionOptions()
	if err != nil {
		return tasks.MovieRequest{}, err
	}
	c := r.cfg.Correction
	o := job.Options

	if w := getIntOption(o, "workers", 0); w > 0 {
		opts.Workers = w
	}
	output := job.Output
	if output == "" {
		output = r.cfg.Paths.DefaultOutput
	}
	return tasks.MovieRequest{
		InputDir:      job.InputPath,
		OutputDir:     output,
		Mode:          mode,
		Processor:     processor,
		First:         getIntOption(o, "first", 0),
		Last:          getIntOption(o, "last", 0),
		Step:          getIntOption(o, "step", 1),
		Passes:        getIntOption(o, "passes", r.cfg.Motion.Passes),
		ClampSigma:    getFloat64Option(o, "clampSigma", c.ClampSigma),
		SaveAligned:   getBoolOption(o, "saveAligned", c.SaveAligned),
		SimpleAverage: getBoolOption(o, "simpleAverage", c.SimpleAverage),
		Format:        getStringOption(o, "format", c.OutputFormat),
		Diagnostics:   getBoolOption(o, "diagnostics", c.Diagnostics),
		Plots:         getBoolOption(o, "plots", c.Plots),
		Options:       opts,
		Logger:        r.log.With("job_id", job.ID),
	}, nil
}

func (r *router) handleMovie(ctx context.Context, job Job, mode tasks.CorrectionMode, processor string) Result {
	req, err := r.movieRequest(job, mode, processor)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	req.Options.Sink = &passRecorder{jobID: job.ID, store: r.store, publish: r.progress, log: req.Logger}

	res, err := r.movies.ProcessMovie(ctx, req)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	shifts := make([]storage.Shift, len(res.ShiftsX))
	for i := range shifts {
		shifts[i] = storage.Shift{Frame: i, X: res.ShiftsX[i], Y: res.ShiftsY[i]}
	}
	if err := r.store.RecordTrajectory(job.ID, shifts); err != nil {
		r.log.Warn("failed to record trajectory", "job_id", job.ID, "error", err)
	}
	if err := r.store.RecordMovie(storage.MovieRecord{
		JobID:      job.ID,
		BasePath:   job.InputPath,
		FrameCount: res.Frames,
		Width:      res.Width,
		Height:     res.Height,
	}); err != nil {
		r.log.Warn("failed to record movie", "job_id", job.ID, "error", err)
	}

	meta := map[string]any{
		"frames":         res.Frames,
		"size":           fmt.Sprintf("%dx%d", res.Width, res.Height),
		"tool":           res.ToolUsed,
		"outputs":        res.Outputs,
		"processingTime": res.ProcessingTime.String(),
	}
	if n := len(res.ShiftsX); n > 0 {
		meta["finalShift"] = []float64{res.ShiftsX[n-1], res.ShiftsY[n-1]}
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	summary, err := r.scanFn(job.InputPath, getIntOption(job.Options, "minFrames", r.cfg.Watch.MinFrames))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	dirs := make([]string, 0, len(summary.Movies))
	for _, m := range summary.Movies {
		dirs = append(dirs, m.Dir)
		if err := r.store.RecordMovie(storage.MovieRecord{JobID: job.ID, BasePath: m.Dir, FrameCount: m.Frames}); err != nil {
			r.log.Warn("failed to record movie", "job_id", job.ID, "dir", m.Dir, "error", err)
		}
	}
	return Result{Job: job, Meta: map[string]any{"movies": len(dirs), "dirs": dirs}}
}

// Options arrive either from Go callers or decoded from JSON, so numbers may
// be int, float64 or json.Number.
func getIntOption(options map[string]any, key string, def int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func getFloat64Option(options map[string]any, key string, def float64) float64 {
	switch v := options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

func getBoolOption(options map[string]any, key string, def bool) bool {
	if v, ok := options[key].(bool); ok {
		return v
	}
	return def
}

func getStringOption(options map[string]any, key, def string) string {
	if v, ok := options[key].(string); ok && v != "" {
		return v
	}
	return def
}

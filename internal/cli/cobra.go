package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"motioncor/internal/config"
	"motioncor/internal/grpcserver"
	"motioncor/internal/imaging"
	"motioncor/internal/motion"
	"motioncor/internal/pipeline"
	"motioncor/internal/storage"
	"motioncor/internal/tasks"
)

const version = "v0.3.0"

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return NewRoot(pipe, cfg, log, store).command()
}

func (r *Root) command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "motioncor",
		Short: "motioncor corrects beam-induced drift in dose-fractionated movies",
		Long: `motioncor estimates the frame-by-frame drift of a movie stack by
hierarchical cross-correlation and writes the re-aligned sum.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newCorrectCmd(r))
	rootCmd.AddCommand(newAverageCmd(r))
	rootCmd.AddCommand(newScanCmd(r))
	rootCmd.AddCommand(newPairCmd(r))
	rootCmd.AddCommand(newJobsCmd(r))
	rootCmd.AddCommand(newWatchCmd(r))
	rootCmd.AddCommand(newServeCmd(r))
	rootCmd.AddCommand(newSubmitCmd(r))
	rootCmd.AddCommand(newSelftestCmd(r))
	rootCmd.AddCommand(newConfigCmd(r))
	rootCmd.AddCommand(newVersionCmd(r))
	return rootCmd
}

func newCorrectCmd(root *Root) *cobra.Command {
	var (
		first, last, step int
		passes            int
		workers           int
		framewise         bool
		saveAligned       bool
		simpleAvg         bool
		diagnostics       bool
		plots             bool
		clamp             float64
		format            string
		processor         string
		noWait            bool
	)

	cmd := &cobra.Command{
		Use:   "correct <movie_directory> [output_directory]",
		Short: "Estimate drift and write the re-aligned sum",
		Long: `Estimate the drift trajectory of the frames in a directory and write the
sum of the re-aligned frames. Frames are read in natural filename order.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := root.cfg.Paths.DefaultOutput
			if len(args) > 1 {
				output = args[1]
			}
			jobType := pipeline.JobCorrect
			if framewise {
				jobType = pipeline.JobFramewise
			}

			options := map[string]any{"source": "cli"}
			flags := cmd.Flags()
			setIfChanged(options, flags.Changed("first"), "first", first)
			setIfChanged(options, flags.Changed("last"), "last", last)
			setIfChanged(options, flags.Changed("step"), "step", step)
			setIfChanged(options, flags.Changed("passes"), "passes", passes)
			setIfChanged(options, flags.Changed("workers"), "workers", workers)
			setIfChanged(options, flags.Changed("save-aligned"), "saveAligned", saveAligned)
			setIfChanged(options, flags.Changed("simple-avg"), "simpleAverage", simpleAvg)
			setIfChanged(options, flags.Changed("diag"), "diagnostics", diagnostics)
			setIfChanged(options, flags.Changed("plots"), "plots", plots)
			setIfChanged(options, flags.Changed("clamp"), "clampSigma", clamp)
			setIfChanged(options, flags.Changed("format"), "format", format)
			setIfChanged(options, processor != "", "processor", processor)

			job := pipeline.Job{ID: newID(), Type: jobType, InputPath: args[0], Output: output, Options: options}
			return root.runJob(cmd.Context(), job, !noWait)
		},
	}

	cmd.Flags().IntVar(&first, "first", 0, "First frame to use (0-based)")
	cmd.Flags().IntVar(&last, "last", 0, "Stop before this frame (0 means the last frame)")
	cmd.Flags().IntVar(&step, "step", 1, "Use every n-th frame")
	cmd.Flags().IntVar(&passes, "passes", 0, "Refinement passes (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent block alignments (default from config)")
	cmd.Flags().BoolVar(&framewise, "framewise", false, "Align each frame against the running reference instead of the hierarchy")
	cmd.Flags().BoolVar(&saveAligned, "save-aligned", false, "Also write every re-aligned frame")
	cmd.Flags().BoolVar(&simpleAvg, "simple-avg", false, "Also write the unaligned average")
	cmd.Flags().BoolVar(&diagnostics, "diag", false, "Write per-pass trajectory text dumps")
	cmd.Flags().BoolVar(&plots, "plots", false, "Write per-pass trajectory plots")
	cmd.Flags().Float64Var(&clamp, "clamp", 0, "Zero pixels above mean+N*sigma before aligning (0 disables)")
	cmd.Flags().StringVar(&format, "format", "", "Output format: tif, png, or any format ImageMagick writes")
	cmd.Flags().StringVar(&processor, "processor", "", "Force a processor (hierarchical, framewise)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Queue the job and return immediately")
	return cmd
}

func setIfChanged(options map[string]any, changed bool, key string, v any) {
	if changed {
		options[key] = v
	}
}

func newAverageCmd(root *Root) *cobra.Command {
	var (
		first, last, step int
		format            string
	)
	cmd := &cobra.Command{
		Use:   "average <movie_directory> [output_directory]",
		Short: "Write the plain average of a movie's frames",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := root.cfg.Paths.DefaultOutput
			if len(args) > 1 {
				output = args[1]
			}
			options := map[string]any{"source": "cli", "first": first, "last": last, "step": step}
			setIfChanged(options, format != "", "format", format)
			job := pipeline.Job{ID: newID(), Type: pipeline.JobAverage, InputPath: args[0], Output: output, Options: options}
			return root.runJob(cmd.Context(), job, true)
		},
	}
	cmd.Flags().IntVar(&first, "first", 0, "First frame to use (0-based)")
	cmd.Flags().IntVar(&last, "last", 0, "Stop before this frame (0 means the last frame)")
	cmd.Flags().IntVar(&step, "step", 1, "Use every n-th frame")
	cmd.Flags().StringVar(&format, "format", "", "Output format")
	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var minFrames int
	cmd := &cobra.Command{
		Use:   "scan <root_directory>",
		Short: "List movie directories below a root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minFrames <= 0 {
				minFrames = root.cfg.Watch.MinFrames
			}
			res, err := tasks.Scan(args[0], minFrames)
			if err != nil {
				return err
			}
			for _, m := range res.Movies {
				root.printf("%s\t%d frames\t%s\n", m.Dir, m.Frames, m.Modified.Format(time.RFC3339))
			}
			root.printf("%d movies\n", len(res.Movies))
			return nil
		},
	}
	cmd.Flags().IntVar(&minFrames, "min-frames", 0, "Minimum frame files per movie (default from config)")
	return cmd
}

func newPairCmd(root *Root) *cobra.Command {
	var gx, gy, radius float64
	cmd := &cobra.Command{
		Use:   "pair <reference_image> <target_image>",
		Short: "Measure the shift between two images",
		Long: `Measure the translation that maps the target image onto the reference.
The printed (dx, dy) is the amount the target must be moved back by.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := imaging.Load(args[0])
			if err != nil {
				return err
			}
			target, err := imaging.Load(args[1])
			if err != nil {
				return err
			}
			opts, err := root.cfg.MotionOptions()
			if err != nil {
				return err
			}
			opts.Logger = root.log
			res, err := motion.NewAligner(opts).Align(cmd.Context(), ref, target, gx, gy, radius)
			if err != nil {
				return err
			}
			root.printf("%s\n", res)
			return nil
		},
	}
	cmd.Flags().Float64Var(&gx, "guess-x", 0, "Expected x shift")
	cmd.Flags().Float64Var(&gy, "guess-y", 0, "Expected y shift")
	cmd.Flags().Float64Var(&radius, "radius", 0, "Search radius in pixels (default from config)")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				line := fmt.Sprintf("%s\t%s\t%s\t%s", rec.ID, rec.JobType, rec.Status, rec.InputPath)
				if rec.Error != "" {
					line += "\t" + rec.Error
				}
				root.printf("%s\n", line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of jobs to show")

	show := &cobra.Command{
		Use:   "show <job_id>",
		Short: "Show a job's per-pass statistics and trajectory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := root.store.Job(args[0])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			root.printf("%s %s %s %s -> %s\n", rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath)
			stats, err := root.store.PassStats(rec.ID)
			if err != nil {
				return err
			}
			for _, st := range stats {
				root.printf("pass %d: aligned %d skipped %d degenerate %d confidence %.2f delta %.3f\n",
					st.Pass, st.Aligned, st.Skipped, st.Degenerate, st.MeanConfidence, st.MaxDelta)
			}
			shifts, err := root.store.Trajectory(rec.ID)
			if err != nil {
				return err
			}
			for _, sh := range shifts {
				root.printf("%d\t%1.2f\t%1.2f\n", sh.Frame, sh.X, sh.Y)
			}
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		settle    time.Duration
		minFrames int
		output    string
	)
	cmd := &cobra.Command{
		Use:   "watch [directories...]",
		Short: "Correct movies as they arrive",
		Long: `Watch directories (and their immediate subdirectories) for frame files.
A directory that stops receiving frames for the settle period is queued for
correction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = root.cfg.Watch.Dirs
			}
			if len(dirs) == 0 {
				return errors.New("no directories to watch")
			}
			if settle <= 0 {
				settle = root.cfg.SettleDuration()
			}
			if minFrames <= 0 {
				minFrames = root.cfg.Watch.MinFrames
			}
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}

			w, err := tasks.NewMovieWatcher(dirs, settle, minFrames, root.log)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()
			return root.watchLoop(cmd.Context(), w.Events, output)
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 0, "Quiet period before a directory is queued (default from config)")
	cmd.Flags().IntVar(&minFrames, "min-frames", 0, "Minimum frames per movie (default from config)")
	cmd.Flags().StringVar(&output, "output", "", "Output root; each movie gets a subdirectory")
	return cmd
}

func (r *Root) watchLoop(ctx context.Context, events <-chan tasks.MovieEvent, output string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			job := pipeline.Job{
				ID:        newID(),
				Type:      pipeline.JobCorrect,
				InputPath: ev.Dir,
				Output:    filepath.Join(output, filepath.Base(ev.Dir)),
				Options:   map[string]any{"source": "watch"},
			}
			if err := r.enqueue(ctx, job); err != nil {
				r.log.Error("failed to queue movie", "dir", ev.Dir, "error", err)
				continue
			}
			r.printf("queued %s (%d frames) as %s\n", ev.Dir, ev.Frames, job.ID)
		}
	}
}

func newServeCmd(root *Root) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Long: `Start the HTTP API (jobs, trajectories, submit, event stream, websocket)
and the gRPC service. With --watch, settled movie directories are queued
automatically.

Examples:
  motioncor serve --addr :8080 --grpc-addr :9090
  motioncor serve --watch /data/incoming`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.WatchDirs) == 0 {
				opts.WatchDirs = root.cfg.Watch.Dirs
			}
			root.log.Info("starting servers", "http", opts.HTTPAddr, "grpc", opts.GRPCAddr, "watch", opts.WatchDirs)
			return root.serveFn(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.HTTPAddr, "addr", root.cfg.Server.HTTPAddr, "HTTP listen address")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC listen address (empty disables)")
	cmd.Flags().StringSliceVar(&opts.WatchDirs, "watch", nil, "Directories to watch for new movies")
	return cmd
}

func newSubmitCmd(root *Root) *cobra.Command {
	var (
		addr    string
		jobType string
		output  string
		follow  bool
	)
	cmd := &cobra.Command{
		Use:   "submit <movie_directory>",
		Short: "Submit a job to a running server over gRPC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()
			return root.submitRemote(cmd.Context(), grpcserver.NewClient(conn), jobType, args[0], output, follow)
		},
	}
	cmd.Flags().StringVar(&addr, "server", "localhost"+root.cfg.Server.GRPCAddr, "gRPC server address")
	cmd.Flags().StringVar(&jobType, "type", "correct", "Job type: correct, framewise, average, scan")
	cmd.Flags().StringVar(&output, "output", "", "Output directory on the server")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream progress until the job finishes")
	return cmd
}

type remoteClient interface {
	Submit(ctx context.Context, jobType, input, output string, options map[string]any) (string, error)
	WatchProgress(ctx context.Context, id string, fn func(map[string]any) error) error
}

func (r *Root) submitRemote(ctx context.Context, c remoteClient, jobType, input, output string, follow bool) error {
	abs, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	id, err := c.Submit(ctx, jobType, abs, output, map[string]any{"source": "cli"})
	if err != nil {
		return err
	}
	r.printf("submitted %s job %s\n", jobType, id)
	if !follow {
		return nil
	}
	err = c.WatchProgress(ctx, id, func(ev map[string]any) error {
		switch ev["kind"] {
		case "progress":
			if ev["stage"] == "pass" {
				r.printf("pass %v: aligned %v skipped %v confidence %.2f\n", ev["pass"], ev["aligned"], ev["skipped"], ev["mean_confidence"])
			}
		case "result":
			r.printf("job %s %v %v\n", id, ev["status"], valueOr(ev["error"], ""))
		}
		return nil
	})
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func valueOr(v any, def string) any {
	if v == nil {
		return def
	}
	return v
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := os.Getenv("MOTIONCOR_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/motioncor/config.json"
			}
			c := root.cfg
			root.printf("Config file: %s\n\n", cfgPath)
			root.printf("Database Path: %s\n", c.Paths.DatabasePath)
			root.printf("Default Output: %s\n", c.Paths.DefaultOutput)
			root.printf("Parallel Jobs: %d\n", c.Processing.ParallelJobs)
			root.printf("Log Level: %s (%s)\n", c.Logging.Level, c.Logging.Format)
			root.printf("\nMotion:\n")
			root.printf("  Passes: %d\n", c.Motion.Passes)
			root.printf("  Search radius: %g\n", c.Motion.SearchRadius)
			root.printf("  Crop fraction: %g (max box %d)\n", c.Motion.CropFraction, c.Motion.MaxBox)
			root.printf("  Filters: highpass %g coarse %g fine %g\n", c.Motion.HighPass, c.Motion.CoarseLowPass, c.Motion.FineLowPass)
			root.printf("  Align timeout: %s\n", c.Motion.AlignTimeout)
			root.printf("\nCorrection:\n")
			root.printf("  Default processor: %s\n", c.Correction.DefaultProcessor)
			root.printf("  Clamp sigma: %g\n", c.Correction.ClampSigma)
			root.printf("  Output format: %s\n", c.Correction.OutputFormat)
			root.printf("\nServer: http %s grpc %s\n", c.Server.HTTPAddr, c.Server.GRPCAddr)
			if len(c.Watch.Dirs) > 0 {
				root.printf("Watch: %s (settle %s)\n", strings.Join(c.Watch.Dirs, ", "), c.Watch.Settle)
			}
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := root.cfg.MotionOptions(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			root.printf("configuration is valid\n")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.printf("motioncor %s (%s)\n", version, runtime.Version())
		},
	}
}
